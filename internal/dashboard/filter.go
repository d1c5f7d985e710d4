package dashboard

// Filter returns the series whose names appear in selection, in collection
// order, followed by a new Placeholder. Empty selection entries are unset slots
// and never match. The input is not modified and the result is always a new
// slice.
func Filter(series Collection, selection []string) []*Series {
	selected := make(map[string]struct{}, len(selection))
	for _, name := range selection {
		if name == "" {
			continue
		}
		selected[name] = struct{}{}
	}

	out := make([]*Series, 0, len(selected)+1)
	for _, s := range series {
		if _, ok := selected[s.Name]; ok {
			out = append(out, s)
		}
	}
	return append(out, Placeholder())
}
