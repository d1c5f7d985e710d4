package routes

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/nicolastakashi/opsdash/api/models"
	"github.com/nicolastakashi/opsdash/internal/dashboard"
	"github.com/nicolastakashi/opsdash/internal/render"
)

func (r *routes) metrics(w http.ResponseWriter, req *http.Request) {
	snap := r.session.Current()
	resp := models.MetricsResponse{
		Status:  string(snap.Status),
		Metrics: snap.Metrics,
	}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	if resp.Metrics == nil {
		resp.Metrics = []string{}
	}
	writeJSONResponse(req, w, resp)
}

// frameFor returns the operator's frame, or one filtered with the selection
// given in the query string.
func (r *routes) frameFor(req *http.Request) *dashboard.Frame {
	selection, ok := req.URL.Query()["selection"]
	if !ok {
		return r.view.Current()
	}
	return r.view.FrameFor(selection)
}

func (r *routes) series(w http.ResponseWriter, req *http.Request) {
	frame := r.frameFor(req)
	selection := frame.Selection
	if selection == nil {
		selection = []string{}
	}
	body, err := json.Marshal(models.SeriesResponse{
		Version:   frame.Version,
		Status:    string(frame.Status),
		Selection: selection,
		Traces:    render.Traces(frame.Series),
		Layout:    render.NewLayout(),
	})
	if err != nil {
		writeErrorResponse(req, w, fmt.Errorf("failed to encode response: %w", err), http.StatusInternalServerError)
		return
	}

	etag := `W/"` + strconv.FormatUint(xxhash.Sum64(body), 16) + `"`
	w.Header().Set("ETag", etag)
	if req.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (r *routes) latest(w http.ResponseWriter, req *http.Request) {
	frame := r.view.Current()
	writeJSONResponse(req, w, models.LatestResponse{
		Version: frame.Version,
		Status:  string(frame.Status),
		Chips:   render.Chips(frame.Latest),
	})
}

func (r *routes) selection(w http.ResponseWriter, req *http.Request) {
	metrics := r.session.Current().Metrics
	if metrics == nil {
		metrics = []string{}
	}
	writeJSONResponse(req, w, models.SelectionResponse{
		Selection: nonNil(r.view.Selection()),
		Metrics:   metrics,
	})
}

func (r *routes) setSelection(w http.ResponseWriter, req *http.Request) {
	var body models.SelectionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, 1<<20)).Decode(&body); err != nil {
		writeErrorResponse(req, w, fmt.Errorf("invalid selection: %w", err), http.StatusBadRequest)
		return
	}
	frame := r.view.SetSelection(body.Selection)
	writeJSONResponse(req, w, models.SelectionResponse{
		Selection: nonNil(frame.Selection),
		Metrics:   frame.Metrics,
	})
}

func (r *routes) chart(w http.ResponseWriter, req *http.Request) {
	width, err := getQueryParamAsInt(req, "width", render.DefaultWidth)
	if err != nil || width <= 0 || width > 4096 {
		writeErrorResponse(req, w, fmt.Errorf("invalid width parameter"), http.StatusBadRequest)
		return
	}
	height, err := getQueryParamAsInt(req, "height", render.DefaultHeight)
	if err != nil || height <= 0 || height > 4096 {
		writeErrorResponse(req, w, fmt.Errorf("invalid height parameter"), http.StatusBadRequest)
		return
	}

	var buf bytes.Buffer
	if err := render.PNG(&buf, r.frameFor(req).Series, width, height); err != nil {
		writeErrorResponse(req, w, fmt.Errorf("unable to render chart: %w", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = buf.WriteTo(w)
}

func (r *routes) refresh(w http.ResponseWriter, req *http.Request) {
	err := r.session.Refresh()
	switch {
	case errors.Is(err, dashboard.ErrAlreadyBootstrapped):
		writeErrorResponse(req, w, err, http.StatusConflict)
	case errors.Is(err, dashboard.ErrSessionClosed):
		writeErrorResponse(req, w, err, http.StatusServiceUnavailable)
	case err != nil:
		writeErrorResponse(req, w, err, http.StatusInternalServerError)
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		writeJSONResponse(req, w, models.RefreshResponse{Status: "accepted"})
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
