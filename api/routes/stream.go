package routes

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nicolastakashi/opsdash/api/models"
	"github.com/nicolastakashi/opsdash/internal/dashboard"
	"github.com/nicolastakashi/opsdash/internal/render"
)

func frameEvent(f *dashboard.Frame) models.FrameEvent {
	return models.FrameEvent{
		Version:   f.Version,
		Status:    string(f.Status),
		Selection: nonNil(f.Selection),
		Traces:    render.Traces(f.Series),
		Chips:     render.Chips(f.Latest),
	}
}

// stream sends every frame published by the view as a server-sent event. A
// slow client skips intermediate frames and always receives the newest one.
func (r *routes) stream(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorResponse(req, w, fmt.Errorf("streaming unsupported"), http.StatusInternalServerError)
		return
	}

	frames, cancel := r.view.Frames()
	defer cancel()
	r.streamClients.Inc()
	defer r.streamClients.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(r.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-req.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case f, ok := <-frames:
			if !ok {
				return
			}
			data, err := json.Marshal(frameEvent(f))
			if err != nil {
				slog.Error("failed to encode frame", "err", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: frame\ndata: %s\n\n", f.Version, data); err != nil {
				slog.Debug("stream client went away", "err", err)
				return
			}
			flusher.Flush()
		}
	}
}
