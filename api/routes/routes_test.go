package routes

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicolastakashi/opsdash/api/models"
	"github.com/nicolastakashi/opsdash/internal/dashboard"
)

type fixture struct {
	routes  *routes
	session *dashboard.Session
	view    *dashboard.View
	updates chan dashboard.Measurement
}

func history() dashboard.Querier {
	return dashboard.QuerierFunc{
		MetricsFunc: func(context.Context) ([]string, error) {
			return []string{"T1", "P1", "H1"}, nil
		},
		MeasurementsFunc: func(_ context.Context, reqs []dashboard.HistoryRequest) ([]dashboard.MetricBatch, error) {
			return []dashboard.MetricBatch{
				{Metric: "T1", Measurements: []dashboard.Measurement{{Metric: "T1", At: 1000, Value: 70, Unit: "F"}, {Metric: "T1", At: 2000, Value: 71, Unit: "F"}}},
				{Metric: "P1", Measurements: []dashboard.Measurement{{Metric: "P1", At: 1000, Value: 30, Unit: "PSI"}}},
				{Metric: "H1", Measurements: []dashboard.Measurement{{Metric: "H1", At: 1000, Value: 40, Unit: "%"}}},
			}, nil
		},
	}
}

func newFixture(t *testing.T, q dashboard.Querier, opts ...Option) *fixture {
	t.Helper()
	updates := make(chan dashboard.Measurement)
	sub := dashboard.SubscriberFunc(func(ctx context.Context, fn func(dashboard.Measurement)) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case m := <-updates:
				fn(m)
			}
		}
	})

	session := dashboard.NewSession(q, sub)
	view := dashboard.NewView(session, []string{"T1"})

	ctx, cancel := context.WithCancel(context.Background())
	sessionDone := make(chan struct{})
	viewDone := make(chan struct{})
	go func() { _ = session.Run(ctx); close(sessionDone) }()
	go func() { _ = view.Run(ctx); close(viewDone) }()
	t.Cleanup(func() {
		cancel()
		<-sessionDone
		<-viewDone
	})

	opts = append([]Option{
		WithSession(session),
		WithView(view),
		WithHandlers(prometheus.NewRegistry(), false),
	}, opts...)
	r, err := NewRoutes(opts...)
	require.NoError(t, err)

	return &fixture{routes: r, session: session, view: view, updates: updates}
}

func (f *fixture) waitReady(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		frame := f.view.Current()
		return frame != nil && frame.Status == dashboard.StatusReady
	}, 2*time.Second, 5*time.Millisecond)
}

func (f *fixture) do(method, target, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.routes.ServeHTTP(w, req)
	return w
}

func TestNewRoutes_RequiresSessionAndView(t *testing.T) {
	_, err := NewRoutes()
	assert.Error(t, err)

	session := dashboard.NewSession(history(), nil)
	_, err = NewRoutes(WithSession(session))
	assert.Error(t, err)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, history())
	f.waitReady(t)

	w := f.do(http.MethodGet, "/api/v1/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.MetricsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, models.MetricsResponse{Status: "ready", Metrics: []string{"T1", "P1", "H1"}}, resp)

	w = f.do(http.MethodPost, "/api/v1/metrics", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestSeries(t *testing.T) {
	f := newFixture(t, history())
	f.waitReady(t)

	w := f.do(http.MethodGet, "/api/v1/series", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.SeriesResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, []string{"T1"}, resp.Selection)
	require.Len(t, resp.Traces, 2)
	assert.Equal(t, "T1", resp.Traces[0].Name)
	assert.Len(t, resp.Traces[0].Y, 2)
	assert.Equal(t, "", resp.Traces[1].Name)
	assert.Equal(t, "#333", resp.Traces[1].Line.Color)
	assert.Equal(t, "PSI", resp.Layout.YAxis2.Title)
	version := resp.Version

	w = f.do(http.MethodGet, "/api/v1/series?selection=H1&selection=P1&selection=", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp = models.SeriesResponse{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Traces, 3)
	assert.Equal(t, "P1", resp.Traces[0].Name)
	assert.Equal(t, "y2", resp.Traces[0].YAxis)
	assert.Equal(t, "H1", resp.Traces[1].Name)
	assert.Equal(t, "y3", resp.Traces[1].YAxis)
	assert.Equal(t, "", resp.Traces[2].Name)
	assert.Equal(t, version, resp.Version)
}

func TestSeries_ETag(t *testing.T) {
	f := newFixture(t, history())
	f.waitReady(t)

	w := f.do(http.MethodGet, "/api/v1/series", "")
	require.Equal(t, http.StatusOK, w.Code)
	etag := w.Header().Get("ETag")
	require.True(t, strings.HasPrefix(etag, `W/"`), etag)

	w = f.do(http.MethodGet, "/api/v1/series", "", "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.Bytes())

	f.updates <- dashboard.Measurement{Metric: "T1", At: 3000, Value: 72, Unit: "F"}
	require.Eventually(t, func() bool {
		return len(f.view.Current().Series[0].Points) == 3
	}, 2*time.Second, 5*time.Millisecond)

	w = f.do(http.MethodGet, "/api/v1/series", "", "If-None-Match", etag)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, etag, w.Header().Get("ETag"))
}

func TestSelection(t *testing.T) {
	f := newFixture(t, history())
	f.waitReady(t)

	w := f.do(http.MethodGet, "/api/v1/selection", "")
	require.Equal(t, http.StatusOK, w.Code)
	var sel models.SelectionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&sel))
	assert.Equal(t, models.SelectionResponse{Selection: []string{"T1"}, Metrics: []string{"T1", "P1", "H1"}}, sel)

	w = f.do(http.MethodPut, "/api/v1/selection", `{"selection":["P1","","T1"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/api/v1/series", "")
	var resp models.SeriesResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Traces, 3)
	assert.Equal(t, "T1", resp.Traces[0].Name)
	assert.Equal(t, "P1", resp.Traces[1].Name)

	w = f.do(http.MethodPut, "/api/v1/selection", `{"selection":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLatest(t *testing.T) {
	f := newFixture(t, history())
	f.waitReady(t)

	f.updates <- dashboard.Measurement{Metric: "P1", At: 3000, Value: 31.5, Unit: "PSI"}
	require.Eventually(t, func() bool {
		m, _ := f.view.Current().Latest.Get("P1")
		return m.At == 3000
	}, 2*time.Second, 5*time.Millisecond)

	w := f.do(http.MethodGet, "/api/v1/latest", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.LatestResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Chips, 3)
	assert.Equal(t, "T1 0", resp.Chips[0].Label)
	assert.Equal(t, "P1 31.5 PSI", resp.Chips[1].Label)
}

// hasInk reports whether img has any non-white pixel.
func hasInk(img image.Image) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			if r != 0xffff || g != 0xffff || bl != 0xffff {
				return true
			}
		}
	}
	return false
}

func TestChart(t *testing.T) {
	f := newFixture(t, history())
	f.waitReady(t)

	w := f.do(http.MethodGet, "/api/v1/chart.png?width=300&height=150&selection=T1&selection=P1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	img, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, 300, img.Bounds().Dx())
	assert.True(t, hasInk(img))

	w = f.do(http.MethodGet, "/api/v1/chart.png?width=300&height=150&selection=P1&selection=H1", "")
	require.Equal(t, http.StatusOK, w.Code)
	img, err = png.Decode(w.Body)
	require.NoError(t, err)
	assert.True(t, hasInk(img), "pressure and humidity only chart must be drawn")

	w = f.do(http.MethodGet, "/api/v1/chart.png?width=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefreshAndReadiness(t *testing.T) {
	calls := make(chan struct{}, 10)
	failing := dashboard.QuerierFunc{
		MetricsFunc: func(context.Context) ([]string, error) {
			calls <- struct{}{}
			return nil, errors.New("history unavailable")
		},
	}
	f := newFixture(t, failing)
	<-calls
	require.Eventually(t, func() bool {
		return f.session.Current().Status == dashboard.StatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	w := f.do(http.MethodGet, "/-/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = f.do(http.MethodGet, "/api/v1/metrics", "")
	var resp models.MetricsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "failed", resp.Status)
	assert.Contains(t, resp.Error, "history unavailable")

	w = f.do(http.MethodPost, "/api/v1/refresh", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not trigger a new bootstrap")
	}

	w = f.do(http.MethodGet, "/-/healthy", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRefresh_AlreadyBootstrapped(t *testing.T) {
	f := newFixture(t, history())
	f.waitReady(t)

	w := f.do(http.MethodPost, "/api/v1/refresh", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestReady_ExtraChecks(t *testing.T) {
	live := false
	f := newFixture(t, history(), WithReadiness(func(context.Context) bool { return live }))
	f.waitReady(t)

	w := f.do(http.MethodGet, "/-/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	live = true
	w = f.do(http.MethodGet, "/-/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStream(t *testing.T) {
	f := newFixture(t, history(), WithKeepAlive(time.Hour))
	f.waitReady(t)

	srv := httptest.NewServer(f.routes)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	next := func() models.FrameEvent {
		t.Helper()
		var sawEvent bool
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimSpace(line)
			if line == "event: frame" {
				sawEvent = true
				continue
			}
			if sawEvent && strings.HasPrefix(line, "data: ") {
				var ev models.FrameEvent
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
				return ev
			}
		}
	}

	first := next()
	assert.Equal(t, "ready", first.Status)
	require.Len(t, first.Traces, 2)
	assert.Equal(t, "T1", first.Traces[0].Name)
	assert.Len(t, first.Chips, 3)

	f.updates <- dashboard.Measurement{Metric: "T1", At: 3000, Value: 72, Unit: "F"}
	second := next()
	assert.Greater(t, second.Version, first.Version)
	assert.Len(t, second.Traces[0].Y, 3)
	assert.Equal(t, "T1 72 F", second.Chips[0].Label)
}
