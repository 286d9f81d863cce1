package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agleyzer/trackprobe/internal/manifest"
	"github.com/agleyzer/trackprobe/internal/track"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveProbe(t *testing.T) {
	m := New()

	m.ObserveProbe(&manifest.Manifest{
		IsMaster:    true,
		VideoTracks: []track.VideoTrack{{ID: "a"}, {ID: "b"}},
	}, nil)
	m.ObserveProbe(&manifest.Manifest{IsMaster: false}, nil)
	m.ObserveProbe(nil, errors.New("boom"))

	if got := testutil.ToFloat64(m.probesTotal.WithLabelValues("master")); got != 1 {
		t.Errorf("master probes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.probesTotal.WithLabelValues("media")); got != 1 {
		t.Errorf("media probes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.probesTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("error probes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.videoTracksParsed); got != 2 {
		t.Errorf("video tracks parsed = %v, want 2", got)
	}
}

func TestObserveRequest(t *testing.T) {
	m := New()

	m.ObserveRequest(http.MethodGet, http.StatusOK, 0.01)
	m.ObserveRequest(http.MethodGet, http.StatusNotFound, 0.01)
	m.ObserveRequest(http.MethodPost, http.StatusInternalServerError, 0.02)

	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "200")); got != 1 {
		t.Errorf("GET 200 requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.errorsTotal); got != 2 {
		t.Errorf("errors = %v, want 2", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()

	called := false
	h := m.Handler(func() {
		called = true
		m.SetSources(3)
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if !called {
		t.Error("Expected gauge update callback to run")
	}

	body, _ := io.ReadAll(w.Result().Body)
	if !strings.Contains(string(body), "trackprobe_sources 3") {
		t.Errorf("Expected trackprobe_sources gauge in output, got:\n%s", body)
	}
}
