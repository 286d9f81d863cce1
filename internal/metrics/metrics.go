// Package metrics exposes Prometheus metrics for trackprobe.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/agleyzer/trackprobe/internal/manifest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors on a private registry.
type Metrics struct {
	registry          *prometheus.Registry
	requestsTotal     *prometheus.CounterVec
	errorsTotal       prometheus.Counter
	requestDuration   *prometheus.HistogramVec
	probesTotal       *prometheus.CounterVec
	videoTracksParsed prometheus.Counter
	sources           prometheus.Gauge
}

// New creates and registers trackprobe's metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trackprobe_http_requests_total",
			Help: "Total number of HTTP requests received",
		}, []string{"method", "status"}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackprobe_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trackprobe_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		probesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trackprobe_probes_total",
			Help: "Total number of playlist probes by result",
		}, []string{"result"}),
		videoTracksParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackprobe_video_tracks_parsed_total",
			Help: "Total number of video tracks extracted from probed playlists",
		}),
		sources: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trackprobe_sources",
			Help: "Number of sources in the catalog",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.requestDuration,
		m.probesTotal,
		m.videoTracksParsed,
		m.sources,
	)

	return m
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method string, status int, seconds float64) {
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(seconds)
	if status >= 400 {
		m.errorsTotal.Inc()
	}
}

// ObserveProbe records the outcome of a playlist fetch. Its signature
// matches catalog.ProbeHook.
func (m *Metrics) ObserveProbe(man *manifest.Manifest, err error) {
	if err != nil {
		m.probesTotal.WithLabelValues("error").Inc()
		return
	}
	if man.IsMaster {
		m.probesTotal.WithLabelValues("master").Inc()
	} else {
		m.probesTotal.WithLabelValues("media").Inc()
	}
	m.videoTracksParsed.Add(float64(len(man.VideoTracks)))
}

// SetSources sets the catalog size gauge.
func (m *Metrics) SetSources(n int) {
	m.sources.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}
