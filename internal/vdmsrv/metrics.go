package vdmsrv

import (
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IntelLabs/vdms-go/internal/wire"
)

// Metrics exports the server's request-level counters. Registration is
// per-instance (own Registry) so tests can construct multiple servers in
// one process.
type Metrics struct {
	registry *prometheus.Registry

	Batches        prometheus.Counter
	BlobsIn        prometheus.Counter
	BlobsOut       prometheus.Counter
	BatchDuration  prometheus.Histogram
	StoreAvailable prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vdms_batches_total", Help: "Command batches executed.",
		}),
		BlobsIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vdms_blobs_in_total", Help: "Blob attachments received.",
		}),
		BlobsOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vdms_blobs_out_total", Help: "Blob attachments returned.",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "vdms_batch_duration_seconds", Help: "End-to-end batch latency.",
			Buckets: prometheus.DefBuckets,
		}),
		StoreAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vdms_store_available_bytes", Help: "Free space under the store root.",
		}),
	}
	m.registry.MustRegister(m.Batches, m.BlobsIn, m.BlobsOut, m.BatchDuration, m.StoreAvailable)
	return m
}

func (m *Metrics) Observe(req, resp *wire.Frame, d time.Duration) {
	m.Batches.Inc()
	m.BlobsIn.Add(float64(len(req.Blobs)))
	m.BlobsOut.Add(float64(len(resp.Blobs)))
	m.BatchDuration.Observe(d.Seconds())
}

// ServeAdmin exposes /metrics on addr; it blocks, so callers run it on
// its own goroutine.
func (s *Server) ServeAdmin(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.stats.registry, promhttp.HandlerOpts{}))
	glog.Infof("admin listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		glog.Errorf("admin listener: %v", err)
	}
}
