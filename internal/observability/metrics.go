package observability

import (
	"net/http"

	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "filevault"

// StatsFunc reports the current registry size for the store gauges.
type StatsFunc func() (files int, bytes int64)

// MetricsCollector owns every prometheus collector the service exports.
type MetricsCollector struct {
	registry      *prometheus.Registry
	serverMetrics *grpcprom.ServerMetrics

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	Uploads           *prometheus.CounterVec
	Deletes           prometheus.Counter
	ThumbnailJobs     *prometheus.CounterVec
	UploadsInProgress prometheus.Gauge
}

// InitMetrics builds the collectors on a private registry so that several
// collectors can coexist in one process (tests construct many).
func InitMetrics(stats StatsFunc) (*MetricsCollector, error) {
	reg := prometheus.NewRegistry()

	serverMetrics := grpcprom.NewServerMetrics(
		grpcprom.WithServerHandlingTimeHistogram(
			grpcprom.WithHistogramBuckets([]float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10}),
		),
	)

	mc := &MetricsCollector{
		registry:      reg,
		serverMetrics: serverMetrics,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10},
		}, []string{"route", "method"}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload attempts by outcome (stored, replaced, duplicate, too_large, error).",
		}, []string{"outcome"}),
		Deletes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletes_total",
			Help:      "Files removed from the registry.",
		}),
		ThumbnailJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thumbnail_jobs_total",
			Help:      "Thumbnail jobs by result (completed, failed, skipped, dropped).",
		}, []string{"result"}),
		UploadsInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uploads_in_progress",
			Help:      "Uploads currently holding a concurrency slot.",
		}),
	}

	collectorsToRegister := []prometheus.Collector{
		serverMetrics,
		mc.HTTPRequests,
		mc.HTTPDuration,
		mc.Uploads,
		mc.Deletes,
		mc.ThumbnailJobs,
		mc.UploadsInProgress,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}

	if stats != nil {
		collectorsToRegister = append(collectorsToRegister,
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stored_files",
				Help:      "Records currently held in the registry.",
			}, func() float64 {
				files, _ := stats()
				return float64(files)
			}),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stored_bytes",
				Help:      "Total content bytes currently held in the registry.",
			}, func() float64 {
				_, bytes := stats()
				return float64(bytes)
			}),
		)
	}

	for _, c := range collectorsToRegister {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return mc, nil
}

// GetServerMetrics returns the gRPC server metrics
func (mc *MetricsCollector) GetServerMetrics() *grpcprom.ServerMetrics {
	return mc.serverMetrics
}

// Registry exposes the underlying registry, mainly for tests.
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	return mc.registry
}

// GetHandler returns the HTTP handler for /metrics endpoint
func (mc *MetricsCollector) GetHandler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{Registry: mc.registry})
}
