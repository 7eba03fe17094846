package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap/zaptest"
)

func TestInitLogger(t *testing.T) {
	for _, dev := range []bool{true, false} {
		logger, err := InitLogger(dev)
		require.NoError(t, err)
		assert.Equal(t, "filevault", logger.Name())
		assert.Equal(t, dev, logger.Core().Enabled(-1), "debug enabled only in dev")
	}
}

func TestInitMetricsIsolated(t *testing.T) {
	first, err := InitMetrics(nil)
	require.NoError(t, err)
	second, err := InitMetrics(nil)
	require.NoError(t, err, "private registries must not collide")

	first.Deletes.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(first.Deletes))
	assert.Equal(t, 0.0, testutil.ToFloat64(second.Deletes))
}

func TestMetricsHandler(t *testing.T) {
	mc, err := InitMetrics(func() (int, int64) { return 3, 1536 })
	require.NoError(t, err)

	mc.Uploads.WithLabelValues("stored").Inc()
	mc.ThumbnailJobs.WithLabelValues("completed").Add(2)

	rec := httptest.NewRecorder()
	mc.GetHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "filevault_stored_files 3")
	assert.Contains(t, text, "filevault_stored_bytes 1536")
	assert.Contains(t, text, `filevault_uploads_total{outcome="stored"} 1`)
	assert.Contains(t, text, `filevault_thumbnail_jobs_total{result="completed"} 2`)
	assert.Contains(t, text, "go_goroutines")
}

func TestTracerProvider(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	tp, err := InitTracerProvider(ctx, false, logger)
	require.NoError(t, err)
	defer ShutdownTracerProvider(ctx, tp, logger)

	assert.Same(t, tp, otel.GetTracerProvider())

	_, span := otel.Tracer(TracerName).Start(ctx, "op")
	assert.False(t, span.SpanContext().IsSampled(), "disabled tracing never samples")
	span.End()
}
