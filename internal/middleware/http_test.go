package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mw("first"), mw("second"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"first", "second", "handler"}, order)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "given-id")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "given-id", seen)
	assert.Equal(t, "given-id", rec.Header().Get(RequestIDHeader))
}

func TestLoggingLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	for _, code := range []int{http.StatusOK, http.StatusNotFound, http.StatusInternalServerError} {
		h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}), RequestID, Logging(logger))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/files", nil))
	}

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "info", entries[0].Level.String())
	assert.Equal(t, "warn", entries[1].Level.String())
	assert.Equal(t, "error", entries[2].Level.String())
	assert.Equal(t, int64(404), entries[1].ContextMap()["status"])
	assert.Equal(t, "/api/files", entries[0].ContextMap()["path"])
	assert.NotEmpty(t, entries[0].ContextMap()["request_id"])
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	h := Recovery(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
	assert.Equal(t, 1, logs.FilterMessage("panic in handler").Len())
}

func TestMetrics(t *testing.T) {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "req"}, []string{"route", "method", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "dur"}, []string{"route", "method"})

	h := Metrics("GET /api/files/{id}/download", requests, duration)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/files/x/download", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(requests.WithLabelValues("GET /api/files/{id}/download", "GET", "404")))
	assert.Equal(t, 1, testutil.CollectAndCount(duration))
}

func TestUnaryLoggingInterceptor(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	interceptor := UnaryLoggingInterceptor(zap.New(core))
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-request-id", "rid"))
	_, err := interceptor(ctx, nil, info, func(context.Context, interface{}) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	_, err = interceptor(ctx, nil, info, func(context.Context, interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "unknown service")
	})
	require.Error(t, err)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "debug", entries[0].Level.String())
	assert.Equal(t, "rid", entries[0].ContextMap()["request_id"])
	assert.Equal(t, "error", entries[1].Level.String())
	assert.Equal(t, "NotFound", entries[1].ContextMap()["code"])
}
