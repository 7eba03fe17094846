package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/PaulBabatuyi/FileVault/internal/events"
	"github.com/PaulBabatuyi/FileVault/internal/models"
	"github.com/PaulBabatuyi/FileVault/internal/observability"
	"github.com/PaulBabatuyi/FileVault/internal/service"
	"github.com/PaulBabatuyi/FileVault/internal/storage"
	"github.com/PaulBabatuyi/FileVault/internal/worker"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Type
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingQueue struct {
	jobs []worker.Job
}

func (q *recordingQueue) Enqueue(job worker.Job) bool {
	q.jobs = append(q.jobs, job)
	return true
}

type fixture struct {
	svc     *service.FileService
	store   *storage.MemoryStorage
	metrics *observability.MetricsCollector
	pub     *recordingPublisher
	queue   *recordingQueue
}

func setupService(t *testing.T, maxSize int64) *fixture {
	t.Helper()

	store := storage.NewMemoryStorage(maxSize)
	metrics, err := observability.InitMetrics(func() (int, int64) {
		st := store.Stats()
		return st.Files, st.Bytes
	})
	require.NoError(t, err)

	f := &fixture{store: store, metrics: metrics, pub: &recordingPublisher{}, queue: &recordingQueue{}}
	f.svc, err = service.NewFileService(store, service.Options{
		Logger:            zaptest.NewLogger(t),
		Metrics:           metrics,
		Publisher:         f.pub,
		Thumbnails:        f.queue,
		UploadConcurrency: 2,
	})
	require.NoError(t, err)
	return f
}

func TestUploadListDownloadDelete(t *testing.T) {
	f := setupService(t, 0)
	ctx := context.Background()

	meta, err := f.svc.UploadFile(ctx, service.UploadRequest{Name: "a.txt", MimeType: "text/plain", Content: []byte("hello")})
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", meta.ContentHash)

	files := f.svc.ListFiles(ctx)
	require.Len(t, files, 1)
	assert.Equal(t, meta.ID, files[0].ID)

	file, err := f.svc.GetFile(ctx, meta.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), file.Bytes)

	require.NoError(t, f.svc.DeleteFile(ctx, meta.ID))
	assert.ErrorIs(t, f.svc.DeleteFile(ctx, meta.ID), storage.ErrNotFound)

	_, err = f.svc.GetFile(ctx, meta.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.Equal(t, []events.Type{events.FileUploaded, events.FileDeleted}, f.pub.types())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Uploads.WithLabelValues("stored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Deletes))
	assert.Empty(t, f.queue.jobs, "text uploads are not queued for thumbnails")
}

func TestUploadDuplicate(t *testing.T) {
	f := setupService(t, 0)
	ctx := context.Background()

	first, err := f.svc.UploadFile(ctx, service.UploadRequest{Name: "a.txt", MimeType: "text/plain", Content: []byte("hello")})
	require.NoError(t, err)

	_, err = f.svc.UploadFile(ctx, service.UploadRequest{Name: "b.txt", MimeType: "text/plain", Content: []byte("hello")})
	var dup *storage.DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.Existing.ID)

	assert.Len(t, f.svc.ListFiles(ctx), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Uploads.WithLabelValues("duplicate")))
	assert.Equal(t, []events.Type{events.FileUploaded}, f.pub.types())
}

func TestUploadTooLarge(t *testing.T) {
	f := setupService(t, 4)

	_, err := f.svc.UploadFile(context.Background(), service.UploadRequest{Name: "big", Content: []byte("12345")})
	assert.ErrorIs(t, err, storage.ErrPayloadTooLarge)
	assert.Equal(t, int64(4), f.svc.MaxUploadBytes())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Uploads.WithLabelValues("too_large")))
	assert.Empty(t, f.store.List())
}

func TestUploadSniffsMissingContentType(t *testing.T) {
	f := setupService(t, 0)

	meta, err := f.svc.UploadFile(context.Background(), service.UploadRequest{Name: "page", Content: []byte("<html><body>hi</body></html>")})
	require.NoError(t, err)
	assert.Equal(t, "text/html; charset=utf-8", meta.MimeType)

	// a declared type is kept even when it looks wrong
	meta, err = f.svc.UploadFile(context.Background(), service.UploadRequest{Name: "x.png", MimeType: "image/png", Content: []byte("plain words")})
	require.NoError(t, err)
	assert.Equal(t, "image/png", meta.MimeType)
}

func TestImageUploadQueuesThumbnails(t *testing.T) {
	f := setupService(t, 0)

	meta, err := f.svc.UploadFile(context.Background(), service.UploadRequest{Name: "p.png", MimeType: "image/png", Content: []byte("\x89PNG\r\n\x1a\n")})
	require.NoError(t, err)

	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, worker.Job{FileID: meta.ID, ContentHash: meta.ContentHash}, f.queue.jobs[0])
}

func TestReplaceFile(t *testing.T) {
	f := setupService(t, 0)
	ctx := context.Background()

	a, err := f.svc.UploadFile(ctx, service.UploadRequest{Name: "a.txt", MimeType: "text/plain", Content: []byte("alpha")})
	require.NoError(t, err)
	b, err := f.svc.UploadFile(ctx, service.UploadRequest{Name: "b.txt", MimeType: "text/plain", Content: []byte("beta")})
	require.NoError(t, err)

	replaced, err := f.svc.ReplaceFile(ctx, a.ID, service.UploadRequest{Name: "a2.txt", MimeType: "text/plain", Content: []byte("gamma")})
	require.NoError(t, err)
	assert.Equal(t, a.ID, replaced.ID)

	_, err = f.svc.ReplaceFile(ctx, a.ID, service.UploadRequest{Name: "a3.txt", Content: []byte("beta")})
	var dup *storage.DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, b.ID, dup.Existing.ID)

	_, err = f.svc.ReplaceFile(ctx, "missing", service.UploadRequest{Name: "x", Content: []byte("x")})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.Equal(t, []events.Type{events.FileUploaded, events.FileUploaded, events.FileReplaced}, f.pub.types())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Uploads.WithLabelValues("replaced")))
}

func TestThumbnailLookup(t *testing.T) {
	f := setupService(t, 0)
	ctx := context.Background()

	meta, err := f.svc.UploadFile(ctx, service.UploadRequest{Name: "p.png", MimeType: "image/png", Content: []byte("img")})
	require.NoError(t, err)

	_, err = f.svc.GetThumbnail(ctx, meta.ID, models.ThumbnailSmall)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, f.store.SetThumbnails(meta.ID, meta.ContentHash, map[models.ThumbnailSize][]byte{
		models.ThumbnailSmall: []byte("jpeg"),
	}))
	data, err := f.svc.GetThumbnail(ctx, meta.ID, models.ThumbnailSmall)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)
}

func TestUploadSlots(t *testing.T) {
	f := setupService(t, 0)
	ctx := context.Background()

	release1, err := f.svc.AcquireUploadSlot(ctx)
	require.NoError(t, err)
	release2, err := f.svc.AcquireUploadSlot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.UploadsInProgress))

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = f.svc.AcquireUploadSlot(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release1()
	release3, err := f.svc.AcquireUploadSlot(ctx)
	require.NoError(t, err)

	release2()
	release3()
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.UploadsInProgress))
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		name     string
		content  []byte
		declared string
		wantErr  bool
	}{
		{"exact", []byte("\x89PNG\r\n\x1a\n"), "image/png", false},
		{"same family", []byte("\x89PNG\r\n\x1a\n"), "image/webp", false},
		{"text with params", []byte("hello"), "text/plain; charset=utf-8", false},
		{"json as text", []byte(`{"a":1}`), "application/json", false},
		{"unknown binary", []byte{0x00, 0x01, 0x02, 0x03}, "application/zip", false},
		{"text claimed as image", []byte("hello"), "image/png", true},
		{"png claimed as text", []byte("\x89PNG\r\n\x1a\n"), "text/plain", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := service.ValidateContentType(tt.content, tt.declared)
			if tt.wantErr {
				assert.ErrorContains(t, err, "content type mismatch")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStoreGauges(t *testing.T) {
	f := setupService(t, 0)

	_, err := f.svc.UploadFile(context.Background(), service.UploadRequest{Name: "a", Content: []byte("abc")})
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(f.metrics.Registry(), "filevault_stored_files", "filevault_stored_bytes")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
