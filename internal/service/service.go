package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PaulBabatuyi/FileVault/internal/events"
	"github.com/PaulBabatuyi/FileVault/internal/models"
	"github.com/PaulBabatuyi/FileVault/internal/observability"
	"github.com/PaulBabatuyi/FileVault/internal/storage"
	"github.com/PaulBabatuyi/FileVault/internal/worker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// UploadRequest carries one received file. Content is copied by the store.
type UploadRequest struct {
	Name     string
	MimeType string
	Content  []byte
}

func NewFileService(store storage.StorageInterface, opts Options) (*FileService, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		mc, err := observability.InitMetrics(nil)
		if err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
		opts.Metrics = mc
	}
	if opts.Publisher == nil {
		opts.Publisher = nopPublisher{}
	}
	if opts.Thumbnails == nil {
		opts.Thumbnails = nopQueue{}
	}
	if opts.UploadConcurrency <= 0 {
		opts.UploadConcurrency = 8
	}

	return &FileService{
		storage:    store,
		logger:     opts.Logger,
		tracer:     otel.Tracer(observability.TracerName),
		metrics:    opts.Metrics,
		publisher:  opts.Publisher,
		thumbnails: opts.Thumbnails,
		uploadSem:  semaphore.NewWeighted(opts.UploadConcurrency),
		now:        time.Now,
	}, nil
}

// MaxUploadBytes is the largest file the store accepts.
func (s *FileService) MaxUploadBytes() int64 {
	return s.storage.MaxSize()
}

// AcquireUploadSlot blocks until an upload slot is free or ctx is done.
// Transports call it before buffering a request body so that at most
// UploadConcurrency bodies are held in memory at once.
func (s *FileService) AcquireUploadSlot(ctx context.Context) (release func(), err error) {
	if err := s.uploadSem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire upload slot: %w", err)
	}
	s.metrics.UploadsInProgress.Inc()
	return func() {
		s.metrics.UploadsInProgress.Dec()
		s.uploadSem.Release(1)
	}, nil
}

func (s *FileService) UploadFile(ctx context.Context, req UploadRequest) (models.FileMetadata, error) {
	ctx, span := s.tracer.Start(ctx, "FileService.UploadFile", trace.WithAttributes(
		attribute.String("file.name", req.Name),
		attribute.Int("file.size", len(req.Content)),
	))
	defer span.End()

	mimeType := s.resolveContentType(ctx, req)

	meta, err := s.storage.Insert(req.Name, mimeType, req.Content)
	if err != nil {
		s.recordUploadError(span, err)
		return models.FileMetadata{}, err
	}

	s.metrics.Uploads.WithLabelValues("stored").Inc()
	span.SetAttributes(attribute.String("file.id", meta.ID), attribute.String("file.hash", meta.ContentHash))
	s.logger.Info("file stored",
		zap.String("file_id", meta.ID),
		zap.String("filename", meta.Name),
		zap.Int64("size", meta.Size),
		zap.String("hash", meta.ContentHash),
	)

	s.afterWrite(events.FileUploaded, meta)
	return meta, nil
}

// ReplaceFile swaps the content of an existing record, keeping its id.
func (s *FileService) ReplaceFile(ctx context.Context, id string, req UploadRequest) (models.FileMetadata, error) {
	ctx, span := s.tracer.Start(ctx, "FileService.ReplaceFile", trace.WithAttributes(
		attribute.String("file.id", id),
		attribute.Int("file.size", len(req.Content)),
	))
	defer span.End()

	mimeType := s.resolveContentType(ctx, req)

	meta, err := s.storage.Replace(id, req.Name, mimeType, req.Content)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.recordUploadError(span, err)
		}
		return models.FileMetadata{}, err
	}

	s.metrics.Uploads.WithLabelValues("replaced").Inc()
	s.logger.Info("file replaced",
		zap.String("file_id", meta.ID),
		zap.String("filename", meta.Name),
		zap.Int64("size", meta.Size),
	)

	s.afterWrite(events.FileReplaced, meta)
	return meta, nil
}

func (s *FileService) ListFiles(ctx context.Context) []models.FileMetadata {
	_, span := s.tracer.Start(ctx, "FileService.ListFiles")
	defer span.End()

	files := s.storage.List()
	span.SetAttributes(attribute.Int("files.count", len(files)))
	return files
}

func (s *FileService) GetFile(ctx context.Context, id string) (*models.StoredFile, error) {
	_, span := s.tracer.Start(ctx, "FileService.GetFile", trace.WithAttributes(attribute.String("file.id", id)))
	defer span.End()

	file, err := s.storage.Get(id)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return file, nil
}

func (s *FileService) DeleteFile(ctx context.Context, id string) error {
	_, span := s.tracer.Start(ctx, "FileService.DeleteFile", trace.WithAttributes(attribute.String("file.id", id)))
	defer span.End()

	// Fetch first so the event can describe what was removed.
	file, err := s.storage.Get(id)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := s.storage.Delete(id); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.metrics.Deletes.Inc()
	s.logger.Info("file deleted", zap.String("file_id", id), zap.String("filename", file.Name))
	s.publisher.Publish(events.NewEvent(events.FileDeleted, file.Metadata(), s.now()))
	return nil
}

func (s *FileService) GetThumbnail(ctx context.Context, id string, size models.ThumbnailSize) ([]byte, error) {
	_, span := s.tracer.Start(ctx, "FileService.GetThumbnail", trace.WithAttributes(
		attribute.String("file.id", id),
		attribute.String("thumbnail.size", string(size)),
	))
	defer span.End()

	return s.storage.Thumbnail(id, size)
}

func (s *FileService) afterWrite(t events.Type, meta models.FileMetadata) {
	s.publisher.Publish(events.NewEvent(t, meta, s.now()))

	if models.DeriveFileType(meta.MimeType) == models.FileTypeImage {
		s.thumbnails.Enqueue(worker.Job{FileID: meta.ID, ContentHash: meta.ContentHash})
	}
}

func (s *FileService) recordUploadError(span trace.Span, err error) {
	var dup *storage.DuplicateError
	switch {
	case errors.As(err, &dup):
		s.metrics.Uploads.WithLabelValues("duplicate").Inc()
		span.SetAttributes(attribute.String("file.duplicate_of", dup.Existing.ID))
		s.logger.Info("duplicate upload rejected", zap.String("existing_id", dup.Existing.ID))
	case errors.Is(err, storage.ErrPayloadTooLarge):
		s.metrics.Uploads.WithLabelValues("too_large").Inc()
	default:
		s.metrics.Uploads.WithLabelValues("error").Inc()
		s.logger.Error("upload failed", zap.Error(err))
	}
	span.SetStatus(codes.Error, err.Error())
}

func (s *FileService) resolveContentType(ctx context.Context, req UploadRequest) string {
	if req.MimeType == "" {
		return DetectContentType(req.Content)
	}
	if err := ValidateContentType(req.Content, req.MimeType); err != nil {
		// The declared type is kept; it is display data only.
		trace.SpanFromContext(ctx).AddEvent("content type mismatch")
		s.logger.Debug("declared content type differs from sniffed type",
			zap.String("filename", req.Name),
			zap.Error(err),
		)
	}
	return req.MimeType
}
