package service

import (
	"time"

	"github.com/PaulBabatuyi/FileVault/internal/events"
	"github.com/PaulBabatuyi/FileVault/internal/observability"
	"github.com/PaulBabatuyi/FileVault/internal/storage"
	"github.com/PaulBabatuyi/FileVault/internal/worker"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

type FileService struct {
	storage    storage.StorageInterface
	logger     *zap.Logger
	tracer     trace.Tracer
	metrics    *observability.MetricsCollector
	publisher  EventPublisher
	thumbnails ThumbnailQueue
	uploadSem  *semaphore.Weighted
	now        func() time.Time
}

// EventPublisher receives registry change notifications.
type EventPublisher interface {
	Publish(e events.Event)
}

// ThumbnailQueue schedules preview generation for image uploads.
type ThumbnailQueue interface {
	Enqueue(job worker.Job) bool
}

type Options struct {
	Logger            *zap.Logger
	Metrics           *observability.MetricsCollector
	Publisher         EventPublisher
	Thumbnails        ThumbnailQueue
	UploadConcurrency int64
}

type nopPublisher struct{}

func (nopPublisher) Publish(events.Event) {}

type nopQueue struct{}

func (nopQueue) Enqueue(worker.Job) bool { return false }
