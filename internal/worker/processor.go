package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/PaulBabatuyi/FileVault/internal/models"
	"github.com/PaulBabatuyi/FileVault/internal/storage"
	"go.uber.org/zap"
)

// Job asks for thumbnails of one stored file version.
type Job struct {
	FileID      string
	ContentHash string
}

// Store is the part of the registry the worker touches.
type Store interface {
	Get(id string) (*models.StoredFile, error)
	SetThumbnails(id, contentHash string, thumbs map[models.ThumbnailSize][]byte) error
}

// ResultRecorder receives one observation per finished job.
type ResultRecorder func(result string)

type WorkerConfig struct {
	Store           Store
	Logger          *zap.Logger
	QueueSize       int
	Workers         int
	ShutdownTimeout time.Duration
	OnResult        ResultRecorder
}

type ProcessingWorker struct {
	config    *WorkerConfig
	processor *ImageProcessor
	jobs      chan Job

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func NewProcessingWorker(config *WorkerConfig) *ProcessingWorker {
	if config.QueueSize <= 0 {
		config.QueueSize = 64
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.OnResult == nil {
		config.OnResult = func(string) {}
	}
	return &ProcessingWorker{
		config:    config,
		processor: NewImageProcessor(),
		jobs:      make(chan Job, config.QueueSize),
	}
}

func (pw *ProcessingWorker) Start(ctx context.Context) {
	for i := 0; i < pw.config.Workers; i++ {
		pw.wg.Add(1)
		go pw.run(ctx)
	}
	pw.config.Logger.Info("processing worker started", zap.Int("workers", pw.config.Workers))
}

// Enqueue schedules a job. It never blocks: when the queue is full or the
// worker is stopping the job is dropped and false is returned.
func (pw *ProcessingWorker) Enqueue(job Job) bool {
	pw.mu.RLock()
	defer pw.mu.RUnlock()

	if pw.stopped {
		return false
	}
	select {
	case pw.jobs <- job:
		return true
	default:
		pw.config.Logger.Warn("thumbnail queue full, dropping job", zap.String("file_id", job.FileID))
		pw.config.OnResult("dropped")
		return false
	}
}

// Stop closes the queue and waits for queued jobs up to ShutdownTimeout.
func (pw *ProcessingWorker) Stop() error {
	pw.mu.Lock()
	if pw.stopped {
		pw.mu.Unlock()
		return nil
	}
	pw.stopped = true
	close(pw.jobs)
	pw.mu.Unlock()

	done := make(chan struct{})
	go func() {
		pw.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		pw.config.Logger.Info("processing worker stopped")
		return nil
	case <-time.After(pw.config.ShutdownTimeout):
		return errors.New("processing worker: shutdown timed out")
	}
}

func (pw *ProcessingWorker) run(ctx context.Context) {
	defer pw.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-pw.jobs:
			if !ok {
				return
			}
			pw.config.OnResult(pw.process(job))
		}
	}
}

func (pw *ProcessingWorker) process(job Job) string {
	log := pw.config.Logger.With(zap.String("file_id", job.FileID))

	file, err := pw.config.Store.Get(job.FileID)
	if err != nil {
		log.Debug("file gone before processing", zap.Error(err))
		return "skipped"
	}
	if file.ContentHash != job.ContentHash {
		log.Debug("file content changed before processing")
		return "skipped"
	}
	if models.DeriveFileType(file.MimeType) != models.FileTypeImage {
		return "skipped"
	}

	start := time.Now()
	thumbs, width, height, err := pw.processor.ProcessImage(file.Bytes)
	if err != nil {
		log.Warn("image processing failed", zap.Error(err))
		return "failed"
	}

	if err := pw.config.Store.SetThumbnails(job.FileID, job.ContentHash, thumbs); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "skipped"
		}
		log.Error("failed to save thumbnails", zap.Error(err))
		return "failed"
	}

	log.Info("generated thumbnails",
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Duration("duration", time.Since(start)),
	)
	return "completed"
}
