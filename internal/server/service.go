package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/PaulBabatuyi/FileVault/internal/middleware"
	"github.com/PaulBabatuyi/FileVault/internal/models"
	"github.com/PaulBabatuyi/FileVault/internal/observability"
	"github.com/PaulBabatuyi/FileVault/internal/service"
	"github.com/PaulBabatuyi/FileVault/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// uploadField is the multipart form field that carries the file.
const uploadField = "file"

// multipartOverhead is the allowance for boundaries and part headers on top of the file itself.
const multipartOverhead = 1 << 20

var (
	errNoFile        = errors.New("no file uploaded")
	errMalformedForm = errors.New("malformed multipart request")
)

// FileService is what the HTTP layer needs from the service layer.
type FileService interface {
	AcquireUploadSlot(ctx context.Context) (func(), error)
	MaxUploadBytes() int64
	UploadFile(ctx context.Context, req service.UploadRequest) (models.FileMetadata, error)
	ReplaceFile(ctx context.Context, id string, req service.UploadRequest) (models.FileMetadata, error)
	ListFiles(ctx context.Context) []models.FileMetadata
	GetFile(ctx context.Context, id string) (*models.StoredFile, error)
	DeleteFile(ctx context.Context, id string) error
	GetThumbnail(ctx context.Context, id string, size models.ThumbnailSize) ([]byte, error)
}

type Options struct {
	Logger         *zap.Logger
	Metrics        *observability.MetricsCollector
	Events         http.Handler
	StaticDir      string
	TracerProvider trace.TracerProvider
}

type fileServer struct {
	files     FileService
	logger    *zap.Logger
	metrics   *observability.MetricsCollector
	events    http.Handler
	staticDir string
	tp        trace.TracerProvider
}

func NewFileServer(files FileService, opts Options) *fileServer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &fileServer{
		files:     files,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		events:    opts.Events,
		staticDir: opts.StaticDir,
		tp:        opts.TracerProvider,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *fileServer) Handler() http.Handler {
	mux := http.NewServeMux()

	s.handle(mux, "GET /api/files", s.ListFiles)
	s.handle(mux, "POST /api/upload", s.UploadFile)
	s.handle(mux, "PUT /api/files/{id}", s.ReplaceFile)
	s.handle(mux, "DELETE /api/files/{id}", s.DeleteFile)
	s.handle(mux, "GET /api/files/{id}/download", s.DownloadFile)
	s.handle(mux, "GET /api/files/{id}/thumbnail", s.GetThumbnail)
	if s.events != nil {
		s.handle(mux, "GET /api/events", s.events.ServeHTTP)
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.GetHandler())
	}
	if s.staticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(s.staticDir)))
	}

	h := middleware.Chain(mux,
		middleware.RequestID,
		middleware.Logging(s.logger),
		middleware.Recovery(s.logger),
	)

	otelOpts := []otelhttp.Option{
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	}
	if s.tp != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(s.tp))
	}
	return otelhttp.NewHandler(h, "filevault.http", otelOpts...)
}

func (s *fileServer) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	var handler http.Handler = h
	if s.metrics != nil {
		handler = middleware.Metrics(pattern, s.metrics.HTTPRequests, s.metrics.HTTPDuration)(handler)
	}
	mux.Handle(pattern, handler)
}

func (s *fileServer) ListFiles(w http.ResponseWriter, r *http.Request) {
	files := s.files.ListFiles(r.Context())

	entries := make([]FileEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, newFileEntry(f))
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *fileServer) UploadFile(w http.ResponseWriter, r *http.Request) {
	release, err := s.files.AcquireUploadSlot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Server busy, try again later")
		return
	}
	defer release()

	req, err := s.readUpload(w, r)
	if err != nil {
		s.writeUploadError(w, r, err)
		return
	}

	meta, err := s.files.UploadFile(r.Context(), req)
	if err != nil {
		s.writeUploadError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{
		Message: "File uploaded successfully",
		File:    newUploadedFile(meta),
	})
}

func (s *fileServer) ReplaceFile(w http.ResponseWriter, r *http.Request) {
	release, err := s.files.AcquireUploadSlot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Server busy, try again later")
		return
	}
	defer release()

	req, err := s.readUpload(w, r)
	if err != nil {
		s.writeUploadError(w, r, err)
		return
	}

	meta, err := s.files.ReplaceFile(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeUploadError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{
		Message: "File replaced successfully",
		File:    newUploadedFile(meta),
	})
}

func (s *fileServer) DeleteFile(w http.ResponseWriter, r *http.Request) {
	err := s.files.DeleteFile(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "File not found")
	case err != nil:
		s.internalError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, MessageResponse{Message: "File deleted successfully"})
	}
}

func (s *fileServer) DownloadFile(w http.ResponseWriter, r *http.Request) {
	file, err := s.files.GetFile(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	contentType := file.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := w.Header()
	h.Set("Content-Disposition", contentDisposition(file.Name))
	h.Set("Content-Type", contentType)
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("ETag", `"`+file.ContentHash+`"`)

	http.ServeContent(w, r, "", file.UploadedAt, bytes.NewReader(file.Bytes))
}

func (s *fileServer) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	size, ok := models.ParseThumbnailSize(r.URL.Query().Get("size"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid thumbnail size")
		return
	}

	data, err := s.files.GetThumbnail(r.Context(), r.PathValue("id"), size)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Thumbnail not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}

// readUpload streams the multipart body and buffers the first "file" part.
// The body is capped before any buffering so oversized uploads fail early.
func (s *fileServer) readUpload(w http.ResponseWriter, r *http.Request) (service.UploadRequest, error) {
	maxSize := s.files.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		return service.UploadRequest{}, errNoFile
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return service.UploadRequest{}, errNoFile
		}
		if err != nil {
			return service.UploadRequest{}, classifyBodyError(err)
		}

		if part.FormName() != uploadField || part.FileName() == "" {
			part.Close()
			continue
		}

		req, err := readFilePart(part, maxSize)
		part.Close()
		return req, err
	}
}

func readFilePart(part *multipart.Part, maxSize int64) (service.UploadRequest, error) {
	content, err := io.ReadAll(io.LimitReader(part, maxSize+1))
	if err != nil {
		return service.UploadRequest{}, classifyBodyError(err)
	}
	if int64(len(content)) > maxSize {
		return service.UploadRequest{}, storage.ErrPayloadTooLarge
	}
	return service.UploadRequest{
		Name:     part.FileName(),
		MimeType: part.Header.Get("Content-Type"),
		Content:  content,
	}, nil
}

func classifyBodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return storage.ErrPayloadTooLarge
	}
	return fmt.Errorf("%w: %v", errMalformedForm, err)
}

func (s *fileServer) writeUploadError(w http.ResponseWriter, r *http.Request, err error) {
	var dup *storage.DuplicateError
	switch {
	case errors.As(err, &dup):
		writeJSON(w, http.StatusConflict, newDuplicateResponse(dup.Existing))
	case errors.Is(err, storage.ErrPayloadTooLarge):
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("File too large. Maximum size is %s.", humanSize(s.files.MaxUploadBytes())))
	case errors.Is(err, errNoFile):
		writeError(w, http.StatusBadRequest, "No file uploaded")
	case errors.Is(err, errMalformedForm):
		writeError(w, http.StatusBadRequest, "Malformed upload request")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "File not found")
	default:
		s.internalError(w, r, err)
	}
}

func (s *fileServer) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}
