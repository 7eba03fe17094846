package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/PaulBabatuyi/FileVault/internal/models"
	"github.com/google/uuid"
)

// DefaultMaxFileSize is the upload cap used when none is configured (10 MiB).
const DefaultMaxFileSize = 10 << 20

var (
	ErrNotFound         = errors.New("file not found")
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrDuplicateContent = errors.New("duplicate content")
)

// DuplicateError is returned when the content is already stored under another record.
type DuplicateError struct {
	Existing models.DuplicateInfo
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate content: already stored as %s (%q)", e.Existing.ID, e.Existing.Name)
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicateContent
}

// StorageInterface defines the registry operations the service layer relies on
type StorageInterface interface {
	Insert(name, mimeType string, content []byte) (models.FileMetadata, error)
	Replace(id, name, mimeType string, content []byte) (models.FileMetadata, error)
	List() []models.FileMetadata
	Get(id string) (*models.StoredFile, error)
	Delete(id string) error
	Stats() Stats
	SetThumbnails(id, contentHash string, thumbs map[models.ThumbnailSize][]byte) error
	Thumbnail(id string, size models.ThumbnailSize) ([]byte, error)
	MaxSize() int64
}

// Stats is a point-in-time summary of the registry.
type Stats struct {
	Files int
	Bytes int64
}

// MemoryStorage keeps every record in process memory.
// All mutations happen under mu; hash checks and inserts are one critical section.
type MemoryStorage struct {
	mu      sync.RWMutex
	maxSize int64
	now     func() time.Time
	newID   func() string

	files  map[string]*models.StoredFile
	order  []string
	byHash map[string]string
	thumbs map[string]map[models.ThumbnailSize][]byte
	total  int64
}

type Option func(*MemoryStorage)

// WithClock overrides the time source used for uploadedAt.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStorage) { s.now = now }
}

// WithIDGenerator overrides the id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *MemoryStorage) { s.newID = gen }
}

func NewMemoryStorage(maxSize int64, opts ...Option) *MemoryStorage {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	s := &MemoryStorage{
		maxSize: maxSize,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
		files:   make(map[string]*models.StoredFile),
		byHash:  make(map[string]string),
		thumbs:  make(map[string]map[models.ThumbnailSize][]byte),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxSize reports the configured per-file limit in bytes.
func (s *MemoryStorage) MaxSize() int64 {
	return s.maxSize
}

// ContentHash returns the lowercase hex SHA-256 of content.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (s *MemoryStorage) Insert(name, mimeType string, content []byte) (models.FileMetadata, error) {
	if int64(len(content)) > s.maxSize {
		return models.FileMetadata{}, ErrPayloadTooLarge
	}

	// Hashing is the expensive part and needs no lock.
	hash := ContentHash(content)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.lookupHash(hash); ok {
		return models.FileMetadata{}, &DuplicateError{Existing: existing}
	}

	id := s.newID()
	if _, taken := s.files[id]; taken {
		return models.FileMetadata{}, fmt.Errorf("generated id %s already in use", id)
	}

	file := &models.StoredFile{
		ID:          id,
		Name:        name,
		MimeType:    mimeType,
		Size:        int64(len(content)),
		ContentHash: hash,
		UploadedAt:  s.now().UTC(),
		Bytes:       bytes.Clone(nonNil(content)),
	}

	s.files[id] = file
	s.order = append(s.order, id)
	s.byHash[hash] = id
	s.total += file.Size

	return file.Metadata(), nil
}

// Replace swaps the content of an existing record, keeping its id.
func (s *MemoryStorage) Replace(id, name, mimeType string, content []byte) (models.FileMetadata, error) {
	if int64(len(content)) > s.maxSize {
		return models.FileMetadata{}, ErrPayloadTooLarge
	}
	hash := ContentHash(content)

	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.files[id]
	if !ok {
		return models.FileMetadata{}, ErrNotFound
	}
	if existing, ok := s.lookupHash(hash); ok && existing.ID != id {
		return models.FileMetadata{}, &DuplicateError{Existing: existing}
	}

	delete(s.byHash, file.ContentHash)
	if file.ContentHash != hash {
		delete(s.thumbs, id)
	}
	s.total -= file.Size

	updated := &models.StoredFile{
		ID:          id,
		Name:        name,
		MimeType:    mimeType,
		Size:        int64(len(content)),
		ContentHash: hash,
		UploadedAt:  s.now().UTC(),
		Bytes:       bytes.Clone(nonNil(content)),
	}
	s.files[id] = updated
	s.byHash[hash] = id
	s.total += updated.Size

	return updated.Metadata(), nil
}

func (s *MemoryStorage) List() []models.FileMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.FileMetadata, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.files[id].Metadata())
	}
	return out
}

// Get returns a copy of the record; the caller may keep or modify it freely.
func (s *MemoryStorage) Get(id string) (*models.StoredFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, ok := s.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *file
	cp.Bytes = bytes.Clone(file.Bytes)
	return &cp, nil
}

func (s *MemoryStorage) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.files[id]
	if !ok {
		return ErrNotFound
	}

	delete(s.files, id)
	delete(s.byHash, file.ContentHash)
	delete(s.thumbs, id)
	s.total -= file.Size
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStorage) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Files: len(s.files), Bytes: s.total}
}

// SetThumbnails attaches previews to a record. contentHash must match the
// record's current content, so previews of replaced content are dropped.
func (s *MemoryStorage) SetThumbnails(id, contentHash string, thumbs map[models.ThumbnailSize][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.files[id]
	if !ok || file.ContentHash != contentHash {
		return ErrNotFound
	}
	owned := make(map[models.ThumbnailSize][]byte, len(thumbs))
	for size, data := range thumbs {
		owned[size] = bytes.Clone(data)
	}
	s.thumbs[id] = owned
	return nil
}

func (s *MemoryStorage) Thumbnail(id string, size models.ThumbnailSize) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.thumbs[id][size]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(data), nil
}

// lookupHash must be called with mu held.
func (s *MemoryStorage) lookupHash(hash string) (models.DuplicateInfo, bool) {
	id, ok := s.byHash[hash]
	if !ok {
		return models.DuplicateInfo{}, false
	}
	file := s.files[id]
	return models.DuplicateInfo{ID: file.ID, Name: file.Name, UploadedAt: file.UploadedAt}, true
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
