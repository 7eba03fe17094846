package models

import (
	"strings"
	"time"
)

// TimeLayout is the wire format of uploadDate: ISO-8601, UTC, millisecond precision.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// StoredFile is a registry record. Bytes is owned by the store.
type StoredFile struct {
	ID          string
	Name        string
	MimeType    string
	Size        int64
	ContentHash string
	UploadedAt  time.Time
	Bytes       []byte
}

// Metadata returns the public part of the record.
func (f *StoredFile) Metadata() FileMetadata {
	return FileMetadata{
		ID:          f.ID,
		Name:        f.Name,
		MimeType:    f.MimeType,
		Size:        f.Size,
		ContentHash: f.ContentHash,
		UploadedAt:  f.UploadedAt,
	}
}

// FileMetadata is a StoredFile without its content.
type FileMetadata struct {
	ID          string
	Name        string
	MimeType    string
	Size        int64
	ContentHash string
	UploadedAt  time.Time
}

// DuplicateInfo identifies the record that already holds some content.
type DuplicateInfo struct {
	ID         string
	Name       string
	UploadedAt time.Time
}

type FileType string

const (
	FileTypeImage    FileType = "image"
	FileTypeVideo    FileType = "video"
	FileTypeAudio    FileType = "audio"
	FileTypeDocument FileType = "document"
	FileTypeOther    FileType = "other"
)

func DeriveFileType(contentType string) FileType {
	if strings.HasPrefix(contentType, "image/") {
		return FileTypeImage
	}
	if strings.HasPrefix(contentType, "video/") {
		return FileTypeVideo
	}
	if strings.HasPrefix(contentType, "audio/") {
		return FileTypeAudio
	}
	if strings.Contains(contentType, "pdf") || strings.HasPrefix(contentType, "text/") {
		return FileTypeDocument
	}
	return FileTypeOther
}

// ThumbnailSize names one of the generated preview widths.
type ThumbnailSize string

const (
	ThumbnailSmall  ThumbnailSize = "small"
	ThumbnailMedium ThumbnailSize = "medium"
	ThumbnailLarge  ThumbnailSize = "large"
)

// ThumbnailWidths maps each size to its maximum width in pixels.
var ThumbnailWidths = map[ThumbnailSize]int{
	ThumbnailSmall:  150,
	ThumbnailMedium: 400,
	ThumbnailLarge:  800,
}

func ParseThumbnailSize(s string) (ThumbnailSize, bool) {
	if s == "" {
		return ThumbnailSmall, true
	}
	size := ThumbnailSize(s)
	_, ok := ThumbnailWidths[size]
	return size, ok
}
