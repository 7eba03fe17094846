package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PaulBabatuyi/FileVault/internal/models"
)

// FileEntry is one element of the GET /api/files response.
type FileEntry struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	Type       string `json:"type"`
	UploadDate string `json:"uploadDate"`
	Hash       string `json:"hash"`
}

// UploadedFile describes a stored file in upload and replace responses.
type UploadedFile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	Type       string `json:"type"`
	UploadDate string `json:"uploadDate"`
}

type UploadResponse struct {
	Message string       `json:"message"`
	File    UploadedFile `json:"file"`
}

type DuplicateFile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	UploadDate string `json:"uploadDate"`
}

type DuplicateResponse struct {
	Error         string        `json:"error"`
	DuplicateFile DuplicateFile `json:"duplicateFile"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func newFileEntry(m models.FileMetadata) FileEntry {
	return FileEntry{
		ID:         m.ID,
		Name:       m.Name,
		Size:       m.Size,
		Type:       m.MimeType,
		UploadDate: m.UploadedAt.UTC().Format(models.TimeLayout),
		Hash:       m.ContentHash,
	}
}

func newUploadedFile(m models.FileMetadata) UploadedFile {
	return UploadedFile{
		ID:         m.ID,
		Name:       m.Name,
		Size:       m.Size,
		Type:       m.MimeType,
		UploadDate: m.UploadedAt.UTC().Format(models.TimeLayout),
	}
}

func newDuplicateResponse(d models.DuplicateInfo) DuplicateResponse {
	return DuplicateResponse{
		Error: "Duplicate file detected",
		DuplicateFile: DuplicateFile{
			ID:         d.ID,
			Name:       d.Name,
			UploadDate: d.UploadedAt.UTC().Format(models.TimeLayout),
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// contentDisposition builds an attachment header for an untrusted file name.
// The quoted form is ASCII-only; non-ASCII names are also sent as filename*.
func contentDisposition(name string) string {
	var b strings.Builder
	ascii := true
	for _, r := range name {
		switch {
		case r == '"' || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
			// control characters could split the header
		case r > 0x7e:
			ascii = false
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}

	header := fmt.Sprintf(`attachment; filename="%s"`, b.String())
	if !ascii {
		header += "; filename*=UTF-8''" + url.PathEscape(name)
	}
	return header
}

// humanSize renders a byte limit the way the error message states it ("10MB").
func humanSize(n int64) string {
	switch {
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%dMB", n>>20)
	case n >= 1<<10 && n%(1<<10) == 0:
		return fmt.Sprintf("%dKB", n>>10)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}
