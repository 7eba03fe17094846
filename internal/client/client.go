// Package client talks to a FileVault server over its HTTP API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	ErrNotFound = errors.New("file not found")
	ErrTooLarge = errors.New("file too large")
)

// DuplicateError reports that the server already stores the same content.
type DuplicateError struct {
	ID         string
	Name       string
	UploadDate string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate of %s (%s, uploaded %s)", e.ID, e.Name, e.UploadDate)
}

// APIError is any other non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

type File struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	Type       string `json:"type"`
	UploadDate string `json:"uploadDate"`
	Hash       string `json:"hash,omitempty"`
}

type uploadResponse struct {
	Message string `json:"message"`
	File    File   `json:"file"`
}

type errorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	DuplicateFile *struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		UploadDate string `json:"uploadDate"`
	} `json:"duplicateFile"`
}

type FileClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

type Option func(*FileClient)

func WithHTTPClient(c *http.Client) Option {
	return func(fc *FileClient) { fc.http = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(fc *FileClient) { fc.logger = l }
}

func NewFileClient(baseURL string, opts ...Option) (*FileClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", baseURL)
	}

	fc := &FileClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(fc)
	}
	return fc, nil
}

// UploadFile streams a local file to the server as multipart form data.
func (fc *FileClient) UploadFile(ctx context.Context, filePath string) (*File, error) {
	return fc.sendFile(ctx, http.MethodPost, "/api/upload", filePath)
}

// ReplaceFile swaps the content of an existing record, keeping its id.
func (fc *FileClient) ReplaceFile(ctx context.Context, fileID, filePath string) (*File, error) {
	return fc.sendFile(ctx, http.MethodPut, "/api/files/"+url.PathEscape(fileID), filePath)
}

func (fc *FileClient) sendFile(ctx context.Context, method, path, filePath string) (*File, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	// The body is produced by a goroutine so large files are never held in memory.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
			"name":     "file",
			"filename": filepath.Base(filePath),
		}))
		h.Set("Content-Type", detectContentType(filePath))

		part, err := mw.CreatePart(h)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, method, fc.baseURL+path, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := fc.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	fc.logger.Debug("file sent", zap.String("id", out.File.ID), zap.String("message", out.Message))
	return &out.File, nil
}

// ListFiles returns every stored file.
func (fc *FileClient) ListFiles(ctx context.Context) ([]File, error) {
	resp, err := fc.do(ctx, http.MethodGet, "/api/files")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var files []File
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("failed to decode file list: %w", err)
	}
	return files, nil
}

// DownloadFile writes the file's content to outputPath.
func (fc *FileClient) DownloadFile(ctx context.Context, fileID, outputPath string) (int64, error) {
	resp, err := fc.do(ctx, http.MethodGet, "/api/files/"+url.PathEscape(fileID)+"/download")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	outFile, err := os.Create(outputPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}
	defer outFile.Close()

	n, err := io.Copy(outFile, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to write file: %w", err)
	}
	return n, nil
}

// DeleteFile removes a file.
func (fc *FileClient) DeleteFile(ctx context.Context, fileID string) error {
	resp, err := fc.do(ctx, http.MethodDelete, "/api/files/"+url.PathEscape(fileID))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// do sends a body-less request and turns non-200 responses into errors.
func (fc *FileClient) do(ctx context.Context, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, fc.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := fc.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	var body errorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)

	msg := body.Error
	if msg == "" {
		msg = body.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusConflict && body.DuplicateFile != nil:
		return &DuplicateError{
			ID:         body.DuplicateFile.ID,
			Name:       body.DuplicateFile.Name,
			UploadDate: body.DuplicateFile.UploadDate,
		}
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case resp.StatusCode == http.StatusBadRequest && strings.HasPrefix(msg, "File too large"),
		resp.StatusCode == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", ErrTooLarge, msg)
	default:
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
}

// detectContentType returns a MIME type based on the file extension.
func detectContentType(filePath string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(filePath))); t != "" {
		return t
	}
	return "application/octet-stream"
}
