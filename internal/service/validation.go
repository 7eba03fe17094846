package service

import (
	"fmt"
	"mime"
	"net/http"
	"strings"
)

// DetectContentType sniffs a MIME type from the first 512 bytes of content.
func DetectContentType(content []byte) string {
	return http.DetectContentType(content)
}

// ValidateContentType checks if uploaded data matches declared content type
func ValidateContentType(content []byte, declaredType string) error {
	actualType := DetectContentType(content)

	if !isContentTypeMatch(actualType, declaredType) {
		return fmt.Errorf("content type mismatch: declared=%s, detected=%s",
			declaredType, actualType)
	}

	return nil
}

func isContentTypeMatch(actual, declared string) bool {
	actualBase := baseType(actual)
	declaredBase := baseType(declared)

	if actualBase == declaredBase {
		return true
	}

	// The sniffer cannot tell most binary formats apart.
	if actualBase == "application/octet-stream" {
		return true
	}

	actualPrefix, _, _ := strings.Cut(actualBase, "/")
	declaredPrefix, _, _ := strings.Cut(declaredBase, "/")
	if actualPrefix == declaredPrefix {
		return true
	}

	// Text-based formats the sniffer reports as plain text.
	aliases := map[string]bool{
		"application/json":       true,
		"application/javascript": true,
		"application/xml":        true,
		"application/x-yaml":     true,
		"image/svg+xml":          true,
	}
	return actualPrefix == "text" && aliases[declaredBase]
}

func baseType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}
