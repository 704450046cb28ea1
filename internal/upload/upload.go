package upload

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/zombor/invoice-extract/internal/extraction"
)

// MaxFileSize is the largest file accepted for upload (50MB, enough for
// high-resolution phone photos)
const MaxFileSize = int64(50 << 20)

// ErrFileTooLarge is returned for files above MaxFileSize
var ErrFileTooLarge = errors.New("file is too large, maximum size is 50MB")

// Load reads the selected file from disk. An empty path means nothing is
// selected and yields a nil file.
func Load(path string) (*extraction.File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading file info: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%s: %w", path, ErrFileTooLarge)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	name := filepath.Base(path)
	return &extraction.File{
		Name:        name,
		ContentType: DetectContentType(name, data),
		Data:        data,
	}, nil
}

// DetectContentType determines the content type from the file extension,
// falling back to sniffing the data
func DetectContentType(filename string, data []byte) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}

	// http.DetectContentType doesn't know HEIC
	if isHEICFormat(data) {
		return "image/heic"
	}
	if len(data) == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(data)
}
