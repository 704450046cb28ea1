package upload

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"

	"github.com/zombor/invoice-extract/internal/extraction"
)

// decodePDF renders the first page of a PDF invoice
func decodePDF(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, errors.New("PDF has no pages")
	}

	// Invoices are uploaded one page at a time
	page, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return page, nil
}

// decodeImage decodes a HEIC/HEIF photo or any registered stdlib format
func decodeImage(data []byte, mimeType string) (image.Image, error) {
	if isHEICFormat(data) || isHEICMimeType(mimeType) {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	switch {
	case errors.Is(err, image.ErrFormat):
		return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
	case err != nil:
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// isHEICFormat checks for an ftyp box with a HEIC-family brand
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// Normalize converts PDFs and non-PNG images to PNG so the extraction
// server always receives an image it can read. The returned bool reports
// whether a conversion happened; PNG files are returned unchanged.
func Normalize(file *extraction.File) (*extraction.File, bool, error) {
	if file == nil {
		return nil, false, nil
	}

	mimeType := strings.ToLower(strings.TrimSpace(file.ContentType))

	var (
		img image.Image
		err error
	)
	switch {
	case mimeType == "application/pdf":
		if img, err = decodePDF(file.Data); err != nil {
			return nil, false, fmt.Errorf("converting PDF to image: %w", err)
		}
	case mimeType != "image/png" || isHEICFormat(file.Data):
		if img, err = decodeImage(file.Data, mimeType); err != nil {
			return nil, false, fmt.Errorf("converting image to PNG: %w", err)
		}
	default:
		return file, false, nil
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, false, fmt.Errorf("encoding %s as PNG: %w", file.Name, err)
	}

	return &extraction.File{
		Name:        strings.TrimSuffix(file.Name, filepath.Ext(file.Name)) + ".png",
		ContentType: "image/png",
		Data:        buf.Bytes(),
	}, true, nil
}
