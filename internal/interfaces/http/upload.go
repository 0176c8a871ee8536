package http

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
)

// MaxUploadBytes caps receipt uploads at 10 MB.
const MaxUploadBytes = 10 << 20

// sniffUploadType identifies the upload by magic bytes, never by filename or
// the client-declared content type.
func sniffUploadType(data []byte) (mimeType string, ok bool) {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg", true
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return "image/png", true
	case len(data) >= 6 && (bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a"))):
		return "image/gif", true
	case len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp", true
	case len(data) >= 2 && bytes.HasPrefix(data, []byte("BM")):
		return "image/bmp", true
	case len(data) >= 5 && bytes.HasPrefix(data, []byte("%PDF-")):
		return "application/pdf", true
	default:
		return "", false
	}
}

// renderPDFPage renders the first page of a PDF to a JPEG so the vision
// model receives an image regardless of the upload format.
func renderPDFPage(data []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("failed to render PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode rendered page: %w", err)
	}
	return buf.Bytes(), nil
}
