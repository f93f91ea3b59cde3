// Package uploads validates files received over WhatsApp before they enter a
// campaign: size limits, allowed types and image metadata.
package uploads

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"slices"
	"strings"

	_ "golang.org/x/image/webp"
)

// DefaultMaxBytes is the upload ceiling used when none is configured.
const DefaultMaxBytes int64 = 10 * 1024 * 1024

var (
	ErrEmpty           = errors.New("uploads: file is empty")
	ErrTooLarge        = errors.New("uploads: file exceeds size limit")
	ErrUnsupportedType = errors.New("uploads: file type not supported")
	ErrCorruptImage    = errors.New("uploads: image could not be decoded")
)

// Kind is the upload category.
type Kind string

const (
	KindSpreadsheet Kind = "spreadsheet"
	KindImage       Kind = "image"
)

var allowed = map[Kind]map[string][]string{
	KindSpreadsheet: {
		".csv":  {"text/csv", "text/plain", "application/csv", "application/vnd.ms-excel"},
		".xlsx": {"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
		".xls":  {"application/vnd.ms-excel"},
	},
	KindImage: {
		".jpg":  {"image/jpeg"},
		".jpeg": {"image/jpeg"},
		".png":  {"image/png"},
		".gif":  {"image/gif"},
		".webp": {"image/webp"},
	},
}

// Policy holds the upload limits.
type Policy struct {
	MaxBytes int64
}

// NewPolicy returns a policy with maxBytes, falling back to DefaultMaxBytes.
func NewPolicy(maxBytes int64) Policy {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return Policy{MaxBytes: maxBytes}
}

// File is the subset of an upload the checks look at.
type File struct {
	Filename string
	MimeType string
	Data     []byte
}

// ImageInfo is decoded image metadata.
type ImageInfo struct {
	Width  int
	Height int
	Format string
}

// CheckSpreadsheet validates a contact list upload. A missing or generic MIME
// type is accepted when the extension is allowed.
func (p Policy) CheckSpreadsheet(f File) error {
	return p.check(KindSpreadsheet, f)
}

// CheckImage validates an image upload and decodes its dimensions.
func (p Policy) CheckImage(f File) (ImageInfo, error) {
	if err := p.check(KindImage, f); err != nil {
		return ImageInfo{}, err
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(f.Data))
	if err != nil {
		return ImageInfo{}, fmt.Errorf("%w: %v", ErrCorruptImage, err)
	}
	return ImageInfo{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

func (p Policy) check(kind Kind, f File) error {
	if len(f.Data) == 0 {
		return ErrEmpty
	}
	limit := p.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	if int64(len(f.Data)) > limit {
		return fmt.Errorf("%w: %.1fMB (máximo %.0fMB)", ErrTooLarge, megabytes(int64(len(f.Data))), megabytes(limit))
	}

	types := allowed[kind]
	ext := strings.ToLower(filepath.Ext(f.Filename))
	mimeType := normalizeMime(f.MimeType)
	if ext != "" {
		mimes, ok := types[ext]
		if !ok {
			return fmt.Errorf("%w: extensão %s", ErrUnsupportedType, ext)
		}
		if mimeType == "" || mimeType == "application/octet-stream" {
			return nil
		}
		if slices.Contains(mimes, mimeType) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}
	if mimeType == "" {
		if kind == KindImage {
			// The decoder decides for images without a filename.
			return nil
		}
		return fmt.Errorf("%w: arquivo sem extensão", ErrUnsupportedType)
	}
	for _, mimes := range types {
		if slices.Contains(mimes, mimeType) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
}

// GuessMimeType maps a filename extension to a MIME type for known uploads.
func GuessMimeType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, types := range allowed {
		if mimes, ok := types[ext]; ok {
			return mimes[0]
		}
	}
	return "application/octet-stream"
}

func normalizeMime(m string) string {
	m = strings.ToLower(strings.TrimSpace(m))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	return m
}

func megabytes(n int64) float64 {
	return float64(n) / (1024 * 1024)
}
