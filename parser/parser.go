// Package parser extracts page-located content fragments from exam documents.
// Extractors only locate text and images; structure is recovered later from
// the fragment sequence.
package parser

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/brunobiangulo/examparse/exam"
)

// Extraction is what an extractor produces from a document file.
type Extraction struct {
	Blocks     []exam.ContentBlock
	TotalPages int
	Method     string // "native" or "json"
	// Ordered is true when the blocks already carry order_index values and
	// must not be re-sequenced.
	Ordered  bool
	Metadata map[string]string
}

// Options control extraction.
type Options struct {
	// ImageDir receives extracted image files. When empty, images are
	// referenced by content hash and not written.
	ImageDir string
	// MinImageSize drops images narrower or shorter than this many pixels.
	MinImageSize int
	// PageStart and PageEnd restrict extraction to a 1-based page range.
	// Zero means unbounded.
	PageStart int
	PageEnd   int
}

// InRange reports whether page is inside the configured page range.
func (o Options) InRange(page int) bool {
	if o.PageStart > 0 && page < o.PageStart {
		return false
	}
	if o.PageEnd > 0 && page > o.PageEnd {
		return false
	}
	return true
}

// Extractor can extract fragments from a specific document format.
type Extractor interface {
	Extract(ctx context.Context, path string, opts Options) (*Extraction, error)
	SupportedFormats() []string
}

// FormatOf returns the lower-case extension of path without the dot.
func FormatOf(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}
