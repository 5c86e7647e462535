package parser

import (
	"fmt"
	"sort"
)

type Registry struct {
	extractors map[string]Extractor
}

func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[string]Extractor)}
	// Register built-in extractors
	for _, e := range []Extractor{&PDFExtractor{}, &DOCXExtractor{}, &PPTXExtractor{}, &XLSXExtractor{}, &TextExtractor{}, &JSONExtractor{}} {
		for _, f := range e.SupportedFormats() {
			r.extractors[f] = e
		}
	}
	return r
}

func (r *Registry) Get(format string) (Extractor, error) {
	e, ok := r.extractors[format]
	if !ok {
		return nil, fmt.Errorf("no extractor for format: %s", format)
	}
	return e, nil
}

func (r *Registry) Register(format string, e Extractor) {
	r.extractors[format] = e
}

// Formats lists the registered formats in sorted order.
func (r *Registry) Formats() []string {
	out := make([]string, 0, len(r.extractors))
	for f := range r.extractors {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
