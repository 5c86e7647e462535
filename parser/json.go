package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/brunobiangulo/examparse/exam"
)

// JSONExtractor reads an already-extracted fragment list: either a bare
// array of blocks or an object with a "blocks" array.
type JSONExtractor struct{}

func (p *JSONExtractor) SupportedFormats() []string { return []string{"json"} }

func (p *JSONExtractor) Extract(ctx context.Context, path string, opts Options) (*Extraction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading block file: %w", err)
	}
	return DecodeBlocks(data, opts)
}

// jsonBlock mirrors exam.ContentBlock with an optional order_index.
type jsonBlock struct {
	Kind       exam.Kind `json:"type"`
	Content    string    `json:"content"`
	PageNumber int       `json:"page_number"`
	BBox       exam.BBox `json:"bbox"`
	OrderIndex *int      `json:"order_index"`
}

// DecodeBlocks decodes a fragment list. The extraction is Ordered when every
// block carries an order_index.
func DecodeBlocks(data []byte, opts Options) (*Extraction, error) {
	var raw []jsonBlock
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var wrapper struct {
			Blocks []jsonBlock `json:"blocks"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("decoding blocks: %w", err)
		}
		raw = wrapper.Blocks
	} else if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding blocks: %w", err)
	}

	ext := &Extraction{Method: "json", Ordered: len(raw) > 0}
	for i, b := range raw {
		if b.Kind != exam.KindText && b.Kind != exam.KindImage {
			return nil, fmt.Errorf("decoding blocks: block %d has no type", i)
		}
		if b.PageNumber < 1 {
			b.PageNumber = 1
		}
		if b.PageNumber > ext.TotalPages {
			ext.TotalPages = b.PageNumber
		}
		if !opts.InRange(b.PageNumber) {
			continue
		}
		block := exam.ContentBlock{Kind: b.Kind, Content: b.Content, PageNumber: b.PageNumber, BBox: b.BBox}
		if b.OrderIndex != nil {
			block.OrderIndex = *b.OrderIndex
		} else {
			ext.Ordered = false
		}
		ext.Blocks = append(ext.Blocks, block)
	}
	return ext, nil
}
