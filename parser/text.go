package parser

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/brunobiangulo/examparse/exam"
)

// lineHeight is the synthetic height, in points, given to one text line in
// formats without geometry.
const lineHeight = 12.0

// TextExtractor handles plain text (.txt) files. Every non-blank line is a
// fragment; a form feed starts a new page.
type TextExtractor struct{}

func (p *TextExtractor) SupportedFormats() []string { return []string{"txt"} }

func (p *TextExtractor) Extract(ctx context.Context, path string, opts Options) (*Extraction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}
	defer f.Close()

	var blocks []exam.ContentBlock
	page, line := 1, 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := sc.Text()
		for strings.Contains(text, "\f") {
			before, after, _ := strings.Cut(text, "\f")
			if strings.TrimSpace(before) != "" && opts.InRange(page) {
				blocks = append(blocks, textLine(before, page, line))
			}
			page++
			line = 0
			text = after
		}
		if strings.TrimSpace(text) != "" && opts.InRange(page) {
			blocks = append(blocks, textLine(text, page, line))
		}
		line++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}

	return &Extraction{Blocks: blocks, TotalPages: page, Method: "native"}, nil
}

func textLine(text string, page, line int) exam.ContentBlock {
	top := float64(line) * lineHeight
	return exam.Text(text, page, exam.BBox{0, top, 0, top + lineHeight})
}
