package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/brunobiangulo/examparse/exam"
)

// DOCXExtractor walks word/document.xml in document order. Each paragraph
// line is a text fragment and each embedded picture an image fragment.
// DOCX has no layout, so pages advance on explicit page breaks and the top
// coordinate is the line position within the page.
type DOCXExtractor struct{}

func (p *DOCXExtractor) SupportedFormats() []string { return []string{"docx"} }

func (p *DOCXExtractor) Extract(ctx context.Context, path string, opts Options) (*Extraction, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening DOCX: %w", err)
	}
	defer r.Close()

	fileIndex := zipIndex(r)
	docFile := fileIndex["word/document.xml"]
	if docFile == nil {
		return nil, fmt.Errorf("word/document.xml not found in DOCX")
	}
	data, err := readZipFile(docFile)
	if err != nil {
		return nil, err
	}

	w := &docxWalker{
		opts:  opts,
		sink:  newImageSink(opts),
		rels:  parseRels(fileIndex, "word/_rels/document.xml.rels"),
		files: fileIndex,
		page:  1,
	}
	if err := w.walk(ctx, data); err != nil {
		return nil, fmt.Errorf("parsing DOCX XML: %w", err)
	}

	return &Extraction{Blocks: w.blocks, TotalPages: w.page, Method: "native"}, nil
}

type docxWalker struct {
	opts  Options
	sink  *imageSink
	rels  map[string]string
	files map[string]*zip.File

	page   int
	line   int
	inText bool
	text   strings.Builder
	blocks []exam.ContentBlock
}

func (w *docxWalker) walk(ctx context.Context, data []byte) error {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "blip" {
				w.flush()
				if err := w.image(t); err != nil {
					return err
				}
				continue
			}
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "t":
				w.inText = true
			case "tab":
				w.text.WriteByte('\t')
			case "br", "cr":
				w.flush()
				if typ, _ := attrValue(t, "type"); typ == "page" {
					w.page++
					w.line = 0
				}
			case "pageBreakBefore":
				val, _ := attrValue(t, "val")
				if val != "0" && val != "false" && w.line > 0 {
					w.page++
					w.line = 0
				}
			}
		case xml.EndElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "t":
				w.inText = false
			case "p":
				w.flush()
				if err := ctx.Err(); err != nil {
					return err
				}
			}
		case xml.CharData:
			if w.inText {
				w.text.Write(t)
			}
		}
	}
	w.flush()
	return nil
}

func (w *docxWalker) flush() {
	text := w.text.String()
	w.text.Reset()
	if strings.TrimSpace(text) == "" || !w.opts.InRange(w.page) {
		return
	}
	w.blocks = append(w.blocks, textLine(text, w.page, w.line))
	w.line++
}

func (w *docxWalker) image(se xml.StartElement) error {
	if !w.opts.InRange(w.page) {
		return nil
	}
	data, ext, ok := mediaFile(se, "word", w.rels, w.files)
	if !ok {
		return nil
	}
	ref, ok, err := w.sink.save(data, ext)
	if err != nil || !ok {
		return err
	}
	top := float64(w.line) * lineHeight
	w.blocks = append(w.blocks, exam.Image(ref, w.page, exam.BBox{0, top, 0, top + lineHeight}))
	w.line++
	return nil
}
