package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/brunobiangulo/examparse/exam"
)

// PPTXExtractor treats every slide as a page. Fragments take their top
// coordinate from the offset of the shape that holds them.
type PPTXExtractor struct{}

func (p *PPTXExtractor) SupportedFormats() []string { return []string{"pptx"} }

func (p *PPTXExtractor) Extract(ctx context.Context, path string, opts Options) (*Extraction, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening PPTX: %w", err)
	}
	defer r.Close()

	fileIndex := zipIndex(r)

	// Collect slide files (ppt/slides/slide1.xml, slide2.xml, ...)
	slideFiles := make(map[int]*zip.File)
	for _, f := range r.File {
		if strings.HasPrefix(f.Name, "ppt/slides/slide") && strings.HasSuffix(f.Name, ".xml") {
			if num := extractSlideNumber(f.Name); num > 0 {
				slideFiles[num] = f
			}
		}
	}
	nums := make([]int, 0, len(slideFiles))
	for n := range slideFiles {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	sink := newImageSink(opts)
	var blocks []exam.ContentBlock
	for _, num := range nums {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !opts.InRange(num) {
			continue
		}
		data, err := readZipFile(slideFiles[num])
		if err != nil {
			continue
		}
		rels := parseRels(fileIndex, fmt.Sprintf("ppt/slides/_rels/slide%d.xml.rels", num))
		slideBlocks, err := pptxSlideBlocks(data, num, rels, fileIndex, sink)
		if err != nil {
			return nil, fmt.Errorf("parsing slide %d: %w", num, err)
		}
		blocks = append(blocks, slideBlocks...)
	}

	return &Extraction{Blocks: blocks, TotalPages: len(nums), Method: "native"}, nil
}

func pptxSlideBlocks(data []byte, slide int, rels map[string]string, fileIndex map[string]*zip.File, sink *imageSink) ([]exam.ContentBlock, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))

	var (
		blocks    []exam.ContentBlock
		text      strings.Builder
		inText    bool
		shapeTop  float64
		shapeLine int
		haveOff   bool
		pending   []pendingImage
	)
	flush := func() {
		t := text.String()
		text.Reset()
		if strings.TrimSpace(t) == "" {
			return
		}
		top := shapeTop + float64(shapeLine)*lineHeight
		blocks = append(blocks, exam.Text(t, slide, exam.BBox{0, top, 0, top + lineHeight}))
		shapeLine++
	}
	// Pictures carry their offset after the blip, so their blocks are
	// emitted when the shape closes.
	emitPending := func() {
		for _, p := range pending {
			top := shapeTop + float64(p.line)*lineHeight
			blocks = append(blocks, exam.Image(p.ref, slide, exam.BBox{0, top, 0, top + lineHeight}))
		}
		pending = pending[:0]
	}

	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "sp", "pic", "graphicFrame":
				haveOff = false
				shapeLine = 0
			case "off":
				if !haveOff {
					if y, ok := attrValue(t, "y"); ok {
						if v, err := strconv.ParseFloat(y, 64); err == nil {
							shapeTop = v / emuPerPoint
							haveOff = true
						}
					}
				}
			case "t":
				inText = t.Name.Space == drawingNS
			case "br":
				flush()
			case "blip":
				flush()
				imgData, ext, ok := mediaFile(t, "ppt/slides", rels, fileIndex)
				if !ok {
					continue
				}
				ref, ok, err := sink.save(imgData, ext)
				if err != nil {
					return nil, err
				}
				if ok {
					pending = append(pending, pendingImage{ref: ref, line: shapeLine})
					shapeLine++
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "sp", "pic", "graphicFrame":
				flush()
				emitPending()
			case "t":
				inText = false
			case "p":
				if t.Name.Space == drawingNS {
					flush()
				}
			}
		case xml.CharData:
			if inText {
				text.Write(t)
			}
		}
	}
	flush()
	emitPending()
	return blocks, nil
}

type pendingImage struct {
	ref  string
	line int
}

func extractSlideNumber(name string) int {
	// Extract number from "ppt/slides/slide1.xml"
	name = strings.TrimPrefix(name, "ppt/slides/slide")
	name = strings.TrimSuffix(name, ".xml")
	num, err := strconv.Atoi(name)
	if err != nil {
		return 0
	}
	return num
}
