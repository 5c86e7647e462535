package parser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/brunobiangulo/examparse/exam"
)

// defaultPageHeight is US Letter, used when a page has no MediaBox.
const defaultPageHeight = 792.0

// PDFExtractor reads text rows with ledongthuc/pdf, places image XObjects by
// interpreting the page content stream, and pulls image bytes with pdfcpu.
type PDFExtractor struct{}

func (p *PDFExtractor) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFExtractor) Extract(ctx context.Context, path string, opts Options) (*Extraction, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	images, err := pdfImageData(path, opts)
	if err != nil {
		// Placements still produce image blocks with a page-scoped reference.
		slog.Warn("pdf: image extraction failed", "path", path, "error", err)
	}
	sink := newImageSink(opts)

	totalPages := reader.NumPage()
	var blocks []exam.ContentBlock
	for i := 1; i <= totalPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !opts.InRange(i) {
			continue
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		pageBlocks, err := pdfPageBlocks(page, i, images, sink)
		if err != nil {
			slog.Warn("pdf: skipping unreadable page", "page", i, "error", err)
			continue
		}
		blocks = append(blocks, pageBlocks...)
	}

	return &Extraction{
		Blocks:     blocks,
		TotalPages: totalPages,
		Method:     "native",
		Metadata:   map[string]string{"pages": fmt.Sprintf("%d", totalPages)},
	}, nil
}

// pdfPageBlocks extracts one page. ledongthuc/pdf panics on some malformed
// content streams; that is reported as an error for the page.
func pdfPageBlocks(page pdf.Page, pageNum int, images map[pdfImageKey]pdfImage, sink *imageSink) (blocks []exam.ContentBlock, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page %d: %v", pageNum, r)
		}
	}()

	height := pdfPageHeight(page)

	rows, err := page.GetTextByRow()
	if err != nil {
		return nil, fmt.Errorf("reading text rows: %w", err)
	}
	for _, row := range rows {
		if b, ok := pdfRowBlock(row.Content, pageNum, height); ok {
			blocks = append(blocks, b)
		}
	}

	for _, pl := range pdfImagePlacements(page, height) {
		if sink.tooSmall(pl.width, pl.height) {
			continue
		}
		ref := fmt.Sprintf("page%d/%s", pageNum, pl.name)
		if img, ok := images[pdfImageKey{page: pageNum, name: pl.name}]; ok {
			saved, _, err := sink.store(img.data, img.fileType)
			if err != nil {
				return nil, err
			}
			ref = saved
		}
		blocks = append(blocks, exam.Image(ref, pageNum, pl.bbox))
	}
	return blocks, nil
}

// pdfRowBlock joins the glyph runs of one text row into a fragment. A gap
// wider than a fraction of the font size becomes a space.
func pdfRowBlock(texts pdf.TextHorizontal, pageNum int, height float64) (exam.ContentBlock, bool) {
	if len(texts) == 0 {
		return exam.ContentBlock{}, false
	}
	runs := make([]pdf.Text, len(texts))
	copy(runs, texts)
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].X < runs[j].X })

	var sb strings.Builder
	left, right := math.Inf(1), math.Inf(-1)
	y, size := runs[0].Y, 0.0
	for i, t := range runs {
		if i > 0 {
			prev := runs[i-1]
			gap := t.X - (prev.X + prev.W)
			if gap > 0.15*t.FontSize && !strings.HasSuffix(sb.String(), " ") && !strings.HasPrefix(t.S, " ") {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(t.S)
		left = math.Min(left, t.X)
		right = math.Max(right, t.X+t.W)
		size = math.Max(size, t.FontSize)
	}

	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return exam.ContentBlock{}, false
	}
	return exam.Text(text, pageNum, exam.BBox{left, height - (y + size), right, height - y}), true
}

// pdfPageHeight reads the MediaBox height, following the Parent chain for
// inherited boxes.
func pdfPageHeight(page pdf.Page) float64 {
	for v := page.V; v.Kind() == pdf.Dict; v = v.Key("Parent") {
		box := v.Key("MediaBox")
		if box.Kind() == pdf.Array && box.Len() == 4 {
			if h := box.Index(3).Float64() - box.Index(1).Float64(); h > 0 {
				return h
			}
		}
	}
	return defaultPageHeight
}

type pdfPlacement struct {
	name          string
	bbox          exam.BBox
	width, height int
}

// matrix is a PDF transformation matrix [a b c d e f].
type matrix [6]float64

var identity = matrix{1, 0, 0, 1, 0, 0}

// mul returns m × n.
func (m matrix) mul(n matrix) matrix {
	return matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

// pdfImagePlacements interprets the page content stream and returns every
// image XObject drawn on it, with its bounding box in top-left coordinates.
func pdfImagePlacements(page pdf.Page, height float64) []pdfPlacement {
	xobjects := page.Resources().Key("XObject")
	if xobjects.Kind() != pdf.Dict {
		return nil
	}

	ctm := identity
	var saved []matrix
	var out []pdfPlacement

	do := func(stk *pdf.Stack, op string) {
		args := make([]pdf.Value, stk.Len())
		for i := len(args) - 1; i >= 0; i-- {
			args[i] = stk.Pop()
		}

		switch op {
		case "q":
			saved = append(saved, ctm)
		case "Q":
			if n := len(saved); n > 0 {
				ctm = saved[n-1]
				saved = saved[:n-1]
			}
		case "cm":
			if len(args) != 6 {
				return
			}
			var m matrix
			for i := range m {
				m[i] = args[i].Float64()
			}
			ctm = m.mul(ctm)
		case "Do":
			if len(args) != 1 {
				return
			}
			name := args[0].Name()
			xo := xobjects.Key(name)
			if xo.Key("Subtype").Name() != "Image" {
				return
			}
			out = append(out, pdfPlacement{
				name:   name,
				bbox:   unitSquareBox(ctm, height),
				width:  int(xo.Key("Width").Int64()),
				height: int(xo.Key("Height").Int64()),
			})
		}
	}

	contents := page.V.Key("Contents")
	if contents.Kind() == pdf.Array {
		for i := 0; i < contents.Len(); i++ {
			pdf.Interpret(contents.Index(i), do)
		}
	} else if !contents.IsNull() {
		pdf.Interpret(contents, do)
	}
	return out
}

// unitSquareBox maps the image unit square through ctm.
func unitSquareBox(ctm matrix, height float64) exam.BBox {
	xs := []float64{ctm[4], ctm[0] + ctm[4], ctm[2] + ctm[4], ctm[0] + ctm[2] + ctm[4]}
	ys := []float64{ctm[5], ctm[1] + ctm[5], ctm[3] + ctm[5], ctm[1] + ctm[3] + ctm[5]}
	minX, maxX := xs[0], xs[0]
	minY, maxY := ys[0], ys[0]
	for i := 1; i < 4; i++ {
		minX, maxX = math.Min(minX, xs[i]), math.Max(maxX, xs[i])
		minY, maxY = math.Min(minY, ys[i]), math.Max(maxY, ys[i])
	}
	return exam.BBox{minX, height - maxY, maxX, height - minY}
}

type pdfImageKey struct {
	page int
	name string
}

type pdfImage struct {
	data     []byte
	fileType string
}

// pdfImageData extracts the bytes of every image in the page range, keyed
// by page and resource name.
func pdfImageData(path string, opts Options) (map[pdfImageKey]pdfImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pages, err := api.ExtractImagesRaw(f, pageSelection(opts), model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("pdfcpu extract images: %w", err)
	}

	out := make(map[pdfImageKey]pdfImage)
	for _, byObj := range pages {
		for _, img := range byObj {
			data, err := io.ReadAll(img)
			if err != nil {
				slog.Debug("pdf: failed to read image", "page", img.PageNr, "name", img.Name, "error", err)
				continue
			}
			out[pdfImageKey{page: img.PageNr, name: img.Name}] = pdfImage{data: data, fileType: img.FileType}
		}
	}
	return out, nil
}

// pageSelection renders the page range in pdfcpu's selection syntax.
func pageSelection(opts Options) []string {
	switch {
	case opts.PageStart > 0 && opts.PageEnd > 0:
		return []string{fmt.Sprintf("%d-%d", opts.PageStart, opts.PageEnd)}
	case opts.PageStart > 0:
		return []string{fmt.Sprintf("%d-", opts.PageStart)}
	case opts.PageEnd > 0:
		return []string{fmt.Sprintf("-%d", opts.PageEnd)}
	}
	return nil
}
