package parser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/brunobiangulo/examparse/exam"
)

// cellWidth is the synthetic width, in points, of one spreadsheet column.
const cellWidth = 64.0

// XLSXExtractor treats each sheet as a page and each row as a line: every
// non-empty cell is a text fragment and every embedded picture an image
// fragment anchored at its cell.
type XLSXExtractor struct{}

func (p *XLSXExtractor) SupportedFormats() []string { return []string{"xlsx", "xlsm"} }

func (p *XLSXExtractor) Extract(ctx context.Context, path string, opts Options) (*Extraction, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	sink := newImageSink(opts)
	sheets := f.GetSheetList()
	var blocks []exam.ContentBlock

	for i, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := i + 1
		if !opts.InRange(page) {
			continue
		}

		rows, err := f.GetRows(sheet)
		if err != nil {
			slog.Warn("xlsx: failed to read sheet", "sheet", sheet, "error", err)
			continue
		}
		for r, row := range rows {
			for c, cell := range row {
				if strings.TrimSpace(cell) == "" {
					continue
				}
				blocks = append(blocks, exam.Text(cell, page, cellBox(c, r)))
			}
		}

		cells, err := f.GetPictureCells(sheet)
		if err != nil {
			slog.Debug("xlsx: failed to list pictures", "sheet", sheet, "error", err)
			continue
		}
		for _, cell := range cells {
			col, row, err := excelize.CellNameToCoordinates(cell)
			if err != nil {
				continue
			}
			pics, err := f.GetPictures(sheet, cell)
			if err != nil {
				slog.Debug("xlsx: failed to read picture", "sheet", sheet, "cell", cell, "error", err)
				continue
			}
			for _, pic := range pics {
				ref, ok, err := sink.save(pic.File, pic.Extension)
				if err != nil {
					return nil, err
				}
				if ok {
					blocks = append(blocks, exam.Image(ref, page, cellBox(col-1, row-1)))
				}
			}
		}
	}

	return &Extraction{Blocks: blocks, TotalPages: len(sheets), Method: "native"}, nil
}

// cellBox is the box of the 0-based cell (col, row).
func cellBox(col, row int) exam.BBox {
	left, top := float64(col)*cellWidth, float64(row)*lineHeight
	return exam.BBox{left, top, left + cellWidth, top + lineHeight}
}
