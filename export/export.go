// Package export writes a parsed exam as an XLSX workbook for review.
package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/brunobiangulo/examparse/exam"
)

// Sheet names.
const (
	SheetQuestions  = "Questions"
	SheetAnomalies  = "Anomalies"
	SheetValidation = "Validation"
)

var questionHeader = []any{
	"Number", "Page Start", "Page End", "Question", "Options", "Correct",
	"Answer", "Explanation", "Images", "Anomaly Score", "Anomalies",
}

// Workbook is the content of one export.
type Workbook struct {
	Name      string
	Questions []*exam.ParsedQuestion
	Report    exam.ValidationReport
}

// WriteFile saves the workbook to path.
func WriteFile(path string, wb Workbook) error {
	f, err := build(wb)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	return nil
}

// Write streams the workbook to w.
func Write(w io.Writer, wb Workbook) error {
	f, err := build(wb)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func build(wb Workbook) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), SheetQuestions); err != nil {
		f.Close()
		return nil, err
	}
	for _, name := range []string{SheetAnomalies, SheetValidation} {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, err
		}
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		f.Close()
		return nil, err
	}

	steps := []func(*excelize.File, Workbook, int) error{
		writeQuestions, writeAnomalies, writeValidation,
	}
	for _, step := range steps {
		if err := step(f, wb, header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func writeQuestions(f *excelize.File, wb Workbook, header int) error {
	if err := writeHeader(f, SheetQuestions, questionHeader, header); err != nil {
		return err
	}
	for i, q := range wb.Questions {
		var options, correct []string
		for _, o := range q.Options {
			options = append(options, o.Key+". "+o.Text)
			if o.IsCorrect {
				correct = append(correct, o.Key)
			}
		}
		var anomalies []string
		for _, a := range q.Anomalies {
			anomalies = append(anomalies, string(a.Type))
		}
		row := []any{
			q.Number, q.PageStart, q.PageEnd,
			sectionText(q, exam.SectionQuestion),
			strings.Join(options, "\n"),
			strings.Join(correct, ", "),
			sectionText(q, exam.SectionAnswer),
			sectionText(q, exam.SectionExplanation),
			q.ImageCount(), q.AnomalyScore,
			strings.Join(anomalies, ", "),
		}
		if err := setRow(f, SheetQuestions, i+2, row); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(SheetQuestions, "D", "H", 40); err != nil {
		return err
	}
	return f.SetPanes(SheetQuestions, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func writeAnomalies(f *excelize.File, wb Workbook, header int) error {
	if err := writeHeader(f, SheetAnomalies, []any{"Question", "Type", "Severity", "Message"}, header); err != nil {
		return err
	}
	row := 2
	for _, a := range wb.Report.DocumentAnomalies {
		if err := setRow(f, SheetAnomalies, row, []any{"document", string(a.Type), a.Severity, a.Message}); err != nil {
			return err
		}
		row++
	}
	for _, q := range wb.Questions {
		for _, a := range q.Anomalies {
			if err := setRow(f, SheetAnomalies, row, []any{q.Number, string(a.Type), a.Severity, a.Message}); err != nil {
				return err
			}
			row++
		}
	}
	return f.SetColWidth(SheetAnomalies, "D", "D", 60)
}

func writeValidation(f *excelize.File, wb Workbook, header int) error {
	r := wb.Report
	if err := writeHeader(f, SheetValidation, []any{"Metric", "Value"}, header); err != nil {
		return err
	}
	rows := [][]any{
		{"Exam", wb.Name},
		{"Total questions detected", r.TotalQuestionsDetected},
		{"Structured successfully", r.StructuredSuccessfully},
		{"Success rate", r.SuccessRate},
		{"Missing question numbers", joinInts(r.MissingQuestionNumbers)},
		{"Duplicate question numbers", joinInts(r.DuplicateQuestionNumbers)},
		{"Questions missing answer", joinInts(r.QuestionsMissingAnswer)},
		{"Questions missing explanation", joinInts(r.QuestionsMissingExplanation)},
		{"Orphan images", r.OrphanImages},
		{"Sequence gaps", joinInts(r.SequenceGaps)},
		{"Preamble fragments", r.PreambleFragments},
	}
	for i, row := range rows {
		if err := setRow(f, SheetValidation, i+2, row); err != nil {
			return err
		}
	}

	next := len(rows) + 3
	if len(r.MissingQuestions) > 0 {
		if err := setRow(f, SheetValidation, next, []any{"Missing question", "Page", "Reason"}); err != nil {
			return err
		}
		cell, _ := excelize.CoordinatesToCellName(1, next)
		end, _ := excelize.CoordinatesToCellName(3, next)
		if err := f.SetCellStyle(SheetValidation, cell, end, header); err != nil {
			return err
		}
		for i, m := range r.MissingQuestions {
			page := ""
			if m.PageDetected > 0 {
				page = strconv.Itoa(m.PageDetected)
			}
			if err := setRow(f, SheetValidation, next+1+i, []any{m.Number, page, m.Reason}); err != nil {
				return err
			}
		}
	}
	return f.SetColWidth(SheetValidation, "A", "A", 32)
}

func writeHeader(f *excelize.File, sheet string, cols []any, style int) error {
	if err := setRow(f, sheet, 1, cols); err != nil {
		return err
	}
	end, err := excelize.CoordinatesToCellName(len(cols), 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", end, style)
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("writing %s row %d: %w", sheet, row, err)
	}
	return nil
}

func sectionText(q *exam.ParsedQuestion, s exam.Section) string {
	var parts []string
	for _, b := range q.Section(s) {
		if b.HasText() {
			parts = append(parts, b.Content)
		}
	}
	return strings.Join(parts, "\n")
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}
