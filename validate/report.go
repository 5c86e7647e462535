package validate

import (
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/brunobiangulo/examparse/anchor"
	"github.com/brunobiangulo/examparse/exam"
)

// Input is everything the report is built from. Questions must already have
// been evaluated.
type Input struct {
	Questions []*exam.ParsedQuestion
	// Raw is the raw anchor scan over the whole fragment sequence.
	Raw []anchor.RawAnchor
	// AnchorsSeen counts the question anchors the state machine recognized.
	AnchorsSeen       int
	Preamble          int
	DocumentAnomalies []exam.Anomaly
}

// maxSequenceSpan bounds the number range scanned for missing questions.
const maxSequenceSpan = 10000

const (
	reasonRawOnly = "found in raw anchor scan but never finalized"
	reasonGap     = "sequence gap, anchor never observed"
)

// Report builds the document-level validation report.
func Report(in Input) exam.ValidationReport {
	r := exam.NewValidationReport()
	r.PreambleFragments = in.Preamble
	r.RawDetectedCount = len(in.Raw)
	if len(in.DocumentAnomalies) > 0 {
		r.DocumentAnomalies = append(r.DocumentAnomalies, in.DocumentAnomalies...)
	}

	parsed := make(map[int]int)
	for _, q := range in.Questions {
		parsed[q.Number]++

		if q.HasQuestionText() && q.HasAnswer() {
			r.StructuredSuccessfully++
		}
		if !q.HasAnswer() {
			r.QuestionsMissingAnswer = append(r.QuestionsMissingAnswer, q.Number)
		}
		if !q.HasExplanation() {
			r.QuestionsMissingExplanation = append(r.QuestionsMissingExplanation, q.Number)
		}
		if missing := absentSections(q); len(missing) > 0 && !q.IsEmpty() {
			r.PartiallyStructured = append(r.PartiallyStructured, exam.PartialQuestion{
				Number:    q.Number,
				PageStart: q.PageStart,
				PageEnd:   q.PageEnd,
				Missing:   missing,
			})
		}
		for _, s := range exam.Sections() {
			if orphanSection(q.Blocks[s]) {
				r.OrphanImages += len(q.Blocks[s])
			}
		}
		for _, a := range q.Anomalies {
			r.AnomalyBreakdown[string(a.Type)]++
			r.SeverityBreakdown[string(a.Type)] += a.Severity
		}
	}
	for _, a := range r.DocumentAnomalies {
		r.AnomalyBreakdown[string(a.Type)]++
	}

	for n, c := range parsed {
		if c > 1 {
			r.DuplicateQuestionNumbers = append(r.DuplicateQuestionNumbers, n)
		}
	}
	sort.Ints(r.DuplicateQuestionNumbers)

	raw := make(map[int][]anchor.RawAnchor)
	for _, a := range in.Raw {
		raw[a.Number] = append(raw[a.Number], a)
	}
	rawOnly := 0
	for n := range raw {
		if parsed[n] == 0 {
			rawOnly++
		}
	}
	r.TotalQuestionsDetected = in.AnchorsSeen + rawOnly

	if lo, hi, ok := numberRange(parsed, raw); ok {
		if hi-lo > maxSequenceSpan {
			hi = lo + maxSequenceSpan
		}
		// n >= lo stops the walk if n++ wraps past math.MaxInt.
		for n := lo; n <= hi && n >= lo; n++ {
			if parsed[n] > 0 {
				continue
			}
			r.MissingQuestionNumbers = append(r.MissingQuestionNumbers, n)
			occ, seen := raw[n]
			if !seen {
				r.SequenceGaps = append(r.SequenceGaps, n)
				r.MissingQuestions = append(r.MissingQuestions, exam.MissingQuestion{Number: n, Reason: reasonGap})
				continue
			}
			r.MissingQuestions = append(r.MissingQuestions, exam.MissingQuestion{
				Number:       n,
				PageDetected: occ[0].Page,
				Reason:       Diagnose(occ[0]),
			})
		}
	}

	if r.TotalQuestionsDetected > 0 {
		rate := float64(r.StructuredSuccessfully) / float64(r.TotalQuestionsDetected) * 100
		r.SuccessRate = math.Round(rate*100) / 100
	}

	slog.Info("validate: report built",
		"detected", r.TotalQuestionsDetected,
		"structured", r.StructuredSuccessfully,
		"missing", len(r.MissingQuestionNumbers),
		"duplicates", len(r.DuplicateQuestionNumbers),
		"success_rate", r.SuccessRate)
	return r
}

// Document evaluates questions as one set and reports on the ordered
// fragment sequence they were parsed from. Every question anchor opens
// exactly one question, so the anchor count is the question count, and the
// preamble is whatever precedes the first anchor.
func Document(questions []*exam.ParsedQuestion, blocks []exam.ContentBlock, docAnomalies []exam.Anomaly) exam.ValidationReport {
	Evaluate(questions)
	preamble := len(blocks)
	if len(questions) > 0 {
		first := questions[0].Anchor.OrderIndex
		preamble = 0
		for _, b := range blocks {
			if b.OrderIndex < first {
				preamble++
			}
		}
	}
	return Report(Input{
		Questions:         questions,
		Raw:               anchor.ScanRaw(blocks),
		AnchorsSeen:       len(questions),
		Preamble:          preamble,
		DocumentAnomalies: docAnomalies,
	})
}

// Diagnose explains why a question number found by the raw scan never
// produced a finalized question. It is a heuristic over where the raw
// occurrence sits: text sharing its fragment keeps the structured pass from
// seeing a bare anchor, and the first or last fragment of a page is where
// running headers, footers and page-boundary splits land.
func Diagnose(a anchor.RawAnchor) string {
	details := []string{reasonRawOnly}
	switch {
	case a.Bare:
		details = append(details, "anchor was recognized but its question was not kept")
	case !a.LineStart:
		details = append(details, "anchor embedded after other text in its fragment")
	default:
		details = append(details, "anchor shares its fragment with other text")
	}
	if a.FirstOnPage || a.LastOnPage {
		details = append(details, "fragment is at a page edge (header/footer noise or page-boundary split)")
	}
	return strings.Join(details, "; ")
}

func absentSections(q *exam.ParsedQuestion) []string {
	var missing []string
	if !q.HasQuestionText() {
		missing = append(missing, "question_text")
	}
	if !q.HasAnswer() {
		missing = append(missing, "answer")
	}
	if !q.HasExplanation() {
		missing = append(missing, "explanation")
	}
	return missing
}

func numberRange(parsed map[int]int, raw map[int][]anchor.RawAnchor) (lo, hi int, ok bool) {
	visit := func(n int) {
		if !ok {
			lo, hi, ok = n, n, true
			return
		}
		lo = min(lo, n)
		hi = max(hi, n)
	}
	for n := range parsed {
		visit(n)
	}
	for n := range raw {
		visit(n)
	}
	return lo, hi, ok
}
