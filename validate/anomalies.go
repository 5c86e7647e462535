// Package validate computes per-question anomalies and the document-level
// validation report for a finalized question set.
package validate

import (
	"fmt"
	"strings"

	"github.com/brunobiangulo/examparse/exam"
)

// Evaluate assigns anomalies and anomaly scores to every question. It is
// idempotent: previous anomalies are replaced. Duplicate detection looks at
// the whole set, so all questions of a document must be evaluated together.
func Evaluate(questions []*exam.ParsedQuestion) {
	counts := make(map[int]int, len(questions))
	for _, q := range questions {
		counts[q.Number]++
	}
	for _, q := range questions {
		q.Anomalies = evaluate(q, counts[q.Number])
		q.AnomalyScore = 0
		for _, a := range q.Anomalies {
			q.AnomalyScore += a.Severity
		}
	}
}

func evaluate(q *exam.ParsedQuestion, occurrences int) []exam.Anomaly {
	anomalies := []exam.Anomaly{}
	add := func(t exam.AnomalyType, msg string, sections ...string) {
		anomalies = append(anomalies, exam.NewAnomaly(t, msg, sections...))
	}

	if !q.HasQuestionText() {
		add(exam.AnomalyMissingQuestionText, "question section has no text")
	}
	if !q.HasAnswer() {
		add(exam.AnomalyMissingAnswer, "answer section has no text")
	}
	if len(q.Blocks[exam.SectionExplanation]) > 0 && !q.HasAnswer() {
		add(exam.AnomalyExplanationWithoutAnswer, "explanation present but answer is empty")
	}
	if occurrences > 1 {
		add(exam.AnomalyDuplicateQuestionNumber,
			fmt.Sprintf("question number %d appears %d times", q.Number, occurrences))
	}
	if orphans := OrphanSections(q); len(orphans) > 0 {
		add(exam.AnomalyOrphanImage,
			"section contains only images: "+strings.Join(orphans, ", "), orphans...)
	}
	if !q.HasExplanation() {
		add(exam.AnomalyMissingExplanation, "explanation section has no text")
	}
	if q.PageStart != q.PageEnd {
		add(exam.AnomalyMultiPageFragmentation,
			fmt.Sprintf("question spans pages %d-%d", q.PageStart, q.PageEnd))
	}
	return anomalies
}

// OrphanSections names the sections of q that hold images but no text.
func OrphanSections(q *exam.ParsedQuestion) []string {
	var out []string
	for _, s := range exam.Sections() {
		if orphanSection(q.Blocks[s]) {
			out = append(out, s.String())
		}
	}
	return out
}

func orphanSection(blocks []exam.ContentBlock) bool {
	if len(blocks) == 0 {
		return false
	}
	for _, b := range blocks {
		if b.IsText() {
			return false
		}
	}
	return true
}
