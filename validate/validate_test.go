package validate

import (
	"math"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/brunobiangulo/examparse/anchor"
	"github.com/brunobiangulo/examparse/attribution"
	"github.com/brunobiangulo/examparse/exam"
	"github.com/brunobiangulo/examparse/statemachine"
)

func seq(contents ...string) []exam.ContentBlock {
	out := make([]exam.ContentBlock, len(contents))
	for i, c := range contents {
		kind := exam.KindText
		if strings.HasPrefix(c, "img:") {
			kind = exam.KindImage
			c = strings.TrimPrefix(c, "img:")
		}
		out[i] = exam.ContentBlock{Kind: kind, Content: c, PageNumber: 1, OrderIndex: i}
	}
	return out
}

// run parses, evaluates and reports blocks the way the engine does.
func run(blocks []exam.ContentBlock) ([]*exam.ParsedQuestion, exam.ValidationReport) {
	res := statemachine.Parse(blocks, attribution.Config{})
	Evaluate(res.Questions)
	report := Report(Input{
		Questions:   res.Questions,
		Raw:         anchor.ScanRaw(blocks),
		AnchorsSeen: res.AnchorsSeen,
		Preamble:    len(res.Preamble),
	})
	return res.Questions, report
}

func types(anomalies []exam.Anomaly) []exam.AnomalyType {
	out := []exam.AnomalyType{}
	for _, a := range anomalies {
		out = append(out, a.Type)
	}
	return out
}

// ---------------------------------------------------------------------------
// End to end
// ---------------------------------------------------------------------------

func TestEndToEndScenario(t *testing.T) {
	questions, report := run(seq("Question: 1", "2+2=?", "A. 3", "B. 4", "Answer: B", "Question: 2"))

	if len(questions) != 2 {
		t.Fatalf("got %d questions, want 2", len(questions))
	}
	if questions[0].AnomalyScore != 20 {
		t.Errorf("q1 score = %d, want 20", questions[0].AnomalyScore)
	}
	if got := types(questions[0].Anomalies); !reflect.DeepEqual(got, []exam.AnomalyType{exam.AnomalyMissingExplanation}) {
		t.Errorf("q1 anomalies = %v", got)
	}
	if questions[1].AnomalyScore != 160 {
		t.Errorf("q2 score = %d, want 160", questions[1].AnomalyScore)
	}

	if report.TotalQuestionsDetected != 2 {
		t.Errorf("TotalQuestionsDetected = %d, want 2", report.TotalQuestionsDetected)
	}
	if report.StructuredSuccessfully != 1 {
		t.Errorf("StructuredSuccessfully = %d, want 1", report.StructuredSuccessfully)
	}
	if report.SuccessRate != 50.0 {
		t.Errorf("SuccessRate = %v, want 50", report.SuccessRate)
	}
	if !reflect.DeepEqual(report.QuestionsMissingAnswer, []int{2}) {
		t.Errorf("QuestionsMissingAnswer = %v", report.QuestionsMissingAnswer)
	}
	if !reflect.DeepEqual(report.QuestionsMissingExplanation, []int{1, 2}) {
		t.Errorf("QuestionsMissingExplanation = %v", report.QuestionsMissingExplanation)
	}
	// Question 2 is fully empty, so only question 1 is partial.
	if len(report.PartiallyStructured) != 1 || report.PartiallyStructured[0].Number != 1 {
		t.Errorf("PartiallyStructured = %+v", report.PartiallyStructured)
	}
}

// ---------------------------------------------------------------------------
// Anomalies
// ---------------------------------------------------------------------------

func TestEvaluateScores(t *testing.T) {
	tests := []struct {
		name  string
		in    []string
		score int
		types []exam.AnomalyType
	}{
		{
			name:  "complete",
			in:    []string{"Question 1", "prompt", "Answer: A", "Explanation: why"},
			score: 0,
			types: []exam.AnomalyType{},
		},
		{
			name:  "missing answer and explanation",
			in:    []string{"Question 1", "prompt"},
			score: 80,
			types: []exam.AnomalyType{exam.AnomalyMissingAnswer, exam.AnomalyMissingExplanation},
		},
		{
			name:  "explanation without answer",
			in:    []string{"Question 1", "prompt", "Answer", "Explanation: why"},
			score: 110,
			types: []exam.AnomalyType{exam.AnomalyMissingAnswer, exam.AnomalyExplanationWithoutAnswer},
		},
		{
			name:  "orphan image in question",
			in:    []string{"Question 1", "img:fig.png", "Answer: A", "Explanation: why"},
			score: 110,
			types: []exam.AnomalyType{exam.AnomalyMissingQuestionText, exam.AnomalyOrphanImage},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			questions, _ := run(seq(tt.in...))
			q := questions[0]
			if q.AnomalyScore != tt.score {
				t.Errorf("score = %d, want %d", q.AnomalyScore, tt.score)
			}
			if got := types(q.Anomalies); !reflect.DeepEqual(got, tt.types) {
				t.Errorf("anomalies = %v, want %v", got, tt.types)
			}
		})
	}
}

func TestEvaluateMultiPage(t *testing.T) {
	blocks := seq("Question 1", "prompt", "Answer: A", "Explanation: why")
	blocks[3].PageNumber = 2
	questions, _ := run(blocks)
	q := questions[0]
	if q.PageStart != 1 || q.PageEnd != 2 {
		t.Errorf("pages = %d-%d, want 1-2", q.PageStart, q.PageEnd)
	}
	if got := types(q.Anomalies); !reflect.DeepEqual(got, []exam.AnomalyType{exam.AnomalyMultiPageFragmentation}) {
		t.Errorf("anomalies = %v", got)
	}
}

func TestEvaluateIdempotent(t *testing.T) {
	questions, _ := run(seq("Question 1", "prompt"))
	Evaluate(questions)
	if questions[0].AnomalyScore != 80 || len(questions[0].Anomalies) != 2 {
		t.Errorf("re-evaluation accumulated anomalies: %+v", questions[0].Anomalies)
	}
}

// ---------------------------------------------------------------------------
// Report
// ---------------------------------------------------------------------------

func TestReportDuplicates(t *testing.T) {
	questions, report := run(seq(
		"Question 5", "x", "Answer: A",
		"Question 6", "y", "Answer: B",
		"Question 5", "z", "Answer: C",
	))
	if len(questions) != 3 {
		t.Fatalf("got %d questions, want 3 (duplicates are never merged)", len(questions))
	}
	for _, i := range []int{0, 2} {
		found := false
		for _, a := range questions[i].Anomalies {
			if a.Type == exam.AnomalyDuplicateQuestionNumber {
				found = true
			}
		}
		if !found {
			t.Errorf("question at %d lacks duplicate anomaly", i)
		}
	}
	if !reflect.DeepEqual(report.DuplicateQuestionNumbers, []int{5}) {
		t.Errorf("DuplicateQuestionNumbers = %v, want [5]", report.DuplicateQuestionNumbers)
	}
	if report.TotalQuestionsDetected != 3 {
		t.Errorf("TotalQuestionsDetected = %d, want 3", report.TotalQuestionsDetected)
	}
}

func TestReportMissingAndGaps(t *testing.T) {
	blocks := seq(
		"Question 1", "x", "Answer: A",
		"footer text Question 2", "more",
		"Question 4", "y", "Answer: B",
	)
	_, report := run(blocks)

	if !reflect.DeepEqual(report.MissingQuestionNumbers, []int{2, 3}) {
		t.Errorf("MissingQuestionNumbers = %v, want [2 3]", report.MissingQuestionNumbers)
	}
	if !reflect.DeepEqual(report.SequenceGaps, []int{2, 3}) {
		t.Errorf("SequenceGaps = %v, want [2 3]", report.SequenceGaps)
	}
	if len(report.MissingQuestions) != 2 {
		t.Fatalf("MissingQuestions = %+v", report.MissingQuestions)
	}
	// "footer text Question 2" is not matched by the line-start raw scan, so
	// question 2 is reported as a gap too.
	for _, m := range report.MissingQuestions {
		if m.Reason != reasonGap {
			t.Errorf("question %d reason = %q", m.Number, m.Reason)
		}
	}
	if report.TotalQuestionsDetected != 2 {
		t.Errorf("TotalQuestionsDetected = %d, want 2", report.TotalQuestionsDetected)
	}
}

func TestReportNumbersNearMaxInt(t *testing.T) {
	top := math.MaxInt
	blocks := seq(
		"Question: "+strconv.Itoa(top-7), "x", "Answer: A",
		"Question: "+strconv.Itoa(top), "y", "Answer: B",
	)
	_, report := run(blocks)

	want := []int{top - 6, top - 5, top - 4, top - 3, top - 2, top - 1}
	if !reflect.DeepEqual(report.SequenceGaps, want) {
		t.Errorf("SequenceGaps = %v, want %v", report.SequenceGaps, want)
	}
}

func TestReportSpanClamped(t *testing.T) {
	blocks := seq(
		"Question: 1", "x", "Answer: A",
		"Question: "+strconv.Itoa(math.MaxInt), "y", "Answer: B",
	)
	_, report := run(blocks)

	gaps := report.SequenceGaps
	if len(gaps) != maxSequenceSpan {
		t.Fatalf("got %d gaps, want %d", len(gaps), maxSequenceSpan)
	}
	if gaps[0] != 2 || gaps[len(gaps)-1] != 1+maxSequenceSpan {
		t.Errorf("gaps run from %d to %d", gaps[0], gaps[len(gaps)-1])
	}
}

func TestReportRawOnlyAnchor(t *testing.T) {
	blocks := seq(
		"Question 1", "x", "Answer: A",
		"Question 2\nWhat is 3+3?",
		"Question 3", "y", "Answer: B",
	)
	_, report := run(blocks)

	if !reflect.DeepEqual(report.MissingQuestionNumbers, []int{2}) {
		t.Fatalf("MissingQuestionNumbers = %v, want [2]", report.MissingQuestionNumbers)
	}
	if len(report.SequenceGaps) != 0 {
		t.Errorf("SequenceGaps = %v, want none", report.SequenceGaps)
	}
	m := report.MissingQuestions[0]
	if !strings.HasPrefix(m.Reason, reasonRawOnly) || m.PageDetected != 1 {
		t.Errorf("missing question = %+v", m)
	}
	if report.TotalQuestionsDetected != 3 {
		t.Errorf("TotalQuestionsDetected = %d, want 3", report.TotalQuestionsDetected)
	}
	if report.RawDetectedCount != 3 {
		t.Errorf("RawDetectedCount = %d, want 3", report.RawDetectedCount)
	}
}

func TestReportEmpty(t *testing.T) {
	_, report := run(nil)
	if report.TotalQuestionsDetected != 0 || report.SuccessRate != 0 {
		t.Errorf("report = %+v", report)
	}
	if report.MissingQuestionNumbers == nil || report.AnomalyBreakdown == nil {
		t.Error("empty report has nil collections")
	}
}

func TestReportOrphanImagesAndBreakdown(t *testing.T) {
	_, report := run(seq("Question 1", "img:a.png", "img:b.png", "Answer: A", "Explanation: e"))
	if report.OrphanImages != 2 {
		t.Errorf("OrphanImages = %d, want 2", report.OrphanImages)
	}
	if report.AnomalyBreakdown[string(exam.AnomalyOrphanImage)] != 1 {
		t.Errorf("AnomalyBreakdown = %v", report.AnomalyBreakdown)
	}
	if report.SeverityBreakdown[string(exam.AnomalyMissingQuestionText)] != 80 {
		t.Errorf("SeverityBreakdown = %v", report.SeverityBreakdown)
	}
}

func TestReportSuccessRateRounded(t *testing.T) {
	_, report := run(seq(
		"Question 1", "x", "Answer: A",
		"Question 2", "y",
		"Question 3", "z",
	))
	if report.SuccessRate != 33.33 {
		t.Errorf("SuccessRate = %v, want 33.33", report.SuccessRate)
	}
}

func TestDiagnose(t *testing.T) {
	r := Diagnose(anchor.RawAnchor{Number: 2, LineStart: false, LastOnPage: true})
	if !strings.Contains(r, "embedded") || !strings.Contains(r, "page edge") {
		t.Errorf("Diagnose = %q", r)
	}
	r = Diagnose(anchor.RawAnchor{Number: 2, LineStart: true})
	if !strings.Contains(r, "shares its fragment") || strings.Contains(r, "page edge") {
		t.Errorf("Diagnose = %q", r)
	}
}

// ---------------------------------------------------------------------------
// Document
// ---------------------------------------------------------------------------

func TestDocumentMatchesMachineCounts(t *testing.T) {
	blocks := seq("Exam cover", "Instructions", "Question 1", "x", "Answer: A", "Question 2", "y")
	res := statemachine.Parse(blocks, attribution.Config{})
	_, want := run(blocks)

	order := []exam.Anomaly{exam.NewAnomaly(exam.AnomalyOrderCorrected, "re-sorted")}
	got := Document(res.Questions, blocks, order)

	if got.PreambleFragments != len(res.Preamble) || got.PreambleFragments != 2 {
		t.Errorf("PreambleFragments = %d, want %d", got.PreambleFragments, len(res.Preamble))
	}
	if got.TotalQuestionsDetected != want.TotalQuestionsDetected {
		t.Errorf("TotalQuestionsDetected = %d, want %d", got.TotalQuestionsDetected, want.TotalQuestionsDetected)
	}
	if got.SuccessRate != want.SuccessRate {
		t.Errorf("SuccessRate = %v, want %v", got.SuccessRate, want.SuccessRate)
	}
	if len(got.DocumentAnomalies) != 1 || got.AnomalyBreakdown[string(exam.AnomalyOrderCorrected)] != 1 {
		t.Errorf("document anomalies = %+v, breakdown %v", got.DocumentAnomalies, got.AnomalyBreakdown)
	}
	if res.Questions[1].AnomalyScore == 0 {
		t.Error("Document did not evaluate the questions")
	}
}

func TestDocumentWithoutQuestions(t *testing.T) {
	got := Document(nil, seq("just", "text"), nil)
	if got.PreambleFragments != 2 || got.TotalQuestionsDetected != 0 {
		t.Errorf("report = %+v", got)
	}
}
