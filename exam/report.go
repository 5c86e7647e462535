package exam

// MissingQuestion is a question number expected by the observed sequence
// but absent from the finalized set.
type MissingQuestion struct {
	Number       int    `json:"question_number"`
	PageDetected int    `json:"page_detected,omitempty"`
	Reason       string `json:"reason"`
}

// PartialQuestion is a finalized question missing some of its content.
type PartialQuestion struct {
	Number    int      `json:"question_number"`
	PageStart int      `json:"page_start"`
	PageEnd   int      `json:"page_end"`
	Missing   []string `json:"missing"`
}

// ValidationReport is the document-level aggregate built once after every
// question has been finalized.
type ValidationReport struct {
	TotalQuestionsDetected      int               `json:"total_questions_detected"`
	StructuredSuccessfully      int               `json:"structured_successfully"`
	MissingQuestionNumbers      []int             `json:"missing_question_numbers"`
	DuplicateQuestionNumbers    []int             `json:"duplicate_question_numbers"`
	QuestionsMissingAnswer      []int             `json:"questions_missing_answer"`
	QuestionsMissingExplanation []int             `json:"questions_missing_explanation"`
	OrphanImages                int               `json:"orphan_images"`
	AnomalyBreakdown            map[string]int    `json:"anomaly_breakdown"`
	SuccessRate                 float64           `json:"success_rate"`
	MissingQuestions            []MissingQuestion `json:"missing_questions"`
	PartiallyStructured         []PartialQuestion `json:"partially_structured"`
	SequenceGaps                []int             `json:"sequence_gaps"`
	SeverityBreakdown           map[string]int    `json:"severity_breakdown"`
	DocumentAnomalies           []Anomaly         `json:"document_anomalies"`
	PreambleFragments           int               `json:"preamble_fragments"`
	RawDetectedCount            int               `json:"raw_detected_count"`
}

// NewValidationReport returns a report whose lists and maps are empty
// rather than nil, so that it serializes with [] and {}.
func NewValidationReport() ValidationReport {
	return ValidationReport{
		MissingQuestionNumbers:      []int{},
		DuplicateQuestionNumbers:    []int{},
		QuestionsMissingAnswer:      []int{},
		QuestionsMissingExplanation: []int{},
		AnomalyBreakdown:            map[string]int{},
		MissingQuestions:            []MissingQuestion{},
		PartiallyStructured:         []PartialQuestion{},
		SequenceGaps:                []int{},
		SeverityBreakdown:           map[string]int{},
		DocumentAnomalies:           []Anomaly{},
	}
}
