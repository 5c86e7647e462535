package exam

// AnomalyType names a structural anomaly. Each type has a fixed severity.
type AnomalyType string

const (
	AnomalyMissingQuestionText      AnomalyType = "missing_question_text"
	AnomalyMissingAnswer            AnomalyType = "missing_answer"
	AnomalyExplanationWithoutAnswer AnomalyType = "explanation_without_answer"
	AnomalyDuplicateQuestionNumber  AnomalyType = "duplicate_question_number"
	AnomalyOrphanImage              AnomalyType = "orphan_image"
	AnomalyMissingExplanation       AnomalyType = "missing_explanation"
	AnomalyMultiPageFragmentation   AnomalyType = "multi_page_fragmentation"

	// AnomalyOrderCorrected is document-level: the fragment sequence reached
	// the parser out of order and was re-sorted.
	AnomalyOrderCorrected AnomalyType = "order_index_corrected"
)

var severities = map[AnomalyType]int{
	AnomalyMissingQuestionText:      80,
	AnomalyMissingAnswer:            60,
	AnomalyExplanationWithoutAnswer: 50,
	AnomalyDuplicateQuestionNumber:  40,
	AnomalyOrphanImage:              30,
	AnomalyMissingExplanation:       20,
	AnomalyMultiPageFragmentation:   10,
	AnomalyOrderCorrected:           0,
}

// Severity returns the fixed severity of t, or 0 for unknown types.
func (t AnomalyType) Severity() int {
	return severities[t]
}

// Anomaly is a computed structural finding about a question or document.
type Anomaly struct {
	Type     AnomalyType `json:"type"`
	Severity int         `json:"severity"`
	Message  string      `json:"message"`
	Sections []string    `json:"sections,omitempty"`
}

// NewAnomaly builds an anomaly with the severity fixed for its type.
func NewAnomaly(t AnomalyType, message string, sections ...string) Anomaly {
	return Anomaly{Type: t, Severity: t.Severity(), Message: message, Sections: sections}
}
