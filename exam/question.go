package exam

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Section is one of the four buckets a question's content is partitioned into.
type Section uint8

const (
	SectionQuestion Section = iota
	SectionOptions
	SectionAnswer
	SectionExplanation
)

// NumSections is the number of sections every question carries.
const NumSections = 4

var sectionNames = [NumSections]string{"question", "options", "answer", "explanation"}

// Sections lists the sections in serialization order.
func Sections() []Section {
	return []Section{SectionQuestion, SectionOptions, SectionAnswer, SectionExplanation}
}

func (s Section) String() string {
	if int(s) < NumSections {
		return sectionNames[s]
	}
	return fmt.Sprintf("section(%d)", uint8(s))
}

// ParseSection maps a section name back to its Section.
func ParseSection(name string) (Section, bool) {
	for i, n := range sectionNames {
		if strings.EqualFold(n, name) {
			return Section(i), true
		}
	}
	return 0, false
}

// Option is the derived per-letter view of a question's Options section.
type Option struct {
	Key       string   `json:"key"`
	Text      string   `json:"text"`
	Images    []string `json:"images"`
	IsCorrect bool     `json:"is_correct"`
}

// ParsedQuestion is one exam question assembled by the state machine.
// Blocks holds the section partition; Anchor and Markers hold the
// structural fragments that opened the question or a section without
// contributing content.
type ParsedQuestion struct {
	Number        int
	PageStart     int
	PageEnd       int
	Anchor        ContentBlock
	Markers       []ContentBlock
	Blocks        [NumSections][]ContentBlock
	DroppedImages []ContentBlock
	Options       []Option
	Anomalies     []Anomaly
	AnomalyScore  int
	RawText       string
}

// Section returns the fragments of section s.
func (q *ParsedQuestion) Section(s Section) []ContentBlock {
	return q.Blocks[s]
}

// HasText reports whether section s contains at least one non-blank text fragment.
func (q *ParsedQuestion) HasText(s Section) bool {
	for _, b := range q.Blocks[s] {
		if b.HasText() {
			return true
		}
	}
	return false
}

func (q *ParsedQuestion) HasQuestionText() bool { return q.HasText(SectionQuestion) }
func (q *ParsedQuestion) HasAnswer() bool       { return q.HasText(SectionAnswer) }
func (q *ParsedQuestion) HasExplanation() bool  { return q.HasText(SectionExplanation) }

// ImageCount counts image fragments across all sections.
func (q *ParsedQuestion) ImageCount() int {
	n := 0
	for _, blocks := range q.Blocks {
		for _, b := range blocks {
			if b.IsImage() {
				n++
			}
		}
	}
	return n
}

// IsEmpty reports whether no section holds any fragment.
func (q *ParsedQuestion) IsEmpty() bool {
	for _, blocks := range q.Blocks {
		if len(blocks) > 0 {
			return false
		}
	}
	return true
}

// Fragments returns every fragment owned by the question: the anchor,
// markers, section content and dropped images, in order_index order.
func (q *ParsedQuestion) Fragments() []ContentBlock {
	out := []ContentBlock{q.Anchor}
	out = append(out, q.Markers...)
	for _, blocks := range q.Blocks {
		out = append(out, blocks...)
	}
	out = append(out, q.DroppedImages...)
	ordered, _ := EnsureOrdered(out)
	return ordered
}

var answerKeyRe = regexp.MustCompile(`\b([A-Z])\b`)

// Finalize computes the derived fields of a sealed question: the page span,
// option images and correctness, and RawText. Options must already carry
// their keys and text.
func (q *ParsedQuestion) Finalize() {
	q.PageStart, q.PageEnd = q.Anchor.PageNumber, q.Anchor.PageNumber
	span := func(b ContentBlock) {
		if b.PageNumber < q.PageStart {
			q.PageStart = b.PageNumber
		}
		if b.PageNumber > q.PageEnd {
			q.PageEnd = b.PageNumber
		}
	}
	for _, b := range q.Markers {
		span(b)
	}
	for _, blocks := range q.Blocks {
		for _, b := range blocks {
			span(b)
		}
	}

	for i := range q.Options {
		q.Options[i].Images = []string{}
		q.Options[i].IsCorrect = false
	}
	for _, b := range q.Blocks[SectionOptions] {
		if !b.IsImage() || b.OptionKey == "" {
			continue
		}
		if i := q.lastOption(b.OptionKey); i >= 0 {
			q.Options[i].Images = append(q.Options[i].Images, b.Content)
		}
	}

	answer := q.sectionText(SectionAnswer, " ")
	keys := make(map[string]bool)
	for _, m := range answerKeyRe.FindAllStringSubmatch(answer, -1) {
		keys[m[1]] = true
	}
	for i := range q.Options {
		q.Options[i].IsCorrect = keys[q.Options[i].Key]
	}

	var parts []string
	for _, s := range Sections() {
		if t := q.sectionText(s, "\n"); t != "" {
			parts = append(parts, t)
		}
	}
	q.RawText = strings.Join(parts, "\n")
}

func (q *ParsedQuestion) lastOption(key string) int {
	for i := len(q.Options) - 1; i >= 0; i-- {
		if q.Options[i].Key == key {
			return i
		}
	}
	return -1
}

func (q *ParsedQuestion) sectionText(s Section, sep string) string {
	var parts []string
	for _, b := range q.Blocks[s] {
		if b.HasText() {
			parts = append(parts, b.Content)
		}
	}
	return strings.Join(parts, sep)
}

// questionJSON is the wire form of ParsedQuestion.
type questionJSON struct {
	Number          int                       `json:"question_number"`
	PageStart       int                       `json:"page_start"`
	PageEnd         int                       `json:"page_end"`
	Anchor          ContentBlock              `json:"anchor"`
	Markers         []ContentBlock            `json:"markers,omitempty"`
	Blocks          map[string][]ContentBlock `json:"blocks"`
	Options         []Option                  `json:"options"`
	Anomalies       []Anomaly                 `json:"anomalies"`
	AnomalyScore    int                       `json:"anomaly_score"`
	HasQuestionText bool                      `json:"has_question_text"`
	HasAnswer       bool                      `json:"has_answer"`
	HasExplanation  bool                      `json:"has_explanation"`
	ImageCount      int                       `json:"image_count"`
	RawText         string                    `json:"raw_text"`
	DroppedImages   []ContentBlock            `json:"dropped_images,omitempty"`
}

// MarshalJSON writes the question with blocks keyed by section name.
// Empty sections and lists are written as [] rather than null.
func (q ParsedQuestion) MarshalJSON() ([]byte, error) {
	w := questionJSON{
		Number:          q.Number,
		PageStart:       q.PageStart,
		PageEnd:         q.PageEnd,
		Anchor:          q.Anchor,
		Markers:         q.Markers,
		Blocks:          make(map[string][]ContentBlock, NumSections),
		Options:         q.Options,
		Anomalies:       q.Anomalies,
		AnomalyScore:    q.AnomalyScore,
		HasQuestionText: q.HasQuestionText(),
		HasAnswer:       q.HasAnswer(),
		HasExplanation:  q.HasExplanation(),
		ImageCount:      q.ImageCount(),
		RawText:         q.RawText,
		DroppedImages:   q.DroppedImages,
	}
	for _, s := range Sections() {
		blocks := q.Blocks[s]
		if blocks == nil {
			blocks = []ContentBlock{}
		}
		w.Blocks[s.String()] = blocks
	}
	if w.Options == nil {
		w.Options = []Option{}
	}
	if w.Anomalies == nil {
		w.Anomalies = []Anomaly{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads the form written by MarshalJSON. Derived flags are
// recomputed from the blocks rather than trusted.
func (q *ParsedQuestion) UnmarshalJSON(data []byte) error {
	var w questionJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*q = ParsedQuestion{
		Number:        w.Number,
		PageStart:     w.PageStart,
		PageEnd:       w.PageEnd,
		Anchor:        w.Anchor,
		Markers:       w.Markers,
		DroppedImages: w.DroppedImages,
		Options:       w.Options,
		Anomalies:     w.Anomalies,
		AnomalyScore:  w.AnomalyScore,
		RawText:       w.RawText,
	}
	for name, blocks := range w.Blocks {
		s, ok := ParseSection(name)
		if !ok {
			return fmt.Errorf("exam: unknown section %q", name)
		}
		if len(blocks) > 0 {
			q.Blocks[s] = blocks
		}
	}
	return nil
}
