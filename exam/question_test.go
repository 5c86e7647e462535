package exam

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestFinalizeOptionsAndPages(t *testing.T) {
	q := &ParsedQuestion{Number: 3, Anchor: Text("Question 3", 2, BBox{})}
	q.Blocks[SectionQuestion] = []ContentBlock{Text("Pick all that apply", 2, BBox{})}
	q.Blocks[SectionOptions] = []ContentBlock{
		{Kind: KindText, Content: "A. red", PageNumber: 2, OptionKey: "A"},
		{Kind: KindImage, Content: "red.png", PageNumber: 3, OptionKey: "A"},
		{Kind: KindText, Content: "B. blue", PageNumber: 3, OptionKey: "B"},
		{Kind: KindText, Content: "C. green", PageNumber: 3, OptionKey: "C"},
	}
	q.Blocks[SectionAnswer] = []ContentBlock{Text("A and C", 3, BBox{})}
	q.Options = []Option{{Key: "A", Text: "red"}, {Key: "B", Text: "blue"}, {Key: "C", Text: "green"}}

	q.Finalize()

	if q.PageStart != 2 || q.PageEnd != 3 {
		t.Errorf("pages = %d-%d, want 2-3", q.PageStart, q.PageEnd)
	}
	if len(q.Options[0].Images) != 1 || q.Options[0].Images[0] != "red.png" {
		t.Errorf("option A images = %v", q.Options[0].Images)
	}
	if !q.Options[0].IsCorrect || q.Options[1].IsCorrect || !q.Options[2].IsCorrect {
		t.Errorf("correctness = %+v", q.Options)
	}
	if !strings.HasPrefix(q.RawText, "Pick all that apply\nA. red\nB. blue") {
		t.Errorf("RawText = %q", q.RawText)
	}
}

func TestQuestionJSON(t *testing.T) {
	q := ParsedQuestion{Number: 1, PageStart: 1, PageEnd: 1, Anchor: Text("Question 1", 1, BBox{})}
	q.Blocks[SectionQuestion] = []ContentBlock{Text("2+2=?", 1, BBox{})}
	q.Blocks[SectionAnswer] = []ContentBlock{Text("4", 1, BBox{})}
	q.Anomalies = []Anomaly{NewAnomaly(AnomalyMissingExplanation, "explanation section has no text")}
	q.AnomalyScore = 20

	data, err := json.Marshal(q)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"question_number", "page_start", "page_end", "blocks", "anomalies",
		"anomaly_score", "has_question_text", "has_answer", "has_explanation", "image_count"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}
	blocks := raw["blocks"].(map[string]any)
	for _, s := range Sections() {
		if _, ok := blocks[s.String()].([]any); !ok {
			t.Errorf("blocks[%q] is not an array: %v", s, blocks[s.String()])
		}
	}
	if raw["has_explanation"] != false || raw["has_answer"] != true {
		t.Errorf("presence flags = %v %v", raw["has_answer"], raw["has_explanation"])
	}

	var back ParsedQuestion
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.Number != 1 || !back.HasAnswer() || back.HasExplanation() || back.AnomalyScore != 20 {
		t.Errorf("decoded = %+v", back)
	}
}

func TestParseSection(t *testing.T) {
	for _, s := range Sections() {
		got, ok := ParseSection(strings.ToUpper(s.String()))
		if !ok || got != s {
			t.Errorf("ParseSection(%q) = %v, %v", s, got, ok)
		}
	}
	if _, ok := ParseSection("appendix"); ok {
		t.Error("ParseSection accepted an unknown name")
	}
}
