package anchor

import (
	"testing"

	"github.com/brunobiangulo/examparse/exam"
)

// ---------------------------------------------------------------------------
// Classify
// ---------------------------------------------------------------------------

func TestClassify(t *testing.T) {
	tests := []struct {
		in   string
		want Class
	}{
		{"Question: 1", Class{Kind: Question, Number: 1}},
		{"  QUESTION 12  ", Class{Kind: Question, Number: 12}},
		{"question:7:", Class{Kind: Question, Number: 7}},
		{"Question 3 of 40", Class{}},
		{"See Question 4", Class{}},
		{"Question: 99999999999999999999999", Class{}},
		{"Answer:", Class{Kind: Answer}},
		{"answer", Class{Kind: Answer}},
		{"Answer: B", Class{Kind: Answer, Remainder: "B"}},
		{"ANSWER  A, C", Class{Kind: Answer, Remainder: "A, C"}},
		{"Answers are at the end", Class{}},
		{"Explanation:", Class{Kind: Explanation}},
		{"Explanation: because 2+2=4", Class{Kind: Explanation, Remainder: "because 2+2=4"}},
		{"A. 3", Class{Kind: Option, Letter: "A", Remainder: "3"}},
		{"b) four", Class{Kind: Option, Letter: "B", Remainder: "four"}},
		{"C: maybe", Class{Kind: Option, Letter: "C", Remainder: "maybe"}},
		{"D\tTab separated", Class{Kind: Option, Letter: "D", Remainder: "Tab separated"}},
		{"E.", Class{Kind: Option, Letter: "E"}},
		{"AB. not an option", Class{}},
		{"2+2=?", Class{}},
		{"", Class{}},
		{"   ", Class{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Classify(tt.in); got != tt.want {
				t.Errorf("Classify(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestClassifyMultiLineFragment(t *testing.T) {
	tests := []struct {
		in   string
		want Class
	}{
		{"Question: 4\nWhat is 2+2?", Class{Kind: Question, Number: 4}},
		{"\n  Question: 4  \nWhat is 2+2?", Class{Kind: Question, Number: 4}},
		{"Answer: B\nExplanation: arithmetic", Class{Kind: Answer, Remainder: "B"}},
		{"A. 3\nB. 4", Class{Kind: Option, Letter: "A", Remainder: "3"}},
		{"What is 2+2?\nQuestion: 4", Class{}},
	}
	for _, tt := range tests {
		if got := Classify(tt.in); got != tt.want {
			t.Errorf("Classify(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestLines(t *testing.T) {
	got := Lines(" Question: 1 \r\n\n  What is 2+2?\n\t\n")
	want := []string{"Question: 1", "What is 2+2?"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Lines = %q, want %q", got, want)
	}
	if got := Lines(" \n\t"); len(got) != 0 {
		t.Errorf("Lines(blank) = %q, want none", got)
	}
}

// ---------------------------------------------------------------------------
// ScanRaw
// ---------------------------------------------------------------------------

func TestScanRaw(t *testing.T) {
	blocks := []exam.ContentBlock{
		{Kind: exam.KindText, Content: "Exam header Question 9", PageNumber: 1, OrderIndex: 0},
		{Kind: exam.KindText, Content: "Question: 1", PageNumber: 1, OrderIndex: 1},
		{Kind: exam.KindImage, Content: "Question: 5", PageNumber: 1, OrderIndex: 2},
		{Kind: exam.KindText, Content: "text\nQuestion 2 is here", PageNumber: 1, OrderIndex: 3},
		{Kind: exam.KindText, Content: "Question 3", PageNumber: 2, OrderIndex: 4},
		{Kind: exam.KindText, Content: "Intro\nQuestion: 4\nPrompt", PageNumber: 2, OrderIndex: 5},
	}
	got := ScanRaw(blocks)
	if len(got) != 4 {
		t.Fatalf("ScanRaw found %d anchors, want 4: %+v", len(got), got)
	}

	if got[0].Number != 1 || !got[0].Bare || !got[0].LineStart || got[0].FirstOnPage {
		t.Errorf("anchor 1 = %+v", got[0])
	}
	if got[1].Number != 2 || got[1].Bare || got[1].LineStart || !got[1].LastOnPage {
		t.Errorf("anchor 2 = %+v", got[1])
	}
	if got[2].Number != 3 || got[2].Page != 2 || !got[2].FirstOnPage || got[2].LastOnPage {
		t.Errorf("anchor 3 = %+v", got[2])
	}
	if got[3].Number != 4 || !got[3].Bare || got[3].LineStart || !got[3].LastOnPage {
		t.Errorf("anchor 4 = %+v", got[3])
	}
}
