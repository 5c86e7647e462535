// Package anchor recognizes the literal text patterns that mark structural
// transitions in an exam document.
package anchor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind is the classification of a single text fragment.
type Kind uint8

const (
	None Kind = iota
	Question
	Option
	Answer
	Explanation
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Question:
		return "question"
	case Option:
		return "option"
	case Answer:
		return "answer"
	case Explanation:
		return "explanation"
	default:
		return fmt.Sprintf("anchor(%d)", uint8(k))
	}
}

// Class is the result of classifying one fragment. Number is set for
// Question anchors, Letter for Option anchors. Remainder holds the text
// after an inline Option, Answer or Explanation anchor.
type Class struct {
	Kind      Kind
	Number    int
	Letter    string
	Remainder string
}

// IsAnchor reports whether the fragment signals a transition.
func (c Class) IsAnchor() bool { return c.Kind != None }

var (
	questionRe    = regexp.MustCompile(`(?i)^question\s*:?\s*(\d+)\s*:?$`)
	answerRe      = regexp.MustCompile(`(?i)^answer\b\s*:?\s*(.*)$`)
	explanationRe = regexp.MustCompile(`(?i)^explanation\b\s*:?\s*(.*)$`)
	optionRe      = regexp.MustCompile(`(?i)^([a-z])(?:[.):]|\s)\s*(.*)$`)
)

// Classify inspects the first non-blank line of a text fragment. Matching
// is case-insensitive and anchored to the start of the trimmed line.
// Classify never fails: anything that is not a well-formed anchor is None.
func Classify(text string) Class {
	lines := Lines(text)
	if len(lines) == 0 {
		return Class{}
	}
	line := lines[0]

	if m := questionRe.FindStringSubmatch(line); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return Class{}
		}
		return Class{Kind: Question, Number: n}
	}
	if m := answerRe.FindStringSubmatch(line); m != nil {
		return Class{Kind: Answer, Remainder: strings.TrimSpace(m[1])}
	}
	if m := explanationRe.FindStringSubmatch(line); m != nil {
		return Class{Kind: Explanation, Remainder: strings.TrimSpace(m[1])}
	}
	if m := optionRe.FindStringSubmatch(line); m != nil {
		return Class{Kind: Option, Letter: strings.ToUpper(m[1]), Remainder: strings.TrimSpace(m[2])}
	}
	return Class{}
}

// Lines returns the trimmed non-blank lines of a fragment.
func Lines(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
