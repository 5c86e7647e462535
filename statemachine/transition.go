// Package statemachine assembles exam questions from an ordered fragment
// sequence, driven only by literal text anchors.
package statemachine

import (
	"fmt"

	"github.com/brunobiangulo/examparse/anchor"
	"github.com/brunobiangulo/examparse/exam"
)

// State is the parser's position within the current question.
type State uint8

const (
	SeekingQuestion State = iota
	QuestionBody
	Options
	Answer
	Explanation
)

func (s State) String() string {
	switch s {
	case SeekingQuestion:
		return "SEEKING_QUESTION"
	case QuestionBody:
		return "QUESTION_BODY"
	case Options:
		return "OPTIONS"
	case Answer:
		return "ANSWER"
	case Explanation:
		return "EXPLANATION"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Section returns the section that content is appended to in state s.
// SeekingQuestion has no section.
func (s State) Section() (exam.Section, bool) {
	switch s {
	case QuestionBody:
		return exam.SectionQuestion, true
	case Options:
		return exam.SectionOptions, true
	case Answer:
		return exam.SectionAnswer, true
	case Explanation:
		return exam.SectionExplanation, true
	}
	return 0, false
}

// Action is what the machine does with the fragment that caused a transition.
type Action uint8

const (
	// Discard counts the fragment as preamble; no question is open.
	Discard Action = iota
	// Open finalizes the current question, if any, and opens a new one.
	Open
	// Enter starts the section of the next state with the anchor fragment.
	Enter
	// Append adds the fragment to the section of the current state.
	Append
)

func (a Action) String() string {
	switch a {
	case Discard:
		return "discard"
	case Open:
		return "open"
	case Enter:
		return "enter"
	case Append:
		return "append"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// Transition is the parser's transition table. Anchors the table does not
// list for a state are ordinary content there. Images always arrive as
// anchor.None.
func Transition(s State, k anchor.Kind) (State, Action) {
	if k == anchor.Question {
		return QuestionBody, Open
	}
	switch s {
	case SeekingQuestion:
		return SeekingQuestion, Discard
	case QuestionBody, Options:
		switch k {
		case anchor.Option:
			return Options, Enter
		case anchor.Answer:
			return Answer, Enter
		}
	case Answer:
		if k == anchor.Explanation {
			return Explanation, Enter
		}
	}
	return s, Append
}
