package statemachine

import (
	"log/slog"
	"strings"

	"github.com/brunobiangulo/examparse/anchor"
	"github.com/brunobiangulo/examparse/attribution"
	"github.com/brunobiangulo/examparse/exam"
)

// Machine consumes fragments one at a time in order_index order. A Machine
// belongs to a single parse and is not safe for concurrent use.
type Machine struct {
	attr     attribution.Config
	state    State
	cur      *exam.ParsedQuestion
	letter   string
	preamble []exam.ContentBlock
	anchors  int
	next     int
}

// New returns a machine in SeekingQuestion that applies attribution with
// cfg to every question it finalizes.
func New(cfg attribution.Config) *Machine {
	return &Machine{attr: cfg}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Current returns the open question, or nil in SeekingQuestion.
func (m *Machine) Current() *exam.ParsedQuestion { return m.cur }

// Preamble returns the fragments discarded before the first question anchor.
func (m *Machine) Preamble() []exam.ContentBlock { return m.preamble }

// AnchorsSeen counts the question anchors that opened a question.
func (m *Machine) AnchorsSeen() int { return m.anchors }

// Checkpoint returns the order_index a fresh machine should resume from so
// that no question is split: the anchor of the open question if there is
// one, otherwise the index after the last fragment fed.
func (m *Machine) Checkpoint() int {
	if m.cur != nil {
		return m.cur.Anchor.OrderIndex
	}
	return m.next
}

// Feed consumes one fragment and returns the questions it finalized. A
// text fragment spanning several lines is consumed line by line, each line
// a derived fragment with the same order_index, page and bbox, so one
// fragment can close more than one question.
func (m *Machine) Feed(b exam.ContentBlock) []*exam.ParsedQuestion {
	m.next = b.OrderIndex + 1

	var lines []string
	if b.IsText() {
		lines = anchor.Lines(b.Content)
	}
	if len(lines) < 2 {
		if q := m.feed(b); q != nil {
			return []*exam.ParsedQuestion{q}
		}
		return nil
	}

	var done []*exam.ParsedQuestion
	for _, l := range lines {
		line := b
		line.Content = l
		if q := m.feed(line); q != nil {
			done = append(done, q)
		}
	}
	return done
}

func (m *Machine) feed(b exam.ContentBlock) *exam.ParsedQuestion {
	class := anchor.Class{}
	if b.IsText() {
		class = anchor.Classify(b.Content)
	}

	next, action := Transition(m.state, class.Kind)
	var done *exam.ParsedQuestion

	switch action {
	case Discard:
		m.preamble = append(m.preamble, b)
	case Open:
		done = m.finalize()
		m.anchors++
		m.cur = &exam.ParsedQuestion{Number: class.Number, Anchor: b}
		m.letter = ""
		slog.Debug("statemachine: question opened",
			"number", class.Number, "page", b.PageNumber, "order_index", b.OrderIndex)
	case Enter:
		m.enter(next, class, b)
	case Append:
		m.append(b)
	}
	m.state = next
	return done
}

// Finish finalizes the open question at end of stream. It returns nil when
// no question is open.
func (m *Machine) Finish() *exam.ParsedQuestion {
	done := m.finalize()
	m.state = SeekingQuestion
	return done
}

func (m *Machine) enter(next State, class anchor.Class, b exam.ContentBlock) {
	section, _ := next.Section()
	q := m.cur

	if next == Options {
		m.letter = class.Letter
		b.OptionKey = class.Letter
		q.Blocks[section] = append(q.Blocks[section], b)
		q.Options = append(q.Options, exam.Option{Key: class.Letter, Text: class.Remainder})
		return
	}

	if class.Remainder == "" {
		q.Markers = append(q.Markers, b)
		return
	}
	derived := b
	derived.Content = class.Remainder
	q.Blocks[section] = append(q.Blocks[section], derived)
}

func (m *Machine) append(b exam.ContentBlock) {
	section, _ := m.state.Section()
	q := m.cur

	if m.state == Options && b.IsText() {
		b.OptionKey = m.letter
		if n := len(q.Options); n > 0 {
			if t := strings.TrimSpace(b.Content); t != "" {
				if q.Options[n-1].Text == "" {
					q.Options[n-1].Text = t
				} else {
					q.Options[n-1].Text += " " + t
				}
			}
		}
	}
	q.Blocks[section] = append(q.Blocks[section], b)
}

func (m *Machine) finalize() *exam.ParsedQuestion {
	q := m.cur
	if q == nil {
		return nil
	}
	m.cur = nil
	attribution.Apply(q, m.attr)
	q.Finalize()
	return q
}

// Result is the outcome of parsing a whole sequence.
type Result struct {
	Questions   []*exam.ParsedQuestion
	Preamble    []exam.ContentBlock
	AnchorsSeen int
}

// Parse runs a fresh machine over blocks, which must already be in
// order_index order, and finalizes at end of stream.
func Parse(blocks []exam.ContentBlock, cfg attribution.Config) Result {
	m := New(cfg)
	var res Result
	for _, b := range blocks {
		res.Questions = append(res.Questions, m.Feed(b)...)
	}
	if q := m.Finish(); q != nil {
		res.Questions = append(res.Questions, q)
	}
	res.Preamble = m.Preamble()
	res.AnchorsSeen = m.AnchorsSeen()
	return res
}
