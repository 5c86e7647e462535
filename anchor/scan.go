package anchor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/brunobiangulo/examparse/exam"
)

// rawQuestionRe finds question anchors at the start of any line of a
// fragment, whether or not the rest of the line is empty.
var rawQuestionRe = regexp.MustCompile(`(?im)^[ \t]*Question[ \t]*:?[ \t]*(\d+)`)

// RawAnchor is a question anchor occurrence found by the raw scan. The scan
// runs outside the structured pass and feeds missing-question diagnosis.
type RawAnchor struct {
	Number     int
	Page       int
	OrderIndex int

	// Bare is true when the occurrence is the whole of its line, i.e. the
	// structured pass would have recognized it.
	Bare bool
	// LineStart is true when the occurrence starts the fragment's first line.
	LineStart bool
	// FirstOnPage and LastOnPage mark the first and last text fragment of
	// its page, where running headers and footers live.
	FirstOnPage bool
	LastOnPage  bool
}

// ScanRaw returns every question anchor occurrence in the text fragments
// of blocks, in order.
func ScanRaw(blocks []exam.ContentBlock) []RawAnchor {
	first := make(map[int]int)
	last := make(map[int]int)
	for _, b := range blocks {
		if !b.HasText() {
			continue
		}
		if _, ok := first[b.PageNumber]; !ok {
			first[b.PageNumber] = b.OrderIndex
		}
		last[b.PageNumber] = b.OrderIndex
	}

	var out []RawAnchor
	for _, b := range blocks {
		if !b.HasText() {
			continue
		}
		for _, loc := range rawQuestionRe.FindAllStringSubmatchIndex(b.Content, -1) {
			n, err := strconv.Atoi(b.Content[loc[2]:loc[3]])
			if err != nil {
				continue
			}
			line := b.Content[loc[0]:]
			if end := strings.IndexByte(line, '\n'); end >= 0 {
				line = line[:end]
			}
			out = append(out, RawAnchor{
				Number:      n,
				Page:        b.PageNumber,
				OrderIndex:  b.OrderIndex,
				Bare:        Classify(line).Kind == Question,
				LineStart:   strings.TrimSpace(b.Content[:loc[0]]) == "",
				FirstOnPage: first[b.PageNumber] == b.OrderIndex,
				LastOnPage:  last[b.PageNumber] == b.OrderIndex,
			})
		}
	}
	return out
}
