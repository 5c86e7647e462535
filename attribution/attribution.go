// Package attribution decides which image fragments belong to which section
// of a finalized question, using order-index proximity to text rather than
// anchors.
package attribution

import (
	"sort"

	"github.com/brunobiangulo/examparse/exam"
)

const (
	DefaultMargin    = 10
	DefaultMaxImages = 15
)

// Config bounds attribution. Zero values select the defaults.
type Config struct {
	// Margin is the largest order-index distance between an image and a
	// text fragment for the image to stay with that text's section.
	Margin int `json:"margin" yaml:"margin"`
	// MaxImages caps the images retained per section.
	MaxImages int `json:"max_images" yaml:"max_images"`
}

func (c Config) withDefaults() Config {
	if c.Margin <= 0 {
		c.Margin = DefaultMargin
	}
	if c.MaxImages <= 0 {
		c.MaxImages = DefaultMaxImages
	}
	return c
}

// Apply filters the images of every section of q. Images that do not
// survive are moved to q.DroppedImages in order_index order.
func Apply(q *exam.ParsedQuestion, cfg Config) {
	for _, s := range exam.Sections() {
		kept, dropped := Filter(q.Blocks[s], cfg, s == exam.SectionOptions)
		q.Blocks[s] = kept
		q.DroppedImages = append(q.DroppedImages, dropped...)
	}
	sort.SliceStable(q.DroppedImages, func(i, j int) bool {
		return q.DroppedImages[i].OrderIndex < q.DroppedImages[j].OrderIndex
	})
}

// Filter runs attribution over one section's fragments, which must be in
// order_index order. Text fragments are always kept. An image survives when
// it lies within the margin of at least one text fragment (or the section
// has no text at all), is the first occurrence of its content, and, for an
// options section, follows some option letter. At most cfg.MaxImages images
// survive. The input is not modified.
func Filter(blocks []exam.ContentBlock, cfg Config, options bool) (kept, dropped []exam.ContentBlock) {
	cfg = cfg.withDefaults()

	var textIdx []int
	for _, b := range blocks {
		if b.IsText() {
			textIdx = append(textIdx, b.OrderIndex)
		}
	}

	seen := make(map[string]bool)
	images := 0
	letter := ""
	for _, b := range blocks {
		if b.IsText() {
			if options && b.OptionKey != "" {
				letter = b.OptionKey
			}
			kept = append(kept, b)
			continue
		}

		switch {
		case len(textIdx) > 0 && !near(textIdx, b.OrderIndex, cfg.Margin):
		case seen[b.Content]:
		case options && letter == "":
		case images >= cfg.MaxImages:
		default:
			seen[b.Content] = true
			images++
			if options {
				b.OptionKey = letter
			}
			kept = append(kept, b)
			continue
		}
		dropped = append(dropped, b)
	}
	return kept, dropped
}

// near reports whether some index in sorted lies within margin of idx.
func near(sorted []int, idx, margin int) bool {
	i := sort.SearchInts(sorted, idx-margin)
	return i < len(sorted) && sorted[i] <= idx+margin
}
