package attribution

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/brunobiangulo/examparse/exam"
)

func text(idx int, content string) exam.ContentBlock {
	return exam.ContentBlock{Kind: exam.KindText, Content: content, PageNumber: 1, OrderIndex: idx}
}

func image(idx int, ref string) exam.ContentBlock {
	return exam.ContentBlock{Kind: exam.KindImage, Content: ref, PageNumber: 1, OrderIndex: idx}
}

func indices(blocks []exam.ContentBlock) []int {
	out := []int{}
	for _, b := range blocks {
		out = append(out, b.OrderIndex)
	}
	return out
}

func imageIndices(blocks []exam.ContentBlock) []int {
	out := []int{}
	for _, b := range blocks {
		if b.IsImage() {
			out = append(out, b.OrderIndex)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Proximity
// ---------------------------------------------------------------------------

func TestFilterProximityPerFragment(t *testing.T) {
	section := []exam.ContentBlock{
		text(10, "first"),
		image(15, "a.png"),
		image(35, "b.png"),
		text(50, "second"),
		image(55, "c.png"),
	}
	kept, dropped := Filter(section, Config{}, false)

	if got := imageIndices(kept); !reflect.DeepEqual(got, []int{15, 55}) {
		t.Errorf("kept images = %v, want [15 55]", got)
	}
	if got := indices(dropped); !reflect.DeepEqual(got, []int{35}) {
		t.Errorf("dropped = %v, want [35]", got)
	}
	if len(kept) != 4 {
		t.Errorf("kept %d fragments, want 4 (2 text + 2 images)", len(kept))
	}
}

func TestFilterMarginBoundary(t *testing.T) {
	section := []exam.ContentBlock{text(0, "t"), image(10, "edge.png"), image(11, "far.png")}
	kept, _ := Filter(section, Config{}, false)
	if got := imageIndices(kept); !reflect.DeepEqual(got, []int{10}) {
		t.Errorf("kept images = %v, want [10]", got)
	}
}

func TestFilterNoTextKeepsAll(t *testing.T) {
	section := []exam.ContentBlock{image(3, "a.png"), image(90, "b.png")}
	kept, dropped := Filter(section, Config{}, false)
	if len(kept) != 2 || len(dropped) != 0 {
		t.Errorf("kept %d dropped %d, want 2 and 0", len(kept), len(dropped))
	}
}

// ---------------------------------------------------------------------------
// Dedupe and cap
// ---------------------------------------------------------------------------

func TestFilterDedupe(t *testing.T) {
	section := []exam.ContentBlock{text(0, "t"), image(1, "same.png"), image(2, "same.png"), image(3, "other.png")}
	kept, dropped := Filter(section, Config{}, false)
	if got := imageIndices(kept); !reflect.DeepEqual(got, []int{1, 3}) {
		t.Errorf("kept images = %v, want [1 3]", got)
	}
	if got := indices(dropped); !reflect.DeepEqual(got, []int{2}) {
		t.Errorf("dropped = %v, want [2]", got)
	}
}

func TestFilterCap(t *testing.T) {
	section := []exam.ContentBlock{text(0, "t")}
	for i := 1; i <= 10; i++ {
		section = append(section, image(i, fmt.Sprintf("img%d.png", i)))
	}
	kept, dropped := Filter(section, Config{MaxImages: 3}, false)
	if got := imageIndices(kept); !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Errorf("kept images = %v, want [1 2 3]", got)
	}
	if len(dropped) != 7 {
		t.Errorf("dropped %d, want 7", len(dropped))
	}
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

func TestFilterOptionsPerLetter(t *testing.T) {
	a := text(1, "A. first")
	a.OptionKey = "A"
	b := text(4, "B. second")
	b.OptionKey = "B"
	section := []exam.ContentBlock{image(0, "before.png"), a, image(2, "a.png"), image(3, "a2.png"), b, image(5, "b.png")}

	kept, dropped := Filter(section, Config{}, true)

	want := map[int]string{2: "A", 3: "A", 5: "B"}
	for _, blk := range kept {
		if !blk.IsImage() {
			continue
		}
		if blk.OptionKey != want[blk.OrderIndex] {
			t.Errorf("image %d key = %q, want %q", blk.OrderIndex, blk.OptionKey, want[blk.OrderIndex])
		}
		delete(want, blk.OrderIndex)
	}
	if len(want) != 0 {
		t.Errorf("images not kept: %v", want)
	}
	if got := indices(dropped); !reflect.DeepEqual(got, []int{0}) {
		t.Errorf("dropped = %v, want [0]", got)
	}
	if section[2].OptionKey != "" {
		t.Error("Filter modified its input")
	}
}

func TestApplyMovesDroppedImages(t *testing.T) {
	q := &exam.ParsedQuestion{Number: 1}
	q.Blocks[exam.SectionQuestion] = []exam.ContentBlock{text(1, "prompt"), image(30, "far.png")}
	q.Blocks[exam.SectionAnswer] = []exam.ContentBlock{text(31, "B"), image(32, "dup.png"), image(33, "dup.png")}

	Apply(q, Config{})

	if got := indices(q.DroppedImages); !reflect.DeepEqual(got, []int{30, 33}) {
		t.Errorf("DroppedImages = %v, want [30 33]", got)
	}
	if len(q.Blocks[exam.SectionQuestion]) != 1 || len(q.Blocks[exam.SectionAnswer]) != 2 {
		t.Errorf("sections after apply: %v", q.Blocks)
	}
}
