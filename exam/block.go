package exam

import (
	"fmt"
	"strings"
)

// Kind tags a ContentBlock as text or image. The zero value is invalid.
type Kind uint8

const (
	KindText Kind = iota + 1
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// MarshalText encodes the kind as "text" or "image".
func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case KindText, KindImage:
		return []byte(k.String()), nil
	}
	return nil, fmt.Errorf("exam: invalid block kind %d", uint8(k))
}

// UnmarshalText accepts "text" or "image" (case-insensitive).
func (k *Kind) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "text":
		*k = KindText
	case "image":
		*k = KindImage
	default:
		return fmt.Errorf("exam: unknown block type %q", string(b))
	}
	return nil
}

// BBox is a bounding box in page points: left, top, right, bottom with the
// origin at the top-left corner of the page.
type BBox [4]float64

func (b BBox) Left() float64   { return b[0] }
func (b BBox) Top() float64    { return b[1] }
func (b BBox) Right() float64  { return b[2] }
func (b BBox) Bottom() float64 { return b[3] }

// ContentBlock is one page-located fragment of extracted content. For text
// blocks Content is the literal text; for image blocks it is an opaque
// reference (usually a relative file path).
type ContentBlock struct {
	Kind       Kind   `json:"type"`
	Content    string `json:"content"`
	PageNumber int    `json:"page_number"`
	BBox       BBox   `json:"bbox"`
	OrderIndex int    `json:"order_index"`
	OptionKey  string `json:"option_key,omitempty"`
}

// Text returns a text block. OrderIndex is assigned later by Sequence.
func Text(content string, page int, bbox BBox) ContentBlock {
	return ContentBlock{Kind: KindText, Content: content, PageNumber: page, BBox: bbox}
}

// Image returns an image block referencing ref.
func Image(ref string, page int, bbox BBox) ContentBlock {
	return ContentBlock{Kind: KindImage, Content: ref, PageNumber: page, BBox: bbox}
}

func (b ContentBlock) IsText() bool  { return b.Kind == KindText }
func (b ContentBlock) IsImage() bool { return b.Kind == KindImage }

// HasText reports whether b is a text block with non-blank content.
func (b ContentBlock) HasText() bool {
	return b.Kind == KindText && strings.TrimSpace(b.Content) != ""
}
