package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/brunobiangulo/examparse/exam"
)

// createTestPNG creates a minimal PNG image with the given dimensions.
func createTestPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 100, G: 150, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("creating test PNG: %v", err)
	}
	return buf.Bytes()
}

func addZipFile(t *testing.T, w *zip.Writer, name string, data []byte) {
	t.Helper()
	fw, err := w.Create(name)
	if err != nil {
		t.Fatalf("creating zip entry %s: %v", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("writing zip entry %s: %v", name, err)
	}
}

// writeZip writes a zip archive with the given entries and returns its path.
func writeZip(t *testing.T, name string, entries map[string][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating %s: %v", name, err)
	}
	w := zip.NewWriter(f)
	for entry, data := range entries {
		addZipFile(t, w, entry, data)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing zip writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("closing file: %v", err)
	}
	return path
}

func imageRels(t *testing.T, target string) []byte {
	t.Helper()
	type rel struct {
		XMLName xml.Name `xml:"Relationship"`
		ID      string   `xml:"Id,attr"`
		Type    string   `xml:"Type,attr"`
		Target  string   `xml:"Target,attr"`
	}
	type rels struct {
		XMLName xml.Name `xml:"Relationships"`
		Xmlns   string   `xml:"xmlns,attr"`
		Rels    []rel
	}
	data, err := xml.Marshal(rels{
		Xmlns: "http://schemas.openxmlformats.org/package/2006/relationships",
		Rels: []rel{{
			ID:     "rId1",
			Type:   "http://schemas.openxmlformats.org/officeDocument/2006/relationships/image",
			Target: target,
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

const testDocXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"
            xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"
            xmlns:wp="http://schemas.openxmlformats.org/drawingml/2006/wordprocessingDrawing"
            xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"
            xmlns:pic="http://schemas.openxmlformats.org/drawingml/2006/picture">
  <w:body>
    <w:p><w:r><w:t>Question: 1</w:t></w:r></w:p>
    <w:p>
      <w:r><w:t xml:space="preserve">Which figure </w:t></w:r><w:r><w:t>is shown?</w:t></w:r>
      <w:r>
        <w:drawing>
          <wp:inline>
            <a:graphic>
              <a:graphicData>
                <pic:pic>
                  <pic:blipFill>
                    <a:blip r:embed="rId1"/>
                  </pic:blipFill>
                </pic:pic>
              </a:graphicData>
            </a:graphic>
          </wp:inline>
        </w:drawing>
      </w:r>
    </w:p>
    <w:p><w:r><w:t>A. circle</w:t><w:br/><w:t>B. square</w:t></w:r></w:p>
    <w:p><w:r><w:br w:type="page"/></w:r></w:p>
    <w:p><w:r><w:t>Answer: A</w:t></w:r></w:p>
  </w:body>
</w:document>`

func createTestDOCX(t *testing.T, imgData []byte) string {
	t.Helper()
	return writeZip(t, "test.docx", map[string][]byte{
		"word/document.xml":            []byte(testDocXML),
		"word/_rels/document.xml.rels": imageRels(t, "media/image1.png"),
		"word/media/image1.png":        imgData,
	})
}

// ---------------------------------------------------------------------------
// DOCX
// ---------------------------------------------------------------------------

func TestDOCXExtraction(t *testing.T) {
	imgDir := t.TempDir()
	path := createTestDOCX(t, createTestPNG(t, 200, 150))

	ext, err := (&DOCXExtractor{}).Extract(context.Background(), path, Options{ImageDir: imgDir, MinImageSize: 50})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	want := []struct {
		kind    exam.Kind
		content string
		page    int
	}{
		{exam.KindText, "Question: 1", 1},
		{exam.KindText, "Which figure is shown?", 1},
		{exam.KindImage, "", 1},
		{exam.KindText, "A. circle", 1},
		{exam.KindText, "B. square", 1},
		{exam.KindText, "Answer: A", 2},
	}
	if len(ext.Blocks) != len(want) {
		t.Fatalf("got %d blocks, want %d: %+v", len(ext.Blocks), len(want), ext.Blocks)
	}
	for i, w := range want {
		b := ext.Blocks[i]
		if b.Kind != w.kind || b.PageNumber != w.page {
			t.Errorf("block %d = %+v, want kind %v page %d", i, b, w.kind, w.page)
		}
		if w.content != "" && b.Content != w.content {
			t.Errorf("block %d content = %q, want %q", i, b.Content, w.content)
		}
	}
	if ext.TotalPages != 2 {
		t.Errorf("TotalPages = %d, want 2", ext.TotalPages)
	}

	ref := ext.Blocks[2].Content
	if filepath.Dir(ref) != imgDir {
		t.Errorf("image ref %q not under image dir", ref)
	}
	if _, err := os.Stat(ref); err != nil {
		t.Errorf("image file not written: %v", err)
	}
}

func TestDOCXSkipsTinyImages(t *testing.T) {
	path := createTestDOCX(t, createTestPNG(t, 16, 16))

	ext, err := (&DOCXExtractor{}).Extract(context.Background(), path, Options{MinImageSize: 50})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for _, b := range ext.Blocks {
		if b.IsImage() {
			t.Errorf("tiny image kept: %+v", b)
		}
	}
}

func TestDOCXPageRange(t *testing.T) {
	path := createTestDOCX(t, createTestPNG(t, 200, 150))

	ext, err := (&DOCXExtractor{}).Extract(context.Background(), path, Options{PageStart: 2})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(ext.Blocks) != 1 || ext.Blocks[0].Content != "Answer: A" {
		t.Errorf("blocks = %+v, want only page 2", ext.Blocks)
	}
}

func TestDOCXMissingDocument(t *testing.T) {
	path := writeZip(t, "empty.docx", map[string][]byte{"other.xml": []byte("<x/>")})
	if _, err := (&DOCXExtractor{}).Extract(context.Background(), path, Options{}); err == nil {
		t.Error("expected error for DOCX without word/document.xml")
	}
}

// ---------------------------------------------------------------------------
// PPTX
// ---------------------------------------------------------------------------

const testSlideXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:sld xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"
       xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"
       xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">
  <p:cSld><p:spTree>
    <p:sp>
      <p:spPr><a:xfrm><a:off x="0" y="1270000"/></a:xfrm></p:spPr>
      <p:txBody><a:p><a:r><a:t>A. lower shape</a:t></a:r></a:p></p:txBody>
    </p:sp>
    <p:sp>
      <p:spPr><a:xfrm><a:off x="0" y="127000"/></a:xfrm></p:spPr>
      <p:txBody>
        <a:p><a:r><a:t>Question 7</a:t></a:r></a:p>
        <a:p><a:r><a:t>Pick the shape</a:t></a:r></a:p>
      </p:txBody>
    </p:sp>
    <p:pic>
      <p:blipFill><a:blip r:embed="rId1"/></p:blipFill>
      <p:spPr><a:xfrm><a:off x="0" y="2540000"/></a:xfrm></p:spPr>
    </p:pic>
  </p:spTree></p:cSld>
</p:sld>`

func TestPPTXExtraction(t *testing.T) {
	path := writeZip(t, "test.pptx", map[string][]byte{
		"ppt/slides/slide1.xml":            []byte(testSlideXML),
		"ppt/slides/_rels/slide1.xml.rels": imageRels(t, "../media/image1.png"),
		"ppt/media/image1.png":             createTestPNG(t, 100, 100),
	})

	ext, err := (&PPTXExtractor{}).Extract(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if ext.TotalPages != 1 {
		t.Errorf("TotalPages = %d, want 1", ext.TotalPages)
	}

	seq := exam.Sequence(ext.Blocks)
	var got []string
	for _, b := range seq {
		if b.IsText() {
			got = append(got, b.Content)
		}
	}
	want := []string{"Question 7", "Pick the shape", "A. lower shape"}
	if len(got) != len(want) {
		t.Fatalf("text order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("text %d = %q, want %q", i, got[i], want[i])
		}
	}
	if last := seq[len(seq)-1]; !last.IsImage() {
		t.Errorf("last fragment = %+v, want the picture", last)
	}
}
