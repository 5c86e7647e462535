package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brunobiangulo/examparse"
	"github.com/brunobiangulo/examparse/attribution"
	"github.com/brunobiangulo/examparse/exam"
)

var sampleExam = []string{
	"Exam preface",
	"Question: 1",
	"2+2=?",
	"A. 3",
	"B. 4",
	"Answer: B",
	"Explanation: sums",
	"Question: 3",
	"Capital of France?",
	"Answer: Paris",
}

// run executes the CLI with args and returns its standard output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.Execute()
	return out.String(), err
}

func writeText(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.Join(sampleExam, "\n")), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeSaved writes a parsed result and its raw blocks the way the engine
// does and returns the parsed file path.
func writeSaved(t *testing.T, dir string, withBlocks bool) string {
	t.Helper()
	blocks := make([]exam.ContentBlock, len(sampleExam))
	for i, c := range sampleExam {
		blocks[i] = exam.Text(c, 1, exam.BBox{0, float64(i * 12), 100, float64(i*12 + 12)})
		blocks[i].OrderIndex = i
	}
	a := examparse.Analyze(blocks, attribution.Config{})
	res := examparse.Result{
		Exam:         examparse.ExamMetadata{Key: "saved", Name: "Saved exam"},
		Questions:    a.Questions,
		Validation:   a.Report,
		ParseVersion: examparse.ParseVersion{Version: examparse.ParserVersion},
	}

	write := func(path string, v any) {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	parsed := filepath.Join(dir, "saved_parsed.json")
	write(parsed, res)
	if withBlocks {
		write(filepath.Join(dir, "saved_raw_blocks.json"), blocks)
	}
	return parsed
}

// ---------------------------------------------------------------------------
// validate
// ---------------------------------------------------------------------------

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	parsed := writeSaved(t, dir, true)

	out, err := run(t, "validate", parsed)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	var report exam.ValidationReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decoding output: %v\n%s", err, out)
	}
	if report.TotalQuestionsDetected != 2 {
		t.Errorf("TotalQuestionsDetected = %d, want 2", report.TotalQuestionsDetected)
	}
	if len(report.MissingQuestionNumbers) != 1 || report.MissingQuestionNumbers[0] != 2 {
		t.Errorf("MissingQuestionNumbers = %v, want [2]", report.MissingQuestionNumbers)
	}
	// The sibling raw blocks file restores the preamble count.
	if report.PreambleFragments != 1 {
		t.Errorf("PreambleFragments = %d, want 1", report.PreambleFragments)
	}
}

func TestValidateWithoutBlocks(t *testing.T) {
	parsed := writeSaved(t, t.TempDir(), false)

	out, err := run(t, "validate", "--summary", parsed)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "Missing:    2") {
		t.Errorf("summary missing the gap:\n%s", out)
	}
}

func TestValidateMissingFile(t *testing.T) {
	if _, err := run(t, "validate", filepath.Join(t.TempDir(), "none_parsed.json")); err == nil {
		t.Error("expected error")
	}
}

// ---------------------------------------------------------------------------
// export / info
// ---------------------------------------------------------------------------

func TestExportCommand(t *testing.T) {
	dir := t.TempDir()
	parsed := writeSaved(t, dir, false)
	out := filepath.Join(dir, "review.xlsx")

	stdout, err := run(t, "export", parsed, out)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(stdout, "2 questions") {
		t.Errorf("output = %q", stdout)
	}
	if info, err := os.Stat(out); err != nil || info.Size() == 0 {
		t.Errorf("workbook not written: %v", err)
	}

	if _, err := run(t, "export", parsed, filepath.Join(dir, "review.csv")); err == nil {
		t.Error("expected error for non-xlsx output")
	}
}

func TestInfoCommand(t *testing.T) {
	path := writeText(t, t.TempDir(), "sample.txt")

	out, err := run(t, "info", "--json", path)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	var info documentInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("decoding output: %v\n%s", err, out)
	}
	if info.Format != "txt" || info.TotalPages != 1 {
		t.Errorf("info = %+v", info)
	}
	if info.TextBlocks != len(sampleExam) || info.ImageBlocks != 0 {
		t.Errorf("blocks: %d text, %d image", info.TextBlocks, info.ImageBlocks)
	}
	if info.RawAnchors != 2 {
		t.Errorf("RawAnchors = %d, want 2", info.RawAnchors)
	}
}

func TestInfoUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exam.xls")
	os.WriteFile(path, []byte("x"), 0o644)
	if _, err := run(t, "info", path); err == nil {
		t.Error("expected error for xls")
	}
}

// ---------------------------------------------------------------------------
// flags
// ---------------------------------------------------------------------------

func TestParsePages(t *testing.T) {
	tests := []struct {
		in         string
		start, end int
		wantErr    bool
	}{
		{"", 0, 0, false},
		{"4", 4, 4, false},
		{"3-10", 3, 10, false},
		{"3-", 3, 0, false},
		{"-7", 0, 7, false},
		{"10-3", 0, 0, true},
		{"0-3", 0, 0, true},
		{"a-b", 0, 0, true},
	}
	for _, tt := range tests {
		start, end, err := parsePages(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parsePages(%q) err = %v", tt.in, err)
			continue
		}
		if start != tt.start || end != tt.end {
			t.Errorf("parsePages(%q) = %d, %d, want %d, %d", tt.in, start, end, tt.start, tt.end)
		}
	}
}

func TestBadLogLevel(t *testing.T) {
	if _, err := run(t, "--log-level", "loud", "info", "x.txt"); err == nil {
		t.Error("expected error for unknown log level")
	}
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	writeText(t, dir, "a.txt")
	writeText(t, dir, "a_parsed.json")
	writeText(t, dir, "notes.md")
	sub := filepath.Join(dir, "sub")
	os.Mkdir(sub, 0o755)
	writeText(t, sub, "b.txt")

	files, err := collectFiles(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || filepath.Base(files[0]) != "a.txt" {
		t.Errorf("flat = %v", files)
	}

	files, err = collectFiles(dir, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Errorf("recursive = %v", files)
	}
}
