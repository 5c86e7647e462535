//go:build cgo

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brunobiangulo/examparse"
)

func TestParseCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeText(t, dir, "sample.txt")
	db := filepath.Join(dir, "cli.db")

	out, err := run(t, "--db", db, "--image-dir", filepath.Join(dir, "img"), "parse", path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !strings.Contains(out, "2 detected") || !strings.Contains(out, "Missing:    2") {
		t.Errorf("summary:\n%s", out)
	}

	out, err = run(t, "--db", db, "parse", "--json", "--name", "renamed", path)
	if err != nil {
		t.Fatalf("parse --json: %v", err)
	}
	var res examparse.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if res.Exam.Key != "renamed" || len(res.Questions) != 2 {
		t.Errorf("key %q, %d questions", res.Exam.Key, len(res.Questions))
	}

	if _, err := run(t, "--db", db, "parse", "--pages", "9-2", path); err == nil {
		t.Error("expected error for inverted page range")
	}
}

func TestBatchCommand(t *testing.T) {
	dir := t.TempDir()
	docs := filepath.Join(dir, "docs")
	if err := os.Mkdir(docs, 0o755); err != nil {
		t.Fatal(err)
	}
	writeText(t, docs, "skip.md")
	writeText(t, docs, "one.txt")
	writeText(t, docs, "two.txt")

	out, err := run(t, "--db", filepath.Join(dir, "batch.db"), "batch", "--workers", "2", docs)
	if err != nil {
		t.Fatalf("batch: %v\n%s", err, out)
	}
	if !strings.Contains(out, "2 parsed, 0 failed") {
		t.Errorf("output:\n%s", out)
	}
}
