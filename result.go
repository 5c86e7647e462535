package examparse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/brunobiangulo/examparse/exam"
	"github.com/brunobiangulo/examparse/store"
)

// ParserVersion is stamped on every result and stored exam.
const ParserVersion = "1.0.0"

// ParseVersion records which parser produced a result, when, and over how
// much input.
type ParseVersion struct {
	Version             string    `json:"version"`
	ParsedAt            time.Time `json:"parsed_at"`
	RawBlocks           int       `json:"raw_block_count"`
	StructuredQuestions int       `json:"structured_count"`
}

// ExamMetadata describes the parsed document.
type ExamMetadata struct {
	Key            string `json:"exam_key"`
	Name           string `json:"name"`
	Provider       string `json:"provider,omitempty"`
	Version        string `json:"version,omitempty"`
	SourceFile     string `json:"source_file,omitempty"`
	Format         string `json:"format,omitempty"`
	FileHash       string `json:"file_hash,omitempty"`
	FileSize       int64  `json:"file_size_bytes"`
	TotalPages     int    `json:"total_pages"`
	TotalQuestions int    `json:"total_questions"`
	ParseMethod    string `json:"parse_method,omitempty"`
	Status         string `json:"status,omitempty"`
}

// Result is the output of a parse: the exam, its questions in
// finalization order, and the validation report.
type Result struct {
	ExamID       int64                  `json:"exam_id"`
	Exam         ExamMetadata           `json:"exam"`
	Questions    []*exam.ParsedQuestion `json:"questions"`
	Validation   exam.ValidationReport  `json:"validation"`
	ParseVersion ParseVersion           `json:"parse_version"`
}

func metadataFromStore(e *store.Exam) ExamMetadata {
	return ExamMetadata{
		Key:            e.Key,
		Name:           e.Name,
		Provider:       e.Provider,
		Version:        e.Version,
		SourceFile:     e.SourceFile,
		Format:         e.Format,
		FileHash:       e.FileHash,
		FileSize:       e.FileSize,
		TotalPages:     e.TotalPages,
		TotalQuestions: e.TotalQuestions,
		ParseMethod:    e.ParseMethod,
		Status:         e.Status,
	}
}

// ReadResult loads a result previously written as <exam>_parsed.json.
func ReadResult(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	res := &Result{Validation: exam.NewValidationReport()}
	if err := json.Unmarshal(data, res); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return res, nil
}

// ReadBlocks loads a fragment list previously written as
// <exam>_raw_blocks.json.
func ReadBlocks(path string) ([]exam.ContentBlock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var blocks []exam.ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return blocks, nil
}

// outputPaths returns the parsed, raw-blocks and validation file paths of
// an exam key inside dir.
func outputPaths(dir, key string) (parsed, raw, validation string) {
	return filepath.Join(dir, key+"_parsed.json"),
		filepath.Join(dir, key+"_raw_blocks.json"),
		filepath.Join(dir, key+"_validation.json")
}

// writeOutputs writes the configured output files. Failures are logged,
// never returned: the stored result is authoritative.
func (c *Config) writeOutputs(res *Result, blocks []exam.ContentBlock) {
	if c.OutputDir == "" {
		return
	}
	if err := os.MkdirAll(c.OutputDir, 0o755); err != nil {
		slog.Error("output: creating output dir", "dir", c.OutputDir, "error", err)
		return
	}
	parsed, raw, validation := outputPaths(c.OutputDir, res.Exam.Key)
	if c.SaveJSON {
		writeJSONFile(parsed, res)
	}
	if c.SaveRawBlocks {
		if blocks == nil {
			blocks = []exam.ContentBlock{}
		}
		writeJSONFile(raw, blocks)
	}
	writeJSONFile(validation, res.Validation)
}

func writeJSONFile(path string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		slog.Error("output: encoding", "file", path, "error", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		slog.Error("output: writing", "file", path, "error", err)
		return
	}
	slog.Info("output: saved", "file", path)
}
