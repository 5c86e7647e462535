// Package examparse turns exam documents into structured questions. A
// document is extracted into an ordered sequence of text and image
// fragments, segmented by a deterministic state machine that reacts only to
// literal Question/Answer/Explanation/option anchors, and validated into a
// per-question anomaly score and a document-level report. Results are
// persisted in SQLite.
package examparse

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brunobiangulo/examparse/exam"
	"github.com/brunobiangulo/examparse/export"
	"github.com/brunobiangulo/examparse/parser"
	"github.com/brunobiangulo/examparse/statemachine"
	"github.com/brunobiangulo/examparse/store"
	"github.com/brunobiangulo/examparse/validate"
)

// Engine is the main entry point for parsing and reviewing exams.
type Engine interface {
	// ParseFile extracts, parses, validates and stores a document.
	ParseFile(ctx context.Context, path string, opts ...ParseOption) (*Result, error)

	// ParseBlocks parses an already-extracted fragment sequence.
	ParseBlocks(ctx context.Context, blocks []exam.ContentBlock, opts ...ParseOption) (*Result, error)

	// Prepare extracts a document and stores its exam row and fragments
	// without parsing them. Used by background jobs.
	Prepare(ctx context.Context, path string, opts ...ParseOption) (*Prepared, error)

	// Complete re-evaluates the stored questions of an exam as one set,
	// stores the validation report and writes the output files.
	Complete(ctx context.Context, examID int64) (*Result, error)

	// Get returns a stored result.
	Get(ctx context.Context, examID int64) (*Result, error)

	// List returns all stored exams.
	List(ctx context.Context) ([]Exam, error)

	// Delete removes an exam and all associated data.
	Delete(ctx context.Context, examID int64) error

	// Export writes the stored result of an exam as an XLSX workbook.
	Export(ctx context.Context, examID int64, w io.Writer) error

	// Similar returns stored questions from any exam whose text resembles
	// the given question.
	Similar(ctx context.Context, examID int64, number, k int) ([]store.SimilarQuestion, error)

	// Config returns the engine configuration.
	Config() Config

	// Store returns the underlying store.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// Exam is a stored exam as listed by the engine.
type Exam struct {
	ExamMetadata
	ID            int64  `json:"id"`
	ParserVersion string `json:"parser_version"`
	LastError     string `json:"last_error,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// Prepared is an extracted, stored, not yet parsed exam.
type Prepared struct {
	ExamID            int64
	Exam              ExamMetadata
	Blocks            []exam.ContentBlock
	DocumentAnomalies []exam.Anomaly
}

// ParseOption configures a single parse.
type ParseOption func(*parseOptions)

type parseOptions struct {
	name      string
	provider  string
	version   string
	pageStart int
	pageEnd   int
}

// WithName sets the exam name, which also fixes the exam key.
func WithName(name string) ParseOption {
	return func(o *parseOptions) { o.name = name }
}

// WithProvider sets the exam provider.
func WithProvider(provider string) ParseOption {
	return func(o *parseOptions) { o.provider = provider }
}

// WithVersion sets the exam version.
func WithVersion(version string) ParseOption {
	return func(o *parseOptions) { o.version = version }
}

// WithPageRange restricts extraction to pages start..end (1-based,
// inclusive, zero for unbounded).
func WithPageRange(start, end int) ParseOption {
	return func(o *parseOptions) {
		o.pageStart = start
		o.pageEnd = end
	}
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg     Config
	store   *store.Store
	parsers *parser.Registry

	mu     sync.RWMutex
	closed bool
}

// New creates a new engine with the given configuration.
func New(cfg Config) (Engine, error) {
	if cfg.FingerprintDim == 0 {
		cfg.FingerprintDim = 64
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dbPath := cfg.resolveDBPath()
	s, err := store.New(dbPath, cfg.FingerprintDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	slog.Debug("engine: store opened", "path", dbPath)

	return &engine{
		cfg:     cfg,
		store:   s,
		parsers: parser.NewRegistry(),
	}, nil
}

func (e *engine) Config() Config      { return e.cfg }
func (e *engine) Store() *store.Store { return e.store }

// acquire guards every operation against a concurrent Close.
func (e *engine) acquire() (func(), error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	return e.mu.RUnlock, nil
}

func (e *engine) options(opts []ParseOption) parseOptions {
	o := parseOptions{
		name:      e.cfg.ExamName,
		provider:  e.cfg.Provider,
		version:   e.cfg.Version,
		pageStart: e.cfg.PageStart,
		pageEnd:   e.cfg.PageEnd,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// ParseFile processes a document through the full pipeline.
func (e *engine) ParseFile(ctx context.Context, path string, opts ...ParseOption) (*Result, error) {
	release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	p, err := e.prepare(ctx, path, e.options(opts))
	if err != nil {
		return nil, err
	}
	return e.analyze(ctx, p, start)
}

// ParseBlocks parses a fragment sequence supplied by the caller.
func (e *engine) ParseBlocks(ctx context.Context, blocks []exam.ContentBlock, opts ...ParseOption) (*Result, error) {
	release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	o := e.options(opts)
	if o.name == "" {
		o.name = "blocks-" + uuid.NewString()[:8]
	}
	if !indexed(blocks) {
		blocks = exam.Sequence(blocks)
	}
	meta := ExamMetadata{
		Key:        examKey(o.name),
		Name:       o.name,
		Provider:   o.provider,
		Version:    o.version,
		Format:     "json",
		TotalPages: maxPage(blocks),
	}
	p, err := e.persist(ctx, meta, "json", blocks)
	if err != nil {
		return nil, err
	}
	return e.analyze(ctx, p, start)
}

func (e *engine) Prepare(ctx context.Context, path string, opts ...ParseOption) (*Prepared, error) {
	release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return e.prepare(ctx, path, e.options(opts))
}

// prepare extracts path and stores the exam row and its ordered fragments.
func (e *engine) prepare(ctx context.Context, path string, o parseOptions) (*Prepared, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, filepath.Base(absPath))
	}

	format := parser.FormatOf(absPath)
	ext, err := e.parsers.Get(format)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	hash, err := fileHash(absPath)
	if err != nil {
		return nil, fmt.Errorf("hashing file: %w", err)
	}

	stem := strings.TrimSuffix(filepath.Base(absPath), filepath.Ext(absPath))
	name := o.name
	if name == "" {
		name = stem
	}
	key := examKey(name)

	extractOpts := e.cfg.extractOptions(key)
	extractOpts.PageStart, extractOpts.PageEnd = o.pageStart, o.pageEnd

	slog.Info("parse: extracting blocks", "file", filepath.Base(absPath), "format", format, "exam", key)
	extractStart := time.Now()
	extraction, err := ext.Extract(ctx, absPath, extractOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	blocks := extraction.Blocks
	if !extraction.Ordered {
		blocks = exam.Sequence(blocks)
	}
	slog.Info("parse: extraction complete",
		"file", filepath.Base(absPath), "method", extraction.Method,
		"blocks", len(blocks), "pages", extraction.TotalPages,
		"elapsed", time.Since(extractStart).Round(time.Millisecond))

	meta := ExamMetadata{
		Key:         key,
		Name:        name,
		Provider:    o.provider,
		Version:     o.version,
		SourceFile:  filepath.Base(absPath),
		Format:      format,
		FileHash:    hash,
		FileSize:    info.Size(),
		TotalPages:  extraction.TotalPages,
		ParseMethod: extraction.Method,
	}
	return e.persist(ctx, meta, extraction.Method, blocks)
}

// persist orders blocks and stores them with a fresh exam row.
func (e *engine) persist(ctx context.Context, meta ExamMetadata, method string, blocks []exam.ContentBlock) (*Prepared, error) {
	ordered, docAnomalies := orderBlocks(blocks)
	meta.ParseMethod = method
	meta.Status = store.ExamProcessing

	examID, err := e.store.UpsertExam(ctx, store.Exam{
		Key:           meta.Key,
		Name:          meta.Name,
		Provider:      meta.Provider,
		Version:       meta.Version,
		SourceFile:    meta.SourceFile,
		Format:        meta.Format,
		FileHash:      meta.FileHash,
		FileSize:      meta.FileSize,
		TotalPages:    meta.TotalPages,
		ParseMethod:   method,
		ParserVersion: ParserVersion,
		Status:        store.ExamProcessing,
	})
	if err != nil {
		return nil, fmt.Errorf("upserting exam: %w", err)
	}
	if err := e.store.SaveBlocks(ctx, examID, ordered); err != nil {
		return nil, fmt.Errorf("saving blocks: %w", err)
	}
	if err := e.store.SetDocumentAnomalies(ctx, examID, docAnomalies); err != nil {
		return nil, fmt.Errorf("saving document anomalies: %w", err)
	}
	return &Prepared{ExamID: examID, Exam: meta, Blocks: ordered, DocumentAnomalies: docAnomalies}, nil
}

// analyze runs the state machine over prepared fragments and stores the
// outcome.
func (e *engine) analyze(ctx context.Context, p *Prepared, start time.Time) (*Result, error) {
	res := statemachine.Parse(p.Blocks, e.cfg.Attribution())
	slog.Info("parse: state machine complete",
		"exam", p.Exam.Key, "questions", len(res.Questions),
		"preamble", len(res.Preamble), "anchors", res.AnchorsSeen)

	report := validate.Document(res.Questions, p.Blocks, p.DocumentAnomalies)
	result, err := e.save(ctx, p.ExamID, p.Exam, res.Questions, report, len(p.Blocks))
	if err != nil {
		e.store.UpdateExamStatus(ctx, p.ExamID, store.ExamFailed, err.Error())
		return nil, err
	}
	e.cfg.writeOutputs(result, p.Blocks)

	slog.Info("parse: complete",
		"exam", p.Exam.Key, "questions", len(result.Questions),
		"success_rate", result.Validation.SuccessRate,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return result, nil
}

func (e *engine) save(ctx context.Context, examID int64, meta ExamMetadata, questions []*exam.ParsedQuestion, report exam.ValidationReport, rawBlocks int) (*Result, error) {
	values := make([]exam.ParsedQuestion, len(questions))
	for i, q := range questions {
		values[i] = *q
	}
	if err := e.store.ReplaceQuestions(ctx, examID, values); err != nil {
		return nil, fmt.Errorf("saving questions: %w", err)
	}
	if err := e.store.SaveValidation(ctx, examID, report, len(questions)); err != nil {
		return nil, fmt.Errorf("saving validation: %w", err)
	}

	meta.TotalQuestions = len(questions)
	meta.Status = store.ExamCompleted
	if questions == nil {
		questions = []*exam.ParsedQuestion{}
	}
	return &Result{
		ExamID:       examID,
		Exam:         meta,
		Questions:    questions,
		Validation:   report,
		ParseVersion: ParseVersion{
			Version:             ParserVersion,
			ParsedAt:            time.Now().UTC(),
			RawBlocks:           rawBlocks,
			StructuredQuestions: report.StructuredSuccessfully,
		},
	}, nil
}

func (e *engine) Complete(ctx context.Context, examID int64) (*Result, error) {
	release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	stored, err := e.getExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	blocks, err := e.store.LoadBlocks(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("loading blocks: %w", err)
	}
	docAnomalies, err := e.store.DocumentAnomalies(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("loading document anomalies: %w", err)
	}
	questions, err := e.questions(ctx, examID)
	if err != nil {
		return nil, err
	}

	report := validate.Document(questions, blocks, docAnomalies)
	result, err := e.save(ctx, examID, metadataFromStore(stored), questions, report, len(blocks))
	if err != nil {
		return nil, err
	}
	e.cfg.writeOutputs(result, blocks)
	slog.Info("parse: job result complete", "exam", stored.Key, "questions", len(questions))
	return result, nil
}

func (e *engine) Get(ctx context.Context, examID int64) (*Result, error) {
	release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return e.get(ctx, examID)
}

func (e *engine) get(ctx context.Context, examID int64) (*Result, error) {
	stored, err := e.getExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	questions, err := e.questions(ctx, examID)
	if err != nil {
		return nil, err
	}
	report := exam.NewValidationReport()
	if r, err := e.store.GetValidation(ctx, examID); err == nil {
		report = *r
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("loading validation: %w", err)
	}
	if questions == nil {
		questions = []*exam.ParsedQuestion{}
	}

	rawBlocks, err := e.store.CountBlocks(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("counting blocks: %w", err)
	}

	parsedAt, _ := time.Parse(time.RFC3339Nano, stored.UpdatedAt)
	return &Result{
		ExamID:     examID,
		Exam:       metadataFromStore(stored),
		Questions:  questions,
		Validation: report,
		ParseVersion: ParseVersion{
			Version:             stored.ParserVersion,
			ParsedAt:            parsedAt,
			RawBlocks:           rawBlocks,
			StructuredQuestions: report.StructuredSuccessfully,
		},
	}, nil
}

func (e *engine) getExam(ctx context.Context, examID int64) (*store.Exam, error) {
	stored, err := e.store.GetExam(ctx, examID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrExamNotFound, examID)
	}
	return stored, err
}

func (e *engine) questions(ctx context.Context, examID int64) ([]*exam.ParsedQuestion, error) {
	values, err := e.store.GetQuestions(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("loading questions: %w", err)
	}
	out := make([]*exam.ParsedQuestion, len(values))
	for i := range values {
		out[i] = &values[i]
	}
	return out, nil
}

func (e *engine) List(ctx context.Context) ([]Exam, error) {
	release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	stored, err := e.store.ListExams(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]Exam, len(stored))
	for i := range stored {
		s := &stored[i]
		result[i] = Exam{
			ID:            s.ID,
			ExamMetadata:  metadataFromStore(s),
			ParserVersion: s.ParserVersion,
			LastError:     s.LastError,
			CreatedAt:     s.CreatedAt,
			UpdatedAt:     s.UpdatedAt,
		}
	}
	return result, nil
}

func (e *engine) Delete(ctx context.Context, examID int64) error {
	release, err := e.acquire()
	if err != nil {
		return err
	}
	defer release()

	err = e.store.DeleteExam(ctx, examID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %d", ErrExamNotFound, examID)
	}
	return err
}

func (e *engine) Export(ctx context.Context, examID int64, w io.Writer) error {
	release, err := e.acquire()
	if err != nil {
		return err
	}
	defer release()

	res, err := e.get(ctx, examID)
	if err != nil {
		return err
	}
	return export.Write(w, export.Workbook{
		Name:      res.Exam.Name,
		Questions: res.Questions,
		Report:    res.Validation,
	})
}

func (e *engine) Similar(ctx context.Context, examID int64, number, k int) ([]store.SimilarQuestion, error) {
	release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	qid, err := e.store.QuestionID(ctx, examID, number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no question %d in exam %d", ErrExamNotFound, number, examID)
	}
	if err != nil {
		return nil, err
	}
	return e.store.Similar(ctx, qid, k)
}

// Close shuts down the engine.
func (e *engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.store.Close()
}

// examKey turns a name into a filesystem-safe key of at most 50 characters.
func examKey(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
		if sb.Len() == 50 {
			break
		}
	}
	key := sb.String()
	if key == "" {
		key = "exam"
	}
	return key
}

// indexed reports whether blocks carry their own order indices.
func indexed(blocks []exam.ContentBlock) bool {
	for _, b := range blocks {
		if b.OrderIndex != 0 {
			return true
		}
	}
	return len(blocks) <= 1
}

func maxPage(blocks []exam.ContentBlock) int {
	n := 0
	for _, b := range blocks {
		n = max(n, b.PageNumber)
	}
	return n
}

// fileHash computes the SHA-256 hash of a file's content.
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
