package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/examparse/exam"
)

func init() {
	sqlite_vec.Auto()
}

// Exam represents a row in the exams table.
type Exam struct {
	ID             int64  `json:"id"`
	Key            string `json:"exam_key"`
	Name           string `json:"name"`
	Provider       string `json:"provider"`
	Version        string `json:"version"`
	SourceFile     string `json:"source_file"`
	Format         string `json:"format"`
	FileHash       string `json:"file_hash"`
	FileSize       int64  `json:"file_size"`
	TotalPages     int    `json:"total_pages"`
	TotalQuestions int    `json:"total_questions"`
	ParseMethod    string `json:"parse_method"`
	ParserVersion  string `json:"parser_version"`
	Status         string `json:"status"`
	LastError      string `json:"last_error,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// Exam statuses.
const (
	ExamPending    = "pending"
	ExamProcessing = "processing"
	ExamPaused     = "paused"
	ExamCompleted  = "completed"
	ExamFailed     = "failed"
)

// SimilarQuestion is a stored question close to a query fingerprint.
type SimilarQuestion struct {
	QuestionID int64   `json:"question_id"`
	ExamID     int64   `json:"exam_id"`
	ExamName   string  `json:"exam_name"`
	Number     int     `json:"question_number"`
	RawText    string  `json:"raw_text"`
	Score      float64 `json:"score"`
}

// Store wraps the SQLite database for all examparse persistence.
type Store struct {
	db             *sql.DB
	fingerprintDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec fingerprint table.
func New(dbPath string, fingerprintDim int) (*Store, error) {
	if fingerprintDim <= 0 {
		return nil, fmt.Errorf("fingerprint dimension must be positive, got %d", fingerprintDim)
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(fingerprintDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, fingerprintDim: fingerprintDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// FingerprintDim returns the configured fingerprint dimension.
func (s *Store) FingerprintDim() int {
	return s.fingerprintDim
}

// --- Exam operations ---

const examColumns = `id, exam_key, name, provider, version, source_file, format, file_hash,
	file_size, total_pages, total_questions, parse_method, parser_version, status,
	last_error, created_at, updated_at`

// UpsertExam inserts or updates an exam keyed by its exam key. Returns the
// exam ID.
func (s *Store) UpsertExam(ctx context.Context, e Exam) (int64, error) {
	if e.Status == "" {
		e.Status = ExamPending
	}
	// RETURNING reports the row on both paths; LastInsertId does not when
	// the upsert updates.
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO exams (exam_key, name, provider, version, source_file, format, file_hash,
			file_size, total_pages, total_questions, parse_method, parser_version, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(exam_key) DO UPDATE SET
			name = excluded.name,
			provider = excluded.provider,
			version = excluded.version,
			source_file = excluded.source_file,
			format = excluded.format,
			file_hash = excluded.file_hash,
			file_size = excluded.file_size,
			total_pages = excluded.total_pages,
			total_questions = excluded.total_questions,
			parse_method = excluded.parse_method,
			parser_version = excluded.parser_version,
			status = excluded.status,
			last_error = NULL,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`, e.Key, e.Name, e.Provider, e.Version, e.SourceFile, e.Format, e.FileHash,
		e.FileSize, e.TotalPages, e.TotalQuestions, e.ParseMethod, e.ParserVersion, e.Status).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExam(r rowScanner) (*Exam, error) {
	e := &Exam{}
	var parserVersion, lastError sql.NullString
	if err := r.Scan(&e.ID, &e.Key, &e.Name, &e.Provider, &e.Version, &e.SourceFile,
		&e.Format, &e.FileHash, &e.FileSize, &e.TotalPages, &e.TotalQuestions,
		&e.ParseMethod, &parserVersion, &e.Status, &lastError,
		&e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.ParserVersion = parserVersion.String
	e.LastError = lastError.String
	return e, nil
}

// GetExam retrieves an exam by ID.
func (s *Store) GetExam(ctx context.Context, id int64) (*Exam, error) {
	return scanExam(s.db.QueryRowContext(ctx,
		"SELECT "+examColumns+" FROM exams WHERE id = ?", id))
}

// GetExamByKey retrieves an exam by its exam key.
func (s *Store) GetExamByKey(ctx context.Context, key string) (*Exam, error) {
	return scanExam(s.db.QueryRowContext(ctx,
		"SELECT "+examColumns+" FROM exams WHERE exam_key = ?", key))
}

// ListExams returns all exams, newest first.
func (s *Store) ListExams(ctx context.Context) ([]Exam, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+examColumns+" FROM exams ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *e)
	}
	return exams, rows.Err()
}

// UpdateExamStatus sets the status and last error of an exam.
func (s *Store) UpdateExamStatus(ctx context.Context, id int64, status, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE exams SET status = ?, last_error = NULLIF(?, ''), updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		status, lastError, id)
	return err
}

// DeleteExam removes an exam and cascades to its questions, blocks and
// fingerprints.
func (s *Store) DeleteExam(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_questions WHERE question_id IN (
				SELECT id FROM questions WHERE exam_id = ?
			)`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM exams WHERE id = ?", id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

// --- Block operations ---

// SaveBlocks replaces the stored fragments of an exam.
func (s *Store) SaveBlocks(ctx context.Context, examID int64, blocks []exam.ContentBlock) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM blocks WHERE exam_id = ?", examID); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO blocks (exam_id, order_index, kind, content, page_number, bbox)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, b := range blocks {
			bbox, err := json.Marshal(b.BBox)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, examID, b.OrderIndex, b.Kind.String(),
				b.Content, b.PageNumber, string(bbox)); err != nil {
				return fmt.Errorf("inserting block %d: %w", b.OrderIndex, err)
			}
		}
		return nil
	})
}

// LoadBlocks returns the stored fragments of an exam in order.
func (s *Store) LoadBlocks(ctx context.Context, examID int64) ([]exam.ContentBlock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_index, kind, content, page_number, bbox
		FROM blocks WHERE exam_id = ? ORDER BY order_index
	`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []exam.ContentBlock
	for rows.Next() {
		var b exam.ContentBlock
		var kind, bbox string
		if err := rows.Scan(&b.OrderIndex, &kind, &b.Content, &b.PageNumber, &bbox); err != nil {
			return nil, err
		}
		if err := b.Kind.UnmarshalText([]byte(kind)); err != nil {
			return nil, fmt.Errorf("block %d: %w", b.OrderIndex, err)
		}
		if err := json.Unmarshal([]byte(bbox), &b.BBox); err != nil {
			return nil, fmt.Errorf("block %d bbox: %w", b.OrderIndex, err)
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// SetDocumentAnomalies records the anomalies found on the fragment sequence
// as a whole, before any question was parsed.
func (s *Store) SetDocumentAnomalies(ctx context.Context, examID int64, anomalies []exam.Anomaly) error {
	if anomalies == nil {
		anomalies = []exam.Anomaly{}
	}
	data, err := json.Marshal(anomalies)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE exams SET document_anomalies = ? WHERE id = ?", string(data), examID)
	return err
}

// DocumentAnomalies returns the anomalies recorded by SetDocumentAnomalies.
func (s *Store) DocumentAnomalies(ctx context.Context, examID int64) ([]exam.Anomaly, error) {
	var data sql.NullString
	if err := s.db.QueryRowContext(ctx,
		"SELECT document_anomalies FROM exams WHERE id = ?", examID).Scan(&data); err != nil {
		return nil, err
	}
	if !data.Valid || data.String == "" {
		return nil, nil
	}
	var anomalies []exam.Anomaly
	if err := json.Unmarshal([]byte(data.String), &anomalies); err != nil {
		return nil, fmt.Errorf("decoding document anomalies: %w", err)
	}
	return anomalies, nil
}

// --- Question operations ---

// ReplaceQuestions stores the complete question list of an exam, replacing
// whatever was there.
func (s *Store) ReplaceQuestions(ctx context.Context, examID int64, questions []exam.ParsedQuestion) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := deleteQuestions(ctx, tx, examID, 0); err != nil {
			return err
		}
		for i := range questions {
			if _, err := s.insertQuestion(ctx, tx, examID, i, &questions[i]); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE exams SET total_questions = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
			len(questions), examID)
		return err
	})
}

// AppendQuestion stores one finalized question at the given position. When
// jobID is set, the job checkpoint is advanced in the same transaction so a
// resumed job never loses or repeats the question.
func (s *Store) AppendQuestion(ctx context.Context, examID int64, position int, q *exam.ParsedQuestion, jobID string, checkpoint int) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = s.insertQuestion(ctx, tx, examID, position, q)
		if err != nil {
			return err
		}
		if jobID == "" {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET checkpoint = ?, questions_saved = questions_saved + 1,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, checkpoint, jobID)
		return err
	})
	return id, err
}

// DeleteQuestionsFrom removes the questions of an exam whose anchor is at or
// after fromIndex. A resumed job calls it before replaying from its
// checkpoint.
func (s *Store) DeleteQuestionsFrom(ctx context.Context, examID int64, fromIndex int) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return deleteQuestions(ctx, tx, examID, fromIndex)
	})
}

func deleteQuestions(ctx context.Context, tx *sql.Tx, examID int64, fromIndex int) error {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM vec_questions WHERE question_id IN (
			SELECT id FROM questions WHERE exam_id = ? AND anchor_index >= ?
		)`, examID, fromIndex); err != nil {
		return err
	}
	// anomalies cascade
	_, err := tx.ExecContext(ctx,
		"DELETE FROM questions WHERE exam_id = ? AND anchor_index >= ?", examID, fromIndex)
	return err
}

func (s *Store) insertQuestion(ctx context.Context, tx *sql.Tx, examID int64, position int, q *exam.ParsedQuestion) (int64, error) {
	data, err := json.Marshal(q)
	if err != nil {
		return 0, fmt.Errorf("encoding question %d: %w", q.Number, err)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO questions (exam_id, position, question_number, anchor_index,
			page_start, page_end, anomaly_score, raw_text, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, examID, position, q.Number, q.Anchor.OrderIndex, q.PageStart, q.PageEnd,
		q.AnomalyScore, q.RawText, string(data))
	if err != nil {
		return 0, fmt.Errorf("inserting question %d: %w", q.Number, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, a := range q.Anomalies {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO anomalies (question_id, anomaly_type, severity, message) VALUES (?, ?, ?, ?)",
			id, string(a.Type), a.Severity, a.Message); err != nil {
			return 0, fmt.Errorf("inserting anomaly: %w", err)
		}
	}

	if fp := Fingerprint(q.RawText, s.fingerprintDim); fp != nil {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO vec_questions (question_id, fingerprint) VALUES (?, ?)",
			id, serializeFloat32(fp)); err != nil {
			return 0, fmt.Errorf("inserting fingerprint: %w", err)
		}
	}
	return id, nil
}

// GetQuestions returns the stored questions of an exam in finalization order.
func (s *Store) GetQuestions(ctx context.Context, examID int64) ([]exam.ParsedQuestion, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM questions WHERE exam_id = ? ORDER BY position", examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []exam.ParsedQuestion
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var q exam.ParsedQuestion
		if err := json.Unmarshal([]byte(data), &q); err != nil {
			return nil, fmt.Errorf("decoding question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// CountQuestions returns the number of stored questions of an exam.
func (s *Store) CountQuestions(ctx context.Context, examID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM questions WHERE exam_id = ?", examID).Scan(&n)
	return n, err
}

// CountBlocks returns the number of stored fragments of an exam.
func (s *Store) CountBlocks(ctx context.Context, examID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM blocks WHERE exam_id = ?", examID).Scan(&n)
	return n, err
}

// QuestionID returns the row ID of the first question of an exam with the
// given number.
func (s *Store) QuestionID(ctx context.Context, examID int64, number int) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM questions WHERE exam_id = ? AND question_number = ?
		ORDER BY position LIMIT 1
	`, examID, number).Scan(&id)
	return id, err
}

// --- Validation ---

// SaveValidation stores the validation report of an exam and marks it
// completed.
func (s *Store) SaveValidation(ctx context.Context, examID int64, report exam.ValidationReport, totalQuestions int) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding validation: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE exams SET validation = ?, total_questions = ?, status = ?, last_error = NULL,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, string(data), totalQuestions, ExamCompleted, examID)
	return err
}

// GetValidation returns the stored validation report of an exam.
func (s *Store) GetValidation(ctx context.Context, examID int64) (*exam.ValidationReport, error) {
	var data sql.NullString
	if err := s.db.QueryRowContext(ctx,
		"SELECT validation FROM exams WHERE id = ?", examID).Scan(&data); err != nil {
		return nil, err
	}
	if !data.Valid || data.String == "" {
		return nil, sql.ErrNoRows
	}
	report := exam.NewValidationReport()
	if err := json.Unmarshal([]byte(data.String), &report); err != nil {
		return nil, fmt.Errorf("decoding validation: %w", err)
	}
	return &report, nil
}

// --- Similarity ---

// Similar returns up to k stored questions whose fingerprint is closest to
// that of the given question, excluding the question itself.
func (s *Store) Similar(ctx context.Context, questionID int64, k int) ([]SimilarQuestion, error) {
	var rawText string
	if err := s.db.QueryRowContext(ctx,
		"SELECT raw_text FROM questions WHERE id = ?", questionID).Scan(&rawText); err != nil {
		return nil, err
	}
	results, err := s.SimilarText(ctx, rawText, k+1)
	if err != nil {
		return nil, err
	}

	out := results[:0]
	for _, r := range results {
		if r.QuestionID != questionID && len(out) < k {
			out = append(out, r)
		}
	}
	return out, nil
}

// SimilarText performs a KNN search over question fingerprints.
func (s *Store) SimilarText(ctx context.Context, text string, k int) ([]SimilarQuestion, error) {
	fp := Fingerprint(text, s.fingerprintDim)
	if fp == nil || k <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.question_id, v.distance, q.exam_id, e.name, q.question_number, q.raw_text
		FROM vec_questions v
		JOIN questions q ON q.id = v.question_id
		JOIN exams e ON e.id = q.exam_id
		WHERE v.fingerprint MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(fp), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SimilarQuestion
	for rows.Next() {
		var r SimilarQuestion
		var distance float64
		if err := rows.Scan(&r.QuestionID, &distance, &r.ExamID, &r.ExamName,
			&r.Number, &r.RawText); err != nil {
			return nil, err
		}
		// cosine distance to similarity
		r.Score = 1.0 - distance
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Stats ---

// Stats holds counts of key database objects.
type Stats struct {
	Exams        int            `json:"exams"`
	Questions    int            `json:"questions"`
	Anomalies    int            `json:"anomalies"`
	Fingerprints int            `json:"fingerprints"`
	Jobs         int            `json:"jobs"`
	ByType       map[string]int `json:"anomalies_by_type"`
}

// Stats returns counts of exams, questions, anomalies, fingerprints and jobs.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByType: make(map[string]int)}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM exams", &stats.Exams},
		{"SELECT COUNT(*) FROM questions", &stats.Questions},
		{"SELECT COUNT(*) FROM anomalies", &stats.Anomalies},
		{"SELECT COUNT(*) FROM vec_questions", &stats.Fingerprints},
		{"SELECT COUNT(*) FROM jobs", &stats.Jobs},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT anomaly_type, COUNT(*) FROM anomalies GROUP BY anomaly_type")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		stats.ByType[typ] = n
	}
	return stats, rows.Err()
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
