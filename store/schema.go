package store

import "fmt"

// schemaSQL returns the DDL for all tables. fingerprintDim controls the
// vec0 virtual table dimension.
func schemaSQL(fingerprintDim int) string {
	return fmt.Sprintf(`
-- One row per parsed document, keyed by its exam key (file stem or name)
CREATE TABLE IF NOT EXISTS exams (
    id INTEGER PRIMARY KEY,
    exam_key TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    provider TEXT DEFAULT '',
    version TEXT DEFAULT '',
    source_file TEXT DEFAULT '',
    format TEXT DEFAULT '',
    file_hash TEXT DEFAULT '',
    file_size INTEGER DEFAULT 0,
    total_pages INTEGER DEFAULT 0,
    total_questions INTEGER DEFAULT 0,
    parse_method TEXT DEFAULT '',
    status TEXT DEFAULT 'pending',
    last_error TEXT,
    validation JSON,
    document_anomalies JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Finalized questions in finalization order. data holds the full question.
CREATE TABLE IF NOT EXISTS questions (
    id INTEGER PRIMARY KEY,
    exam_id INTEGER NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    question_number INTEGER NOT NULL,
    anchor_index INTEGER NOT NULL,
    page_start INTEGER,
    page_end INTEGER,
    anomaly_score INTEGER DEFAULT 0,
    raw_text TEXT DEFAULT '',
    data JSON NOT NULL
);

CREATE TABLE IF NOT EXISTS anomalies (
    id INTEGER PRIMARY KEY,
    question_id INTEGER NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
    anomaly_type TEXT NOT NULL,
    severity INTEGER NOT NULL,
    message TEXT
);

-- Extracted fragments, kept so a suspended job resumes without re-extracting
CREATE TABLE IF NOT EXISTS blocks (
    exam_id INTEGER NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
    order_index INTEGER NOT NULL,
    kind TEXT NOT NULL,
    content TEXT NOT NULL,
    page_number INTEGER NOT NULL,
    bbox JSON NOT NULL,
    PRIMARY KEY (exam_id, order_index)
);

-- Background parse jobs with their resume checkpoint
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    exam_id INTEGER REFERENCES exams(id) ON DELETE SET NULL,
    source TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    checkpoint INTEGER DEFAULT 0,
    total_fragments INTEGER DEFAULT 0,
    questions_saved INTEGER DEFAULT 0,
    last_error TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Question text fingerprints via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_questions USING vec0(
    question_id INTEGER PRIMARY KEY,
    fingerprint float[%d] distance_metric=cosine
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_questions_exam ON questions(exam_id, position);
CREATE INDEX IF NOT EXISTS idx_questions_number ON questions(exam_id, question_number);
CREATE INDEX IF NOT EXISTS idx_anomalies_question ON anomalies(question_id);
CREATE INDEX IF NOT EXISTS idx_anomalies_type ON anomalies(anomaly_type);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_exams_hash ON exams(file_hash);
`, fingerprintDim)
}
