package store

import (
	"context"
	"database/sql"
)

// Job represents a row in the jobs table.
type Job struct {
	ID             string `json:"id"`
	ExamID         int64  `json:"exam_id,omitempty"`
	Source         string `json:"source"`
	Status         string `json:"status"`
	Checkpoint     int    `json:"checkpoint"`
	TotalFragments int    `json:"total_fragments"`
	QuestionsSaved int    `json:"questions_saved"`
	LastError      string `json:"last_error,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// Job statuses.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobPaused     = "paused"
	JobCompleted  = "completed"
	JobFailed     = "failed"
	JobCancelled  = "cancelled"
)

const jobColumns = `id, exam_id, source, status, checkpoint, total_fragments,
	questions_saved, last_error, created_at, updated_at`

// CreateJob inserts a new job.
func (s *Store) CreateJob(ctx context.Context, j Job) error {
	if j.Status == "" {
		j.Status = JobPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, exam_id, source, status, checkpoint, total_fragments)
		VALUES (?, NULLIF(?, 0), ?, ?, ?, ?)
	`, j.ID, j.ExamID, j.Source, j.Status, j.Checkpoint, j.TotalFragments)
	return err
}

func scanJob(r rowScanner) (*Job, error) {
	j := &Job{}
	var examID sql.NullInt64
	var lastError sql.NullString
	if err := r.Scan(&j.ID, &examID, &j.Source, &j.Status, &j.Checkpoint,
		&j.TotalFragments, &j.QuestionsSaved, &lastError,
		&j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.ExamID = examID.Int64
	j.LastError = lastError.String
	return j, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	return scanJob(s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
}

// ListJobs returns jobs, newest first. An empty status lists all of them.
func (s *Store) ListJobs(ctx context.Context, status string) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE ? = '' OR status = ? ORDER BY created_at DESC, rowid DESC",
		status, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// UpdateJobStatus sets the status and last error of a job.
func (s *Store) UpdateJobStatus(ctx context.Context, id, status, lastError string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET status = ?, last_error = NULLIF(?, ''), updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		status, lastError, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetJobExam links a job to its exam and records the fragment count.
func (s *Store) SetJobExam(ctx context.Context, id string, examID int64, totalFragments int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET exam_id = ?, total_fragments = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		examID, totalFragments, id)
	return err
}

// SetJobCheckpoint records the order index a resumed job restarts from.
func (s *Store) SetJobCheckpoint(ctx context.Context, id string, checkpoint int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET checkpoint = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		checkpoint, id)
	return err
}
