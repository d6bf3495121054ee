package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrActiveJobExists indicates a pending or running job already holds the
// (target_id, pattern) slot. Backed by a partial unique index, so concurrent
// inserts cannot both win.
var ErrActiveJobExists = errors.New("active job exists")

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

const jobColumns = `id, type, target_id, target_name, pattern, status, progress,
	result_path, error, created_at, started_at, finished_at, last_heartbeat_at`

func scanJob(row interface{ Scan(...any) error }) (Job, error) {
	var j Job
	var progress, resultPath, errMsg sql.NullString
	var started, finished, heartbeat sql.NullInt64
	err := row.Scan(&j.ID, &j.Type, &j.TargetID, &j.TargetName, &j.Pattern,
		&j.Status, &progress, &resultPath, &errMsg,
		&j.CreatedAt, &started, &finished, &heartbeat)
	if err != nil {
		return Job{}, err
	}
	j.ResultPath = fromNullStr(resultPath)
	j.Error = fromNullStr(errMsg)
	j.StartedAt = fromNullInt(started)
	j.FinishedAt = fromNullInt(finished)
	j.LastHeartbeatAt = fromNullInt(heartbeat)

	if progress.Valid && progress.String != "" {
		var p Progress
		if err := json.Unmarshal([]byte(progress.String), &p); err != nil {
			return Job{}, fmt.Errorf("decode progress of job %q: %w", j.ID, err)
		}
		j.Progress = &p
	}
	return j, nil
}

// CreateJob inserts a new pending job row. Returns ErrActiveJobExists when a
// pending or running job for the same (target_id, pattern) already exists.
func (s *Store) CreateJob(ctx context.Context, j Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, target_id, target_name, pattern, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Type, j.TargetID, j.TargetName, j.Pattern, j.Status, j.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("job for %q/%q: %w", j.TargetID, j.Pattern, ErrActiveJobExists)
	}
	if err != nil {
		return fmt.Errorf("create job %q: %w", j.ID, err)
	}
	return nil
}

// GetJob fetches one job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %q: %w", id, err)
	}
	return &j, nil
}

// ListJobs returns jobs newest first. A zero limit defaults to 100.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+jobColumns+" FROM jobs ORDER BY created_at DESC, id LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var result []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		result = append(result, j)
	}
	return result, rows.Err()
}

// DeleteJob removes a job row. Deleting a missing job is not an error.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete job %q: %w", id, err)
	}
	return nil
}

// ActiveJob returns the pending or running job for (targetID, pattern), or
// nil when none exists. At most one such row exists at any moment.
func (s *Store) ActiveJob(ctx context.Context, targetID, pattern string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE target_id = ? AND pattern = ? AND status IN ('pending', 'running')
		ORDER BY created_at DESC LIMIT 1
	`, targetID, pattern)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active job for %q/%q: %w", targetID, pattern, err)
	}
	return &j, nil
}

// LatestDoneJob returns the most recent done job for (targetID, pattern) that
// still has a result path, or nil.
func (s *Store) LatestDoneJob(ctx context.Context, targetID, pattern string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE target_id = ? AND pattern = ? AND status = 'done' AND result_path IS NOT NULL
		ORDER BY finished_at DESC LIMIT 1
	`, targetID, pattern)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find done job for %q/%q: %w", targetID, pattern, err)
	}
	return &j, nil
}

// SetJobRunning transitions a job to running.
func (s *Store) SetJobRunning(ctx context.Context, id string, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'running', started_at = ?, last_heartbeat_at = ?
		WHERE id = ?
	`, now, now, id)
	if err != nil {
		return fmt.Errorf("set job %q running: %w", id, err)
	}
	return nil
}

// SetJobProgress records a worker progress report.
func (s *Store) SetJobProgress(ctx context.Context, id string, p Progress) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode progress for job %q: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET progress = ? WHERE id = ?", string(b), id); err != nil {
		return fmt.Errorf("set progress for job %q: %w", id, err)
	}
	return nil
}

// SetJobDone transitions a job to done with its result artifact path.
func (s *Store) SetJobDone(ctx context.Context, id, resultPath string, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'done', result_path = ?, finished_at = ?, error = NULL
		WHERE id = ?
	`, resultPath, now, id)
	if err != nil {
		return fmt.Errorf("set job %q done: %w", id, err)
	}
	return nil
}

// SetJobFailed transitions a job to failed with a one-line message.
func (s *Store) SetJobFailed(ctx context.Context, id, message string, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'failed', error = ?, finished_at = ?
		WHERE id = ?
	`, message, now, id)
	if err != nil {
		return fmt.Errorf("set job %q failed: %w", id, err)
	}
	return nil
}

// TouchJobHeartbeat refreshes the worker liveness timestamp.
func (s *Store) TouchJobHeartbeat(ctx context.Context, id string, now int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET last_heartbeat_at = ? WHERE id = ?", now, id)
	if err != nil {
		return fmt.Errorf("heartbeat job %q: %w", id, err)
	}
	return nil
}

// SweepAbandonedJobs fails non-terminal jobs whose last sign of life predates
// cutoff. Jobs that never heartbeat fall back to created_at. Returns the
// number of rows transitioned.
func (s *Store) SweepAbandonedJobs(ctx context.Context, cutoff, now int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'failed', error = 'abandoned', finished_at = ?
		WHERE status IN ('pending', 'running')
		  AND COALESCE(last_heartbeat_at, created_at) < ?
	`, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep abandoned jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count swept jobs: %w", err)
	}
	return int(n), nil
}

// DoneJobs returns all done jobs with a result path, for the artifact audit.
func (s *Store) DoneJobs(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE status = 'done' AND result_path IS NOT NULL")
	if err != nil {
		return nil, fmt.Errorf("list done jobs: %w", err)
	}
	defer rows.Close()

	var result []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		result = append(result, j)
	}
	return result, rows.Err()
}

// ResultPathRefs counts job rows other than excludeID referencing a result
// path. Artifacts are keyed by (type, target, pattern), so rows can share a
// file.
func (s *Store) ResultPathRefs(ctx context.Context, resultPath, excludeID string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM jobs WHERE result_path = ? AND id <> ?",
		resultPath, excludeID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count references to %q: %w", resultPath, err)
	}
	return n, nil
}

// ClearJobResult drops the result path of a done job whose artifact vanished,
// degrading it to a cache miss without rewriting history.
func (s *Store) ClearJobResult(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET result_path = NULL WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("clear result of job %q: %w", id, err)
	}
	return nil
}
