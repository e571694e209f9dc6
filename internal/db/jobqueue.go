package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/footfall.report/internal/jobs"
	"github.com/banshee-data/footfall.report/internal/timeutil"
)

// jobTimeLayout is fixed width so text comparison in SQL orders by time.
const jobTimeLayout = "2006-01-02T15:04:05.000000Z"

func formatJobTime(t time.Time) string { return t.UTC().Format(jobTimeLayout) }

func parseJobTime(s string) (time.Time, error) { return time.Parse(jobTimeLayout, s) }

// JobQueue is the SQLite implementation of jobs.Queue.
//
// Claims are optimistic: candidates are read in (run_after, job_id) order and
// each is taken with a compare-and-swap UPDATE guarded on status='queued'. A
// claimant that loses the race moves to the next candidate and never waits
// on a lock held by another claimant.
type JobQueue struct {
	db *DB
	// MaxAttempts is stored on every enqueued job.
	MaxAttempts int
	// ClaimBatch is how many candidates one claim round reads.
	ClaimBatch int
	Clock      timeutil.Clock
}

func NewJobQueue(db *DB, maxAttempts int) *JobQueue {
	if maxAttempts < 1 {
		maxAttempts = jobs.DefaultMaxAttempts
	}
	return &JobQueue{db: db, MaxAttempts: maxAttempts, ClaimBatch: 8, Clock: timeutil.RealClock{}}
}

func (q *JobQueue) now() time.Time {
	if q.Clock == nil {
		return time.Now()
	}
	return q.Clock.Now()
}

// Enqueue adds a queued job. A zero runAfter means now.
func (q *JobQueue) Enqueue(ctx context.Context, typ jobs.Type, payload any, runAfter time.Time) (*jobs.Job, error) {
	raw, err := jobs.EncodePayload(payload)
	if err != nil {
		return nil, err
	}
	now := q.now()
	if runAfter.IsZero() {
		runAfter = now
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO jobs (type, payload, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?)`,
		string(typ), string(raw), string(jobs.StatusQueued), q.MaxAttempts,
		formatJobTime(runAfter), formatJobTime(now), formatJobTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s job: %w", typ, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read job id: %w", err)
	}
	return q.Get(ctx, id)
}

// Claim sweeps stale locks when lockTimeout > 0 and then claims the next
// eligible job for workerID. It returns nil, nil when nothing is eligible.
func (q *JobQueue) Claim(ctx context.Context, workerID string, lockTimeout time.Duration) (*jobs.Job, error) {
	now := q.now()
	if lockTimeout > 0 {
		if _, _, err := q.SweepStale(ctx, lockTimeout); err != nil {
			return nil, err
		}
	}
	batch := q.ClaimBatch
	if batch < 1 {
		batch = 1
	}
	stamp := formatJobTime(now)

	// Every lost race means another claimant took a row, so rereading the
	// candidates always makes progress.
	for {
		ids, err := q.candidates(ctx, stamp, batch)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, nil
		}
		for _, id := range ids {
			res, err := q.db.ExecContext(ctx, `
				UPDATE jobs
				SET status = ?, locked_at = ?, locked_by = ?, attempts = attempts + 1, updated_at = ?
				WHERE job_id = ? AND status = ? AND attempts < max_attempts`,
				string(jobs.StatusProcessing), stamp, workerID, stamp, id, string(jobs.StatusQueued))
			if err != nil {
				return nil, fmt.Errorf("failed to claim job %d: %w", id, err)
			}
			if n, _ := res.RowsAffected(); n == 1 {
				return q.Get(ctx, id)
			}
		}
	}
}

func (q *JobQueue) candidates(ctx context.Context, now string, limit int) ([]int64, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT job_id FROM jobs
		WHERE status = ? AND attempts < max_attempts AND run_after <= ?
		ORDER BY run_after, job_id
		LIMIT ?`, string(jobs.StatusQueued), now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select claim candidates: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SweepStale recovers processing jobs whose lock is older than lockTimeout.
// Jobs with attempts left go back to queued; the rest fail. Both updates are
// guarded on status='processing', so repeating the sweep changes nothing.
func (q *JobQueue) SweepStale(ctx context.Context, lockTimeout time.Duration) (requeued, failed int64, err error) {
	now := q.now()
	stamp := formatJobTime(now)
	cutoff := formatJobTime(now.Add(-lockTimeout))

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin sweep: %w", err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, locked_at = NULL, locked_by = NULL, last_error = ?, updated_at = ?
		WHERE status = ? AND locked_at IS NOT NULL AND locked_at < ? AND attempts < max_attempts`,
		string(jobs.StatusQueued), jobs.ReasonStaleRequeued, stamp, string(jobs.StatusProcessing), cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to requeue stale jobs: %w", err)
	}
	requeued, _ = res.RowsAffected()

	res, err = tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, last_error = ?, updated_at = ?
		WHERE status = ? AND locked_at IS NOT NULL AND locked_at < ? AND attempts >= max_attempts`,
		string(jobs.StatusFailed), jobs.ReasonMaxAttemptsReached, stamp, string(jobs.StatusProcessing), cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to fail stale jobs: %w", err)
	}
	failed, _ = res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit sweep: %w", err)
	}
	return requeued, failed, nil
}

// MarkDone records successful completion. Like MarkFailed it only applies
// while job is processing under the lock recorded on it; otherwise it
// returns jobs.ErrLockLost.
func (q *JobQueue) MarkDone(ctx context.Context, job *jobs.Job) error {
	return q.finish(ctx, job, jobs.StatusDone, nil)
}

// MarkFailed records a terminal failure. Remaining attempts are not
// consulted.
func (q *JobQueue) MarkFailed(ctx context.Context, job *jobs.Job, reason string) error {
	return q.finish(ctx, job, jobs.StatusFailed, &reason)
}

func (q *JobQueue) finish(ctx context.Context, job *jobs.Job, status jobs.Status, reason *string) error {
	if job == nil {
		return fmt.Errorf("nil job")
	}
	var owner any
	if job.LockedBy != nil {
		owner = *job.LockedBy
	}
	var lastError any
	if reason != nil {
		lastError = *reason
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, last_error = COALESCE(?, last_error), updated_at = ?
		WHERE job_id = ? AND status = ? AND locked_by IS ?`,
		string(status), lastError, formatJobTime(q.now()), job.ID, string(jobs.StatusProcessing), owner)
	if err != nil {
		return fmt.Errorf("failed to mark job %d %s: %w", job.ID, status, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := q.Get(ctx, job.ID); err != nil {
			return err
		}
		return fmt.Errorf("job %d: %w", job.ID, jobs.ErrLockLost)
	}
	job.Status = status
	if reason != nil {
		job.LastError = reason
	}
	return nil
}

const jobSelect = `
	SELECT job_id, type, payload, status, attempts, max_attempts, run_after,
	       locked_at, locked_by, last_error, created_at
	FROM jobs`

func scanJob(r rowScanner) (*jobs.Job, error) {
	var (
		j                   jobs.Job
		typ, payload, st    string
		runAfter, createdAt string
		lockedAt, lockedBy  sql.NullString
		lastError           sql.NullString
	)
	if err := r.Scan(&j.ID, &typ, &payload, &st, &j.Attempts, &j.MaxAttempts, &runAfter,
		&lockedAt, &lockedBy, &lastError, &createdAt); err != nil {
		return nil, err
	}
	j.Type, j.Status, j.Payload = jobs.Type(typ), jobs.Status(st), json.RawMessage(payload)

	var err error
	if j.RunAfter, err = parseJobTime(runAfter); err != nil {
		return nil, fmt.Errorf("job %d run_after: %w", j.ID, err)
	}
	if j.CreatedAt, err = parseJobTime(createdAt); err != nil {
		return nil, fmt.Errorf("job %d created_at: %w", j.ID, err)
	}
	if lockedAt.Valid {
		t, err := parseJobTime(lockedAt.String)
		if err != nil {
			return nil, fmt.Errorf("job %d locked_at: %w", j.ID, err)
		}
		j.LockedAt = &t
	}
	if lockedBy.Valid {
		j.LockedBy = &lockedBy.String
	}
	if lastError.Valid {
		j.LastError = &lastError.String
	}
	return &j, nil
}

// Get returns one job.
func (q *JobQueue) Get(ctx context.Context, id int64) (*jobs.Job, error) {
	j, err := scanJob(q.db.QueryRowContext(ctx, jobSelect+` WHERE job_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	return j, nil
}

// List returns jobs newest first, optionally filtered by status.
func (q *JobQueue) List(ctx context.Context, status jobs.Status, limit int) ([]jobs.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	query, args := jobSelect, []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY job_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()
	var out []jobs.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

var _ jobs.Queue = (*JobQueue)(nil)
