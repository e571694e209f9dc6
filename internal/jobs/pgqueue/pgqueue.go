// Package pgqueue is a PostgreSQL jobs.Queue backed by gorm. It is used when
// several hosts share one queue; claims lock the chosen row with
// FOR UPDATE SKIP LOCKED so concurrent claimants pass over each other.
package pgqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/banshee-data/footfall.report/internal/jobs"
	"github.com/banshee-data/footfall.report/internal/timeutil"
)

// ErrNotFound is returned when a job row does not exist.
var ErrNotFound = errors.New("job not found")

// JobRow is the jobs table.
type JobRow struct {
	ID          int64      `gorm:"column:job_id;primaryKey;autoIncrement"`
	Type        string     `gorm:"column:type;not null;index"`
	Payload     string     `gorm:"column:payload;type:jsonb;not null"`
	Status      string     `gorm:"column:status;not null;index:idx_jobs_claim,priority:1"`
	Attempts    int        `gorm:"column:attempts;not null;default:0"`
	MaxAttempts int        `gorm:"column:max_attempts;not null"`
	RunAfter    time.Time  `gorm:"column:run_after;not null;index:idx_jobs_claim,priority:2"`
	LockedAt    *time.Time `gorm:"column:locked_at"`
	LockedBy    *string    `gorm:"column:locked_by"`
	LastError   *string    `gorm:"column:last_error"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;not null"`
}

func (JobRow) TableName() string { return "jobs" }

func (r *JobRow) toJob() *jobs.Job {
	j := &jobs.Job{
		ID:          r.ID,
		Type:        jobs.Type(r.Type),
		Payload:     json.RawMessage(r.Payload),
		Status:      jobs.Status(r.Status),
		Attempts:    r.Attempts,
		MaxAttempts: r.MaxAttempts,
		RunAfter:    r.RunAfter.UTC(),
		LockedBy:    r.LockedBy,
		LastError:   r.LastError,
		CreatedAt:   r.CreatedAt.UTC(),
	}
	if r.LockedAt != nil {
		t := r.LockedAt.UTC()
		j.LockedAt = &t
	}
	return j
}

// Open connects to dsn with warn-level gorm logging.
func Open(dsn string) (*gorm.DB, error) {
	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	return db, nil
}

// Queue implements jobs.Queue on PostgreSQL.
type Queue struct {
	db          *gorm.DB
	MaxAttempts int
	Clock       timeutil.Clock
}

var _ jobs.Queue = (*Queue)(nil)

// New returns a queue on db. AutoMigrate must have been run.
func New(db *gorm.DB, maxAttempts int) *Queue {
	if maxAttempts < 1 {
		maxAttempts = jobs.DefaultMaxAttempts
	}
	return &Queue{db: db, MaxAttempts: maxAttempts, Clock: timeutil.RealClock{}}
}

// AutoMigrate creates or updates the jobs table.
func (q *Queue) AutoMigrate(ctx context.Context) error {
	return q.db.WithContext(ctx).AutoMigrate(&JobRow{})
}

func (q *Queue) now() time.Time {
	if q.Clock == nil {
		return time.Now().UTC()
	}
	return q.Clock.Now().UTC()
}

func (q *Queue) Enqueue(ctx context.Context, typ jobs.Type, payload any, runAfter time.Time) (*jobs.Job, error) {
	raw, err := jobs.EncodePayload(payload)
	if err != nil {
		return nil, err
	}
	now := q.now()
	if runAfter.IsZero() {
		runAfter = now
	}
	row := JobRow{
		Type:        string(typ),
		Payload:     string(raw),
		Status:      string(jobs.StatusQueued),
		MaxAttempts: q.MaxAttempts,
		RunAfter:    runAfter.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := q.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue %s job: %w", typ, err)
	}
	return row.toJob(), nil
}

// Claim sweeps stale locks when lockTimeout > 0, then locks and takes the
// first eligible row. Rows locked by another claimant are skipped.
func (q *Queue) Claim(ctx context.Context, workerID string, lockTimeout time.Duration) (*jobs.Job, error) {
	if lockTimeout > 0 {
		if _, _, err := q.SweepStale(ctx, lockTimeout); err != nil {
			return nil, err
		}
	}
	now := q.now()
	var claimed *jobs.Job
	err := q.db.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var rows []JobRow
		err := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND attempts < max_attempts AND run_after <= ?", string(jobs.StatusQueued), now).
			Order("run_after ASC, job_id ASC").
			Limit(1).
			Find(&rows).Error
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		row := rows[0]
		err = txx.Model(&JobRow{}).
			Where("job_id = ?", row.ID).
			Updates(map[string]interface{}{
				"status":     string(jobs.StatusProcessing),
				"attempts":   gorm.Expr("attempts + 1"),
				"locked_at":  now,
				"locked_by":  workerID,
				"updated_at": now,
			}).Error
		if err != nil {
			return err
		}
		row.Status = string(jobs.StatusProcessing)
		row.Attempts++
		row.LockedAt = &now
		row.LockedBy = &workerID
		claimed = row.toJob()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return claimed, nil
}

// SweepStale recovers processing jobs whose lock is older than lockTimeout.
func (q *Queue) SweepStale(ctx context.Context, lockTimeout time.Duration) (requeued, failed int64, err error) {
	now := q.now()
	cutoff := now.Add(-lockTimeout)
	err = q.db.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		res := txx.Model(&JobRow{}).
			Where("status = ? AND locked_at IS NOT NULL AND locked_at < ? AND attempts < max_attempts",
				string(jobs.StatusProcessing), cutoff).
			Updates(map[string]interface{}{
				"status":     string(jobs.StatusQueued),
				"locked_at":  nil,
				"locked_by":  nil,
				"last_error": jobs.ReasonStaleRequeued,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		requeued = res.RowsAffected

		res = txx.Model(&JobRow{}).
			Where("status = ? AND locked_at IS NOT NULL AND locked_at < ? AND attempts >= max_attempts",
				string(jobs.StatusProcessing), cutoff).
			Updates(map[string]interface{}{
				"status":     string(jobs.StatusFailed),
				"last_error": jobs.ReasonMaxAttemptsReached,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		failed = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sweep stale jobs: %w", err)
	}
	return requeued, failed, nil
}

func (q *Queue) MarkDone(ctx context.Context, job *jobs.Job) error {
	return q.finish(ctx, job, map[string]interface{}{"status": string(jobs.StatusDone)})
}

// MarkFailed is terminal; remaining attempts are not consulted. Both
// MarkDone and MarkFailed return jobs.ErrLockLost when job is no longer
// processing under its recorded lock.
func (q *Queue) MarkFailed(ctx context.Context, job *jobs.Job, reason string) error {
	if err := q.finish(ctx, job, map[string]interface{}{
		"status":     string(jobs.StatusFailed),
		"last_error": reason,
	}); err != nil {
		return err
	}
	job.LastError = &reason
	return nil
}

func (q *Queue) finish(ctx context.Context, job *jobs.Job, updates map[string]interface{}) error {
	if job == nil {
		return errors.New("nil job")
	}
	updates["updated_at"] = q.now()
	tx := q.db.WithContext(ctx).Model(&JobRow{}).
		Where("job_id = ? AND status = ?", job.ID, string(jobs.StatusProcessing))
	if job.LockedBy != nil {
		tx = tx.Where("locked_by = ?", *job.LockedBy)
	} else {
		tx = tx.Where("locked_by IS NULL")
	}
	res := tx.Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to finish job %d: %w", job.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := q.Get(ctx, job.ID); err != nil {
			return err
		}
		return fmt.Errorf("job %d: %w", job.ID, jobs.ErrLockLost)
	}
	job.Status = jobs.Status(updates["status"].(string))
	return nil
}

// Get loads one job.
func (q *Queue) Get(ctx context.Context, id int64) (*jobs.Job, error) {
	var row JobRow
	err := q.db.WithContext(ctx).Where("job_id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return row.toJob(), nil
}
