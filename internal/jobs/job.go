// Package jobs is the persistent work queue: job types, the Queue contract
// that storage backends implement, and the polling workers that drain it.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type names the kind of work a job carries.
type Type string

const (
	TypeProcessSegment Type = "PROCESS_SEGMENT"
	TypeKPIRebuild     Type = "KPI_REBUILD"
)

// Status is a job's lifecycle state.
//
//	queued -> processing -> done | failed
//	processing -> queued   (stale sweep, attempts < max)
//	processing -> failed   (stale sweep at max attempts, or reported failure)
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// DefaultMaxAttempts applies to jobs enqueued without an explicit limit.
const DefaultMaxAttempts = 3

// Reasons written to last_error by the stale-lock sweep.
const (
	ReasonStaleRequeued      = "stale-lock-requeued"
	ReasonMaxAttemptsReached = "max-attempts-exceeded"
)

var (
	// ErrUnknownType is reported when no handler is registered for a job's type.
	ErrUnknownType = errors.New("unknown job type")
	// ErrBadPayload wraps payload decoding failures.
	ErrBadPayload = errors.New("invalid job payload")
	// ErrLockLost is returned when a job is finished by a worker that no
	// longer holds its lock, e.g. after a stale sweep handed it to another.
	ErrLockLost = errors.New("job lock lost")
)

// Job is one unit of queued work.
type Job struct {
	ID          int64           `json:"id"`
	Type        Type            `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	RunAfter    time.Time       `json:"run_after"`
	LockedAt    *time.Time      `json:"locked_at,omitempty"`
	LockedBy    *string         `json:"locked_by,omitempty"`
	LastError   *string         `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if len(j.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrBadPayload)
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}

// EncodePayload turns an arbitrary payload into stored JSON. Raw JSON and
// byte slices pass through; nil becomes an empty object.
func EncodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("%w: not valid JSON", ErrBadPayload)
		}
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, fmt.Errorf("%w: not valid JSON", ErrBadPayload)
		}
		return json.RawMessage(p), nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return b, nil
}

// Queue is the persistence contract for jobs.
//
// Claim must be atomic: two concurrent callers never receive the same job,
// and a caller that loses a race moves on instead of blocking. When
// lockTimeout is positive Claim first sweeps processing jobs whose lock is
// older than the timeout. Claim returns (nil, nil) when nothing is eligible.
//
// MarkFailed is terminal regardless of remaining attempts.
type Queue interface {
	Enqueue(ctx context.Context, typ Type, payload any, runAfter time.Time) (*Job, error)
	Claim(ctx context.Context, workerID string, lockTimeout time.Duration) (*Job, error)
	MarkDone(ctx context.Context, job *Job) error
	MarkFailed(ctx context.Context, job *Job, reason string) error
}
