package jobs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memQueue is an in-memory Queue with the same claim semantics as the
// database backends.
type memQueue struct {
	mu     sync.Mutex
	now    func() time.Time
	nextID int64
	jobs   map[int64]*Job
}

func newMemQueue(now func() time.Time) *memQueue {
	if now == nil {
		now = time.Now
	}
	return &memQueue{now: now, jobs: make(map[int64]*Job)}
}

func (q *memQueue) Enqueue(_ context.Context, typ Type, payload any, runAfter time.Time) (*Job, error) {
	raw, err := EncodePayload(payload)
	if err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	if runAfter.IsZero() {
		runAfter = now
	}
	q.nextID++
	j := &Job{ID: q.nextID, Type: typ, Payload: raw, Status: StatusQueued, MaxAttempts: DefaultMaxAttempts, RunAfter: runAfter, CreatedAt: now}
	q.jobs[j.ID] = j
	cp := *j
	return &cp, nil
}

func (q *memQueue) Claim(_ context.Context, workerID string, lockTimeout time.Duration) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	var eligible []*Job
	for _, j := range q.jobs {
		if j.Status == StatusQueued && j.Attempts < j.MaxAttempts && !j.RunAfter.After(now) {
			eligible = append(eligible, j)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	sort.Slice(eligible, func(a, b int) bool {
		if !eligible[a].RunAfter.Equal(eligible[b].RunAfter) {
			return eligible[a].RunAfter.Before(eligible[b].RunAfter)
		}
		return eligible[a].ID < eligible[b].ID
	})
	j := eligible[0]
	j.Status = StatusProcessing
	j.Attempts++
	j.LockedAt = &now
	j.LockedBy = &workerID
	cp := *j
	return &cp, nil
}

func (q *memQueue) MarkDone(_ context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[job.ID].Status = StatusDone
	return nil
}

func (q *memQueue) MarkFailed(_ context.Context, job *Job, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := q.jobs[job.ID]
	j.Status = StatusFailed
	j.LastError = &reason
	return nil
}

func (q *memQueue) get(id int64) Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return *q.jobs[id]
}

func (q *memQueue) countStatus(s Status) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, j := range q.jobs {
		if j.Status == s {
			n++
		}
	}
	return n
}
