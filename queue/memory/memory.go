// Package memory provides an in-process implementation of queue.Queue with
// the same visibility semantics as the redis queue. Suitable for tests and
// single-process deployments.
package memory

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/forolabs/peticionador/queue"
)

// Queue is a thread-safe in-memory queue.Queue.
type Queue struct {
	mu         sync.Mutex
	pending    *list.List             // job ids, FIFO
	delayed    map[string]time.Time   // job id -> ready time
	processing map[string]bool        // held job ids
	jobs       map[string]*queue.TribunalJob
	wake       chan struct{}
}

var _ queue.Queue = (*Queue)(nil)

// New creates an empty in-memory queue.
func New() *Queue {
	return &Queue{
		pending:    list.New(),
		delayed:    make(map[string]time.Time),
		processing: make(map[string]bool),
		jobs:       make(map[string]*queue.TribunalJob),
		wake:       make(chan struct{}, 1),
	}
}

func clone(j *queue.TribunalJob) *queue.TribunalJob {
	if j == nil {
		return nil
	}
	cp := *j
	if j.CompletedAt != nil {
		done := *j.CompletedAt
		cp.CompletedAt = &done
	}
	return &cp
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) Enqueue(_ context.Context, job *queue.TribunalJob) error {
	return q.enqueue(job, 0)
}

func (q *Queue) EnqueueDelayed(_ context.Context, job *queue.TribunalJob, delay time.Duration) error {
	return q.enqueue(job, delay)
}

func (q *Queue) enqueue(job *queue.TribunalJob, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = queue.StatusPending
	}
	q.jobs[job.ID] = clone(job)

	if delay <= 0 {
		q.pending.PushFront(job.ID)
	} else {
		q.delayed[job.ID] = now.Add(delay)
	}
	q.signal()
	return nil
}

// promoteLocked moves due delayed jobs into the pending list.
func (q *Queue) promoteLocked(now time.Time) {
	for id, readyAt := range q.delayed {
		if !readyAt.After(now) {
			q.pending.PushFront(id)
			delete(q.delayed, id)
		}
	}
}

func (q *Queue) tryDequeue() *queue.TribunalJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.promoteLocked(time.Now().UTC())
	back := q.pending.Back()
	if back == nil {
		return nil
	}
	q.pending.Remove(back)
	id := back.Value.(string)
	q.processing[id] = true
	return clone(q.jobs[id])
}

func (q *Queue) Dequeue(ctx context.Context) (*queue.TribunalJob, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if job := q.tryDequeue(); job != nil {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wake:
		case <-ticker.C: // delayed jobs coming due
		}
	}
}

func (q *Queue) Ack(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.processing, jobID)
	return nil
}

func (q *Queue) Release(_ context.Context, jobID string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.jobs[jobID]; !ok {
		return fmt.Errorf("%s: %w", jobID, queue.ErrJobNotFound)
	}
	delete(q.processing, jobID)
	if delay <= 0 {
		q.pending.PushFront(jobID)
	} else {
		q.delayed[jobID] = time.Now().UTC().Add(delay)
	}
	q.signal()
	return nil
}

func (q *Queue) Update(_ context.Context, job *queue.TribunalJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	existing, ok := q.jobs[job.ID]
	if !ok {
		return fmt.Errorf("%s: %w", job.ID, queue.ErrJobNotFound)
	}
	if existing.Status.Terminal() {
		return fmt.Errorf("job %s: %w", job.ID, queue.ErrJobTerminal)
	}
	job.UpdatedAt = time.Now().UTC()
	if job.Status.Terminal() && job.CompletedAt == nil {
		done := job.UpdatedAt
		job.CompletedAt = &done
	}
	q.jobs[job.ID] = clone(job)
	return nil
}

func (q *Queue) Get(_ context.Context, jobID string) (*queue.TribunalJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", jobID, queue.ErrJobNotFound)
	}
	return clone(job), nil
}

// Held reports whether the job is currently held by a consumer. Test helper.
func (q *Queue) Held(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing[jobID]
}
