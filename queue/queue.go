package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrJobNotFound is returned when no job exists for the given id.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobTerminal is returned when updating a job already in a terminal
	// status.
	ErrJobTerminal = errors.New("job is in a terminal status")
)

// Retention controls how long terminal jobs stay readable before purge.
type Retention struct {
	Completed time.Duration
	Failed    time.Duration
}

// DefaultRetention keeps completed jobs 24 hours and failed jobs 7 days.
func DefaultRetention() Retention {
	return Retention{
		Completed: 24 * time.Hour,
		Failed:    7 * 24 * time.Hour,
	}
}

// Queue is the durable job queue contract. The queue itself guarantees
// at-most-one active consumer per job: a dequeued job is invisible to other
// consumers until acked or released back.
type Queue interface {
	// Enqueue persists the job and makes it available for dequeue.
	Enqueue(ctx context.Context, job *TribunalJob) error
	// EnqueueDelayed persists the job and makes it available after delay.
	EnqueueDelayed(ctx context.Context, job *TribunalJob, delay time.Duration) error
	// Dequeue blocks until a job is available or ctx is done. The returned
	// job is exclusively held by this consumer until Ack or Release.
	Dequeue(ctx context.Context) (*TribunalJob, error)
	// Ack removes the job from the consumer's processing set. Call after
	// the job reached a terminal status.
	Ack(ctx context.Context, jobID string) error
	// Release returns a held job to the pending queue after delay, for
	// re-attempts that should run on another pass.
	Release(ctx context.Context, jobID string, delay time.Duration) error
	// Update persists job state (status, progress, error). Terminal jobs
	// are immutable; updating one returns ErrJobTerminal.
	Update(ctx context.Context, job *TribunalJob) error
	// Get loads a job by id.
	Get(ctx context.Context, jobID string) (*TribunalJob, error)
}
