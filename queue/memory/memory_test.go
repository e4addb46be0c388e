package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forolabs/peticionador/queue"
)

func newJob(id string) *queue.TribunalJob {
	return &queue.TribunalJob{
		ID:           id,
		UserID:       "user-1",
		CredentialID: "cred-1",
		Tribunal:     "eproc",
		Operation:    "consultar_processo",
	}
}

func TestEnqueueDequeueAck(t *testing.T) {
	q := New()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, newJob("job-1")))
	require.NoError(t, q.Enqueue(ctx, newJob("job-2")))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.ID, "FIFO order")
	assert.True(t, q.Held("job-1"))

	require.NoError(t, q.Ack(ctx, "job-1"))
	assert.False(t, q.Held("job-1"))
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New()
	ctx := context.Background()

	done := make(chan *queue.TribunalJob, 1)
	go func() {
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		done <- job
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, newJob("job-late")))

	select {
	case job := <-done:
		assert.Equal(t, "job-late", job.ID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake on enqueue")
	}
}

func TestDequeueRespectsContext(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDelayedJobInvisibleUntilDue(t *testing.T) {
	q := New()
	ctx := context.Background()

	require.NoError(t, q.EnqueueDelayed(ctx, newJob("job-delayed"), 60*time.Millisecond))

	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(shortCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "job must stay invisible before its delay")

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-delayed", got.ID)
}

func TestReleaseReturnsJob(t *testing.T) {
	q := New()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, newJob("job-1")))
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Release(ctx, job.ID, 0))
	assert.False(t, q.Held(job.ID))

	again, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", again.ID)
}

func TestTerminalJobImmutable(t *testing.T) {
	q := New()
	ctx := context.Background()

	job := newJob("job-1")
	require.NoError(t, q.Enqueue(ctx, job))

	job.Status = queue.StatusCompleted
	require.NoError(t, q.Update(ctx, job))
	require.NotNil(t, job.CompletedAt)

	job.Status = queue.StatusFailed
	assert.ErrorIs(t, q.Update(ctx, job), queue.ErrJobTerminal)

	stored, err := q.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, stored.Status)
}

func TestGetUnknownJob(t *testing.T) {
	q := New()
	_, err := q.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}
