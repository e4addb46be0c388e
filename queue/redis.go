package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPending   = "peticionador:jobs:pending"
	keyDelayed   = "peticionador:jobs:delayed"
	keyProcessed = "peticionador:jobs:processing:" // + consumer id
	keyJob       = "peticionador:job:"             // + job id
)

// promoteDelayedScript atomically moves every due job from the delayed zset
// to the pending list.
// KEYS[1] = delayed zset, KEYS[2] = pending list
// ARGV[1] = now (unix seconds)
var promoteDelayedScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
for _, id in ipairs(due) do
    redis.call("LPUSH", KEYS[2], id)
    redis.call("ZREM", KEYS[1], id)
end
return #due
`)

// RedisQueue implements Queue on redis lists. A dequeued job id is moved
// atomically from the pending list to this consumer's processing list
// (BLMOVE), which is what makes the job invisible to other consumers; Ack
// removes it. Job state lives in a per-job key shared by every process.
type RedisQueue struct {
	rdb       *redis.Client
	consumer  string
	retention Retention
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue creates a queue handle with a unique consumer identity.
func NewRedisQueue(rdb *redis.Client, retention Retention) *RedisQueue {
	return &RedisQueue{
		rdb:       rdb,
		consumer:  uuid.NewString(),
		retention: retention,
	}
}

func (q *RedisQueue) processingKey() string {
	return keyProcessed + q.consumer
}

func (q *RedisQueue) saveJob(ctx context.Context, job *TribunalJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}
	var ttl time.Duration
	switch job.Status {
	case StatusCompleted:
		ttl = q.retention.Completed
	case StatusFailed:
		ttl = q.retention.Failed
	}
	if err := q.rdb.Set(ctx, keyJob+job.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("storing job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *TribunalJob) error {
	return q.enqueue(ctx, job, 0)
}

func (q *RedisQueue) EnqueueDelayed(ctx context.Context, job *TribunalJob, delay time.Duration) error {
	return q.enqueue(ctx, job, delay)
}

func (q *RedisQueue) enqueue(ctx context.Context, job *TribunalJob, delay time.Duration) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = StatusPending
	}
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}

	if delay <= 0 {
		if err := q.rdb.LPush(ctx, keyPending, job.ID).Err(); err != nil {
			return fmt.Errorf("enqueueing job: %w", err)
		}
		return nil
	}
	readyAt := float64(now.Add(delay).Unix())
	if err := q.rdb.ZAdd(ctx, keyDelayed, redis.Z{Score: readyAt, Member: job.ID}).Err(); err != nil {
		return fmt.Errorf("enqueueing delayed job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*TribunalJob, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		now := strconv.FormatInt(time.Now().UTC().Unix(), 10)
		if err := promoteDelayedScript.Run(ctx, q.rdb, []string{keyDelayed, keyPending}, now).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("promoting delayed jobs: %w", err)
		}

		id, err := q.rdb.BLMove(ctx, keyPending, q.processingKey(), "RIGHT", "LEFT", time.Second).Result()
		if errors.Is(err, redis.Nil) {
			continue // poll again, also re-promotes delayed jobs
		}
		if err != nil {
			return nil, fmt.Errorf("dequeuing job: %w", err)
		}

		job, err := q.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			// State expired or was purged; drop the orphan id.
			q.rdb.LRem(ctx, q.processingKey(), 1, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		return job, nil
	}
}

func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	if err := q.rdb.LRem(ctx, q.processingKey(), 1, jobID).Err(); err != nil {
		return fmt.Errorf("acking job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Release(ctx context.Context, jobID string, delay time.Duration) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if err := q.rdb.LRem(ctx, q.processingKey(), 1, jobID).Err(); err != nil {
		return fmt.Errorf("releasing job: %w", err)
	}
	return q.enqueue(ctx, job, delay)
}

func (q *RedisQueue) Update(ctx context.Context, job *TribunalJob) error {
	existing, err := q.Get(ctx, job.ID)
	if err != nil {
		return err
	}
	if existing.Status.Terminal() {
		return fmt.Errorf("job %s: %w", job.ID, ErrJobTerminal)
	}
	job.UpdatedAt = time.Now().UTC()
	if job.Status.Terminal() && job.CompletedAt == nil {
		done := job.UpdatedAt
		job.CompletedAt = &done
	}
	return q.saveJob(ctx, job)
}

func (q *RedisQueue) Get(ctx context.Context, jobID string) (*TribunalJob, error) {
	data, err := q.rdb.Get(ctx, keyJob+jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", jobID, ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading job: %w", err)
	}
	var job TribunalJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshaling job: %w", err)
	}
	return &job, nil
}
