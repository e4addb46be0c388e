package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	keySessionIndex = "peticionador:sessions"
	keySession      = "peticionador:session:" // + session id
)

// RedisRepository shares session records across manager processes. Records
// of persistent sessions outlive the process that created them, which is
// what makes reattachment meaningful.
type RedisRepository struct {
	rdb *redis.Client
}

var _ Repository = (*RedisRepository)(nil)

func NewRedisRepository(rdb *redis.Client) *RedisRepository {
	return &RedisRepository{rdb: rdb}
}

func (r *RedisRepository) Put(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding session record: %w", err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, keySession+rec.ID, raw, 0)
	pipe.SAdd(ctx, keySessionIndex, rec.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storing session record: %w", err)
	}
	return nil
}

func (r *RedisRepository) Get(ctx context.Context, id string) (*Record, error) {
	raw, err := r.rdb.Get(ctx, keySession+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading session record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding session record: %w", err)
	}
	return &rec, nil
}

func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, keySession+id)
	pipe.SRem(ctx, keySessionIndex, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting session record: %w", err)
	}
	return nil
}

func (r *RedisRepository) List(ctx context.Context) ([]Record, error) {
	ids, err := r.rdb.SMembers(ctx, keySessionIndex).Result()
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	recs := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := r.Get(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			// index entry left behind by a crashed process
			r.rdb.SRem(ctx, keySessionIndex, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, nil
}
