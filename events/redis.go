package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "peticionador:events:"

// envelope carries an event across the wire with its kind discriminator.
type envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// RedisBus bridges the event bus over redis pub/sub so that events published
// by a worker process reach subscribers in other processes (the control API,
// operator frontends).
type RedisBus struct {
	rdb *redis.Client

	mu      sync.Mutex
	closers []func()
}

var _ Bus = (*RedisBus)(nil)

// NewRedisBus creates a Bus over the given redis client.
func NewRedisBus(rdb *redis.Client) *RedisBus {
	return &RedisBus{rdb: rdb}
}

func (b *RedisBus) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	env, err := json.Marshal(envelope{Kind: evt.EventKind(), Payload: payload})
	if err != nil {
		return fmt.Errorf("marshaling event envelope: %w", err)
	}
	channel := channelPrefix + string(evt.EventKind())
	if err := b.rdb.Publish(ctx, channel, env).Err(); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(kinds ...Kind) (<-chan Event, func()) {
	if len(kinds) == 0 {
		kinds = []Kind{
			KindCaptchaRequired,
			KindInteractionRequired,
			KindJobProgress,
			KindSessionStatusChanged,
			KindPetitionFileAttached,
		}
	}
	channels := make([]string, len(kinds))
	for i, k := range kinds {
		channels[i] = channelPrefix + string(k)
	}

	pubsub := b.rdb.Subscribe(context.Background(), channels...)
	out := make(chan Event, subscriberBuffer)

	// Closing the PubSub is what unblocks the delivery goroutine: its
	// message channel closes and the deferred close(out) runs, upholding
	// the Bus contract even when no message ever arrives.
	var once sync.Once
	cancel := func() {
		once.Do(func() { pubsub.Close() })
	}
	b.mu.Lock()
	b.closers = append(b.closers, cancel)
	b.mu.Unlock()

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			evt, err := decodeEnvelope([]byte(msg.Payload))
			if err != nil {
				slog.Warn("event bus: dropping undecodable event", "error", err)
				continue
			}
			select {
			case out <- evt:
			default:
				slog.Warn("event bus: subscriber full, dropping event", "kind", evt.EventKind())
			}
		}
	}()

	return out, cancel
}

// Close cancels all subscriptions created through this bus.
func (b *RedisBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, cancel := range b.closers {
		cancel()
	}
	b.closers = nil
}

func decodeEnvelope(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshaling envelope: %w", err)
	}

	// Subscribers always receive value types, matching MemoryBus delivery.
	switch env.Kind {
	case KindCaptchaRequired:
		return decodeAs[CaptchaRequired](env)
	case KindInteractionRequired:
		return decodeAs[InteractionRequired](env)
	case KindJobProgress:
		return decodeAs[JobProgress](env)
	case KindSessionStatusChanged:
		return decodeAs[SessionStatusChanged](env)
	case KindPetitionFileAttached:
		return decodeAs[PetitionFileAttached](env)
	default:
		return nil, fmt.Errorf("unknown event kind %q", env.Kind)
	}
}

func decodeAs[T Event](env envelope) (Event, error) {
	var e T
	if err := json.Unmarshal(env.Payload, &e); err != nil {
		return nil, fmt.Errorf("unmarshaling %s payload: %w", env.Kind, err)
	}
	return e, nil
}
