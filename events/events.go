// Package events defines the typed domain events emitted by the automation
// core and the bus interface consumers subscribe through. Consumers are
// statically known: they subscribe to event kinds, not to ad hoc emitter
// strings.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Kind discriminates domain event types.
type Kind string

const (
	KindCaptchaRequired      Kind = "captcha_required"
	KindInteractionRequired  Kind = "interaction_required"
	KindJobProgress          Kind = "job_progress"
	KindSessionStatusChanged Kind = "session_status_changed"
	KindPetitionFileAttached Kind = "petition_file_attached"
)

// Event is implemented by every domain event.
type Event interface {
	EventKind() Kind
}

// CaptchaRequired asks the job owner to solve a captcha out-of-band.
// Exactly one of Image (base64 PNG) or SiteKey is set.
type CaptchaRequired struct {
	JobID     string    `json:"jobId"`
	UserID    string    `json:"userId"`
	CaptchaID string    `json:"captchaId"`
	Image     string    `json:"image,omitempty"`
	SiteKey   string    `json:"siteKey,omitempty"`
	TargetURL string    `json:"targetUrl"`
	Tribunal  string    `json:"tribunal"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (CaptchaRequired) EventKind() Kind { return KindCaptchaRequired }

// InteractionRequired reports that a job cannot proceed unattended because
// its credential needs token PIN entry or a mobile-app approval.
type InteractionRequired struct {
	JobID     string `json:"jobId"`
	UserID    string `json:"userId"`
	Operation string `json:"operation"`
	Tribunal  string `json:"tribunal"`
	Message   string `json:"message"`
}

func (InteractionRequired) EventKind() Kind { return KindInteractionRequired }

// JobProgress reports a progress milestone for a running job.
type JobProgress struct {
	JobID     string `json:"jobId"`
	UserID    string `json:"userId"`
	Operation string `json:"operation"`
	Percent   int    `json:"percent"`
	Message   string `json:"message,omitempty"`
}

func (JobProgress) EventKind() Kind { return KindJobProgress }

// SessionStatusChanged reports a session lifecycle transition.
type SessionStatusChanged struct {
	SessionID string `json:"sessionId"`
	Tribunal  string `json:"tribunal"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func (SessionStatusChanged) EventKind() Kind { return KindSessionStatusChanged }

// PetitionFileAttached reports one attachment step during petition filing.
type PetitionFileAttached struct {
	JobID    string `json:"jobId"`
	Processo string `json:"processo"`
	FileName string `json:"fileName"`
	DocType  string `json:"docType"`
	Index    int    `json:"index"`
	Total    int    `json:"total"`
}

func (PetitionFileAttached) EventKind() Kind { return KindPetitionFileAttached }

// Bus publishes domain events and hands out subscriptions. Publish must not
// block on slow consumers.
type Bus interface {
	Publish(ctx context.Context, evt Event) error
	// Subscribe returns a channel receiving events of the given kinds (all
	// kinds when empty) and a cancel function that closes the channel.
	Subscribe(kinds ...Kind) (<-chan Event, func())
}

const subscriberBuffer = 64

// MemoryBus is an in-process Bus. Events are fanned out to subscriber
// channels non-blockingly; events for a full subscriber are dropped with a
// warning, mirroring the delivery guarantee of the redis bridge.
type MemoryBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
}

type subscriber struct {
	kinds map[Kind]bool // nil means all kinds
	ch    chan Event
}

var _ Bus = (*MemoryBus)(nil)

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]*subscriber)}
}

func (b *MemoryBus) Publish(_ context.Context, evt Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if sub.kinds != nil && !sub.kinds[evt.EventKind()] {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			slog.Warn("event bus: subscriber full, dropping event", "kind", evt.EventKind())
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(kinds ...Kind) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}
