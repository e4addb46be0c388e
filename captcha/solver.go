// Package captcha resolves captcha challenges encountered during tribunal
// automation. A hybrid strategy is used: an automatic third-party provider
// is tried first under a bounded timeout, then, if enabled, the challenge
// is published to the job's owner and the call suspends until a human
// submits a solution or the manual window elapses.
package captcha

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forolabs/peticionador/events"
	"github.com/forolabs/peticionador/internal/util"
)

// ChallengeKind distinguishes image captchas from sitekey-based ones.
type ChallengeKind string

const (
	ChallengeImage   ChallengeKind = "image"
	ChallengeSiteKey ChallengeKind = "sitekey"
)

// Challenge is the captcha material extracted from the tribunal page.
type Challenge struct {
	Kind     ChallengeKind
	ImagePNG []byte // image challenges
	SiteKey  string // sitekey challenges
}

// Request carries one challenge plus the job context it belongs to.
type Request struct {
	JobID     string
	UserID    string
	Tribunal  string
	TargetURL string
	Challenge Challenge
}

// Source records which path produced a solution.
type Source string

const (
	SourceService Source = "service"
	SourceManual  Source = "manual"
)

// Solution is the solved captcha text or token.
type Solution struct {
	CaptchaID string
	Text      string
	Source    Source
	SolvedAt  time.Time
}

// SolveFunc is the captcha callback handed to tribunal clients. It hides
// the solver and its transports from the automation engine.
type SolveFunc func(ctx context.Context, challenge Challenge) (string, error)

// Config controls the hybrid strategy.
type Config struct {
	ServiceTimeout   time.Duration // bound on the automatic provider call
	FallbackToManual bool
	ManualTimeout    time.Duration // bound on the human-in-the-loop wait
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ServiceTimeout:   60 * time.Second,
		FallbackToManual: true,
		ManualTimeout:    2 * time.Minute,
	}
}

// Solver implements the hybrid captcha strategy. Safe for concurrent use;
// one Solver serves all jobs of a worker process.
type Solver struct {
	provider Provider // nil disables the automatic path
	bus      events.Bus
	cfg      Config

	mu      sync.Mutex
	waiters map[string]chan Solution
	done    chan struct{}
	closed  bool
}

// NewSolver creates a Solver. provider may be nil, in which case every
// challenge goes straight to the manual path.
func NewSolver(provider Provider, bus events.Bus, cfg Config) *Solver {
	if cfg.ServiceTimeout <= 0 {
		cfg.ServiceTimeout = DefaultConfig().ServiceTimeout
	}
	if cfg.ManualTimeout <= 0 {
		cfg.ManualTimeout = DefaultConfig().ManualTimeout
	}
	return &Solver{
		provider: provider,
		bus:      bus,
		cfg:      cfg,
		waiters:  make(map[string]chan Solution),
		done:     make(chan struct{}),
	}
}

// Solve resolves one challenge. The automatic provider short-circuits the
// manual path entirely: on provider success no event is published and no
// waiter is registered.
func (s *Solver) Solve(ctx context.Context, req Request) (*Solution, error) {
	if s.provider != nil {
		sol, err := s.solveAutomatic(ctx, req)
		if err == nil {
			return sol, nil
		}
		slog.Warn("captcha: automatic provider failed",
			"jobId", req.JobID, "tribunal", req.Tribunal, "error", err)
	}

	if !s.cfg.FallbackToManual {
		return nil, ErrManualDisabled
	}
	return s.solveManual(ctx, req)
}

func (s *Solver) solveAutomatic(ctx context.Context, req Request) (*Solution, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ServiceTimeout)
	defer cancel()

	text, err := s.provider.Solve(ctx, req.Challenge)
	if err != nil {
		return nil, err
	}
	return &Solution{
		CaptchaID: uuid.NewString(),
		Text:      text,
		Source:    SourceService,
		SolvedAt:  time.Now().UTC(),
	}, nil
}

func (s *Solver) solveManual(ctx context.Context, req Request) (*Solution, error) {
	captchaID := uuid.NewString()

	ch, err := s.register(captchaID)
	if err != nil {
		return nil, err
	}
	defer s.unregister(captchaID)

	evt := events.CaptchaRequired{
		JobID:     req.JobID,
		UserID:    req.UserID,
		CaptchaID: captchaID,
		TargetURL: req.TargetURL,
		Tribunal:  req.Tribunal,
		ExpiresAt: time.Now().UTC().Add(s.cfg.ManualTimeout),
	}
	switch req.Challenge.Kind {
	case ChallengeImage:
		evt.Image = util.B64Encode(req.Challenge.ImagePNG)
	case ChallengeSiteKey:
		evt.SiteKey = req.Challenge.SiteKey
	}
	if err := s.bus.Publish(ctx, evt); err != nil {
		return nil, fmt.Errorf("publishing captcha challenge: %w", err)
	}

	timer := time.NewTimer(s.cfg.ManualTimeout)
	defer timer.Stop()

	select {
	case sol := <-ch:
		return &sol, nil
	case <-timer.C:
		return nil, fmt.Errorf("captcha %s: %w", captchaID, ErrTimeout)
	case <-s.done:
		return nil, ErrSolverClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Solver) register(captchaID string) (chan Solution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSolverClosed
	}
	if _, exists := s.waiters[captchaID]; exists {
		return nil, fmt.Errorf("captcha %s: %w", captchaID, ErrDuplicateChallenge)
	}
	ch := make(chan Solution, 1)
	s.waiters[captchaID] = ch
	return ch, nil
}

func (s *Solver) unregister(captchaID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.waiters, captchaID)
}

// Submit delivers a human-provided solution for a pending challenge. It is
// called by the inbound transport (the control API or a queue consumer).
func (s *Solver) Submit(captchaID, text string) error {
	s.mu.Lock()
	ch, ok := s.waiters[captchaID]
	if ok {
		delete(s.waiters, captchaID)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("captcha %s: %w", captchaID, ErrNoPendingChallenge)
	}
	ch <- Solution{
		CaptchaID: captchaID,
		Text:      text,
		Source:    SourceManual,
		SolvedAt:  time.Now().UTC(),
	}
	return nil
}

// Pending returns the number of outstanding manual waiters.
func (s *Solver) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}

// Close rejects every outstanding manual waiter immediately so no caller
// hangs across shutdown. Subsequent Solve calls fail with ErrSolverClosed.
func (s *Solver) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	s.waiters = make(map[string]chan Solution)
}

// Func returns a SolveFunc bound to the given job context for handing to a
// tribunal client.
func (s *Solver) Func(jobID, userID, tribunal, targetURL string) SolveFunc {
	return func(ctx context.Context, challenge Challenge) (string, error) {
		sol, err := s.Solve(ctx, Request{
			JobID:     jobID,
			UserID:    userID,
			Tribunal:  tribunal,
			TargetURL: targetURL,
			Challenge: challenge,
		})
		if err != nil {
			return "", err
		}
		return sol.Text, nil
	}
}
