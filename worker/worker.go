// Package worker consumes tribunal jobs from the queue and executes them
// against the court systems: credential decryption, browser automation,
// bounded retries, progress reporting, and completion webhooks.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/forolabs/peticionador/captcha"
	"github.com/forolabs/peticionador/credential"
	"github.com/forolabs/peticionador/events"
	"github.com/forolabs/peticionador/queue"
	"github.com/forolabs/peticionador/tribunal"
)

// errInteractionPending marks an attempt that cannot proceed unattended:
// the credential needs a token PIN or a mobile approval from the user.
var errInteractionPending = errors.New("user interaction required")

// dequeueRetryDelay paces the consume loop after a queue error. A var so
// tests can shorten it.
var dequeueRetryDelay = time.Second

// clientFactory builds a tribunal client; tests swap it for a fake.
type clientFactory func(cfg tribunal.Config) (tribunal.Client, error)

// Config tunes the worker pool.
type Config struct {
	// Concurrency is the number of jobs processed in parallel. Default 3.
	Concurrency int
	// MaxAttempts bounds retries per job. Default 3.
	MaxAttempts int
	// RetryBase is the first retry delay; it doubles per attempt. Default 5s.
	RetryBase time.Duration
	// InteractionDelay is the re-enqueue delay for jobs waiting on the
	// user. Default 30s.
	InteractionDelay time.Duration
	// Headless controls the launched browsers.
	Headless bool
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 5 * time.Second
	}
	if c.InteractionDelay <= 0 {
		c.InteractionDelay = 30 * time.Second
	}
}

// Worker drains the job queue with a bounded pool of executors.
type Worker struct {
	cfg       Config
	queue     queue.Queue
	creds     *credential.Service
	solver    *captcha.Solver
	bus       events.Bus
	webhooks  *webhookNotifier
	newClient clientFactory

	wg sync.WaitGroup
}

// New builds a worker. The solver and bus may be shared with the control
// API so manual captcha solutions and events reach the same consumers.
func New(q queue.Queue, creds *credential.Service, solver *captcha.Solver, bus events.Bus, cfg Config) *Worker {
	cfg.applyDefaults()
	return &Worker{
		cfg:       cfg,
		queue:     q,
		creds:     creds,
		solver:    solver,
		bus:       bus,
		webhooks:  newWebhookNotifier(),
		newClient: tribunal.New,
	}
}

// Run consumes jobs until ctx is cancelled, then waits for in-flight jobs
// and drains pending webhooks.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("worker: starting", "concurrency", w.cfg.Concurrency, "maxAttempts", w.cfg.MaxAttempts)
	sem := make(chan struct{}, w.cfg.Concurrency)

	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			slog.Error("worker: dequeue failed", "error", err)
			// Pace the retry so a dead queue does not hot-spin the loop.
			select {
			case <-time.After(dequeueRetryDelay):
			case <-ctx.Done():
			}
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			// hand the job back untouched for the next worker
			if relErr := w.queue.Release(context.Background(), job.ID, 0); relErr != nil {
				slog.Error("worker: releasing job on shutdown failed", "jobId", job.ID, "error", relErr)
			}
			goto drain
		}

		w.wg.Add(1)
		go func(job *queue.TribunalJob) {
			defer w.wg.Done()
			defer func() { <-sem }()
			w.handle(ctx, job)
		}(job)
	}

drain:
	w.wg.Wait()
	w.webhooks.close()
	slog.Info("worker: stopped")
	return nil
}

// handle runs one held job to a terminal status or back into the queue.
func (w *Worker) handle(ctx context.Context, job *queue.TribunalJob) {
	job.Status = queue.StatusActive
	w.progress(ctx, job, 10, "job iniciado")

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.cfg.RetryBase
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0

	var result *queue.OperationResult
	run := func() error {
		job.Attempt++
		r, err := w.attempt(ctx, job)
		if err != nil {
			if errors.Is(err, errInteractionPending) {
				return backoff.Permanent(err)
			}
			slog.Warn("worker: attempt failed", "jobId", job.ID, "attempt", job.Attempt, "error", err)
			return err
		}
		result = r
		return nil
	}
	retries := uint64(w.cfg.MaxAttempts - 1)
	err := backoff.Retry(run, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), retries))

	switch {
	case err == nil:
		w.complete(ctx, job, result)
	case errors.Is(err, errInteractionPending):
		w.parkForInteraction(ctx, job)
	default:
		w.fail(ctx, job, err)
	}
}

// attempt runs one full execution pass. Permanent errors (bad credential,
// rejected login, unknown operation) are wrapped with backoff.Permanent;
// everything else is retried.
func (w *Worker) attempt(ctx context.Context, job *queue.TribunalJob) (*queue.OperationResult, error) {
	system, err := tribunal.ParseSystem(job.Tribunal)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	cred, err := w.creds.Decrypt(ctx, job.CredentialID)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decrypting credential: %w", err))
	}
	if cred == nil {
		return nil, backoff.Permanent(fmt.Errorf("credential %s not found", job.CredentialID))
	}
	defer cred.Destroy()
	w.progress(ctx, job, 20, "credencial carregada")

	if credential.NeedsUserInteraction(cred.AuthType) {
		w.publish(ctx, events.InteractionRequired{
			JobID:     job.ID,
			UserID:    job.UserID,
			Operation: job.Operation,
			Tribunal:  job.Tribunal,
			Message:   "autenticação requer ação do usuário (PIN ou aprovação no aplicativo)",
		})
		return nil, errInteractionPending
	}

	auth, cleanup, err := tribunal.AuthFromCredential(cred)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	defer cleanup()
	w.progress(ctx, job, 30, "autenticação preparada")

	client, err := w.newClient(tribunal.Config{
		System:       system,
		BaseURL:      job.TribunalURL,
		Headless:     w.cfg.Headless,
		SolveCaptcha: w.solver.Func(job.ID, job.UserID, job.Tribunal, job.TribunalURL),
		Bus:          w.bus,
		JobID:        job.ID,
	})
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	defer client.Close()

	if err := client.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing browser: %w", err)
	}
	w.progress(ctx, job, 40, "navegador iniciado")

	login, err := client.Login(ctx, auth)
	if err != nil {
		return nil, fmt.Errorf("logging in: %w", err)
	}
	if !login.Success {
		// wrong credentials will not fix themselves between attempts
		return nil, backoff.Permanent(fmt.Errorf("login rejected: %s", login.Error))
	}
	w.progress(ctx, job, 60, "autenticado no tribunal")

	res, err := client.ExecuteOperation(ctx, job.Operation, job.Params)
	if err != nil {
		if errors.Is(err, tribunal.ErrUnsupportedOperation) {
			return nil, backoff.Permanent(err)
		}
		return nil, fmt.Errorf("executing %s: %w", job.Operation, err)
	}
	w.progress(ctx, job, 90, "operação executada")

	data, err := json.Marshal(res.Data)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("encoding result: %w", err))
	}
	return &queue.OperationResult{
		Success:    res.Success,
		Operation:  job.Operation,
		Data:       data,
		Error:      res.Error,
		ExecutedAt: time.Now().UTC(),
	}, nil
}

// complete marks the job terminal with its result and fires the webhook.
func (w *Worker) complete(ctx context.Context, job *queue.TribunalJob, result *queue.OperationResult) {
	job.Status = queue.StatusCompleted
	job.Progress = 100
	job.Result = result
	if err := w.queue.Update(ctx, job); err != nil {
		slog.Error("worker: persisting completed job failed", "jobId", job.ID, "error", err)
	}
	if err := w.queue.Ack(ctx, job.ID); err != nil {
		slog.Error("worker: ack failed", "jobId", job.ID, "error", err)
	}
	w.publish(ctx, events.JobProgress{
		JobID: job.ID, UserID: job.UserID, Operation: job.Operation, Percent: 100,
	})
	w.webhooks.notify(job.WebhookURL, webhookPayload{
		JobID:       job.ID,
		UserID:      job.UserID,
		Operation:   job.Operation,
		Success:     result.Success,
		Data:        result.Data,
		Error:       result.Error,
		CompletedAt: result.ExecutedAt,
	})
	slog.Info("worker: job completed", "jobId", job.ID, "operation", job.Operation, "success", result.Success)
}

// fail marks the job terminal after its retry budget is spent.
func (w *Worker) fail(ctx context.Context, job *queue.TribunalJob, cause error) {
	job.Status = queue.StatusFailed
	job.Error = cause.Error()
	if err := w.queue.Update(ctx, job); err != nil {
		slog.Error("worker: persisting failed job failed", "jobId", job.ID, "error", err)
	}
	if err := w.queue.Ack(ctx, job.ID); err != nil {
		slog.Error("worker: ack failed", "jobId", job.ID, "error", err)
	}
	w.webhooks.notify(job.WebhookURL, webhookPayload{
		JobID:       job.ID,
		UserID:      job.UserID,
		Operation:   job.Operation,
		Success:     false,
		Error:       job.Error,
		CompletedAt: time.Now().UTC(),
	})
	slog.Warn("worker: job failed", "jobId", job.ID, "operation", job.Operation, "attempts", job.Attempt, "error", job.Error)
}

// parkForInteraction returns an interaction-gated job to the queue with a
// delay, or fails it once the attempt budget is spent.
func (w *Worker) parkForInteraction(ctx context.Context, job *queue.TribunalJob) {
	if job.Attempt >= w.cfg.MaxAttempts {
		w.fail(ctx, job, errors.New("required user interaction never happened"))
		return
	}
	job.Status = queue.StatusPending
	if err := w.queue.Update(ctx, job); err != nil {
		slog.Error("worker: persisting parked job failed", "jobId", job.ID, "error", err)
	}
	if err := w.queue.Release(ctx, job.ID, w.cfg.InteractionDelay); err != nil {
		slog.Error("worker: releasing parked job failed", "jobId", job.ID, "error", err)
	}
	slog.Info("worker: job parked awaiting user interaction", "jobId", job.ID, "attempt", job.Attempt)
}

// progress persists a milestone and publishes it. Best effort: a failed
// persist never aborts the attempt.
func (w *Worker) progress(ctx context.Context, job *queue.TribunalJob, percent int, message string) {
	job.Progress = percent
	if err := w.queue.Update(ctx, job); err != nil {
		slog.Warn("worker: persisting progress failed", "jobId", job.ID, "error", err)
	}
	w.publish(ctx, events.JobProgress{
		JobID:     job.ID,
		UserID:    job.UserID,
		Operation: job.Operation,
		Percent:   percent,
		Message:   message,
	})
}

func (w *Worker) publish(ctx context.Context, evt events.Event) {
	if w.bus == nil {
		return
	}
	if err := w.bus.Publish(ctx, evt); err != nil {
		slog.Warn("worker: publishing event failed", "kind", evt.EventKind(), "error", err)
	}
}
