package tribunal

import (
	"context"
	"time"
)

// markerOutcome is the result of racing page markers against a timer.
type markerOutcome int

const (
	markerSuccess markerOutcome = iota
	markerFailure
	markerTimeout
)

type watchResult struct {
	outcome markerOutcome
	err     error
}

// awaitMarkers races an independent success watcher, an error watcher, and
// a timer. The first to fire wins and the others are cancelled. This is the
// wait primitive behind A3 signature approval and synchronous login
// confirmation; a timeout is an expected outcome, not an error.
func awaitMarkers(ctx context.Context, pg page, successSel, failureSel string, timeout, interval time.Duration) (markerOutcome, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan watchResult, 2)
	watch := func(selector string, outcome markerOutcome) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			found, err := pg.Exists(watchCtx, selector)
			if err != nil {
				select {
				case results <- watchResult{err: err}:
				case <-watchCtx.Done():
				}
				return
			}
			if found {
				select {
				case results <- watchResult{outcome: outcome}:
				case <-watchCtx.Done():
				}
				return
			}
			select {
			case <-ticker.C:
			case <-watchCtx.Done():
				return
			}
		}
	}
	go watch(successSel, markerSuccess)
	go watch(failureSel, markerFailure)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-results:
		if r.err != nil {
			// A watcher may fail with a context error because the other
			// watcher already resolved; prefer the resolution.
			select {
			case r2 := <-results:
				if r2.err == nil {
					return r2.outcome, nil
				}
			default:
			}
			return 0, r.err
		}
		return r.outcome, nil
	case <-timer.C:
		return markerTimeout, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
