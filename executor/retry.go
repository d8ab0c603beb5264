package executor

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/varunnarsana/stratus/plan"
	"github.com/varunnarsana/stratus/providers"
	"github.com/varunnarsana/stratus/types"
)

// attempt runs one action to a terminal outcome: success, a permanent
// failure, attempt exhaustion, or cancellation during a retry wait.
// Each attempt gets its own timeout context detached from the run
// cancellation, so a cancelled run never force-kills a provider call
// mid-flight; it only refuses to start the next attempt.
func (e *Executor) attempt(ctx context.Context, p *plan.Plan, action types.ChangeAction) (*types.ObservedState, int, error) {
	var lastErr error

	for attempt := 0; attempt < e.options.MaxAttempts; attempt++ {
		if attempt > 0 {
			e.metrics.RecordRetry(ctx, string(action.Verb))
			delay := backoffDelay(attempt-1, e.options.BaseDelay, e.options.MaxDelay)
			select {
			case <-ctx.Done():
				return nil, attempt, fmt.Errorf("run cancelled before retry: %w", lastErr)
			case <-time.After(delay):
			}
		}

		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.options.ActionTimeout)
		observed, err := e.dispatch(attemptCtx, p, action)
		cancel()

		if err == nil {
			return observed, attempt + 1, nil
		}
		lastErr = err
		if !providers.IsRetryable(err) {
			return nil, attempt + 1, err
		}
	}

	return nil, e.options.MaxAttempts, fmt.Errorf("%d attempts exhausted: %w", e.options.MaxAttempts, lastErr)
}

// backoffDelay returns exponential backoff with full jitter for a
// zero-based attempt index.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	backoff := float64(base) * math.Pow(2, float64(attempt))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	return time.Duration(rand.Float64() * backoff) // #nosec G404 -- jitter, not crypto
}
