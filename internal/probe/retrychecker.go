package probe

import (
	"context"
	"time"

	"github.com/hamed0406/apipulse/internal/domain"
)

// RetryChecker repeats a DOWN probe up to Attempts times and reports the
// last outcome.
type RetryChecker struct {
	Inner    Checker
	Attempts int
	Backoff  time.Duration
}

func (r *RetryChecker) Check(ctx context.Context, method, target string) domain.ProbeResult {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var last domain.ProbeResult
	for i := 0; i < attempts; i++ {
		last = r.Inner.Check(ctx, method, target)
		if last.Status != domain.StatusDown {
			return last
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return last
			case <-time.After(r.Backoff):
			}
		}
	}
	return last
}
