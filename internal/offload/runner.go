package offload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/apipulse/internal/domain"
	"github.com/hamed0406/apipulse/internal/metrics"
	"github.com/hamed0406/apipulse/internal/probe"
)

// StartFunc creates the background transport.
type StartFunc func() (Transport, error)

// Runner is a probe.Checker that prefers the background worker and falls
// back to inline probing for the rest of its life if the worker cannot be
// started. Both paths use the same checker, so classification is identical.
type Runner struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	inline  probe.Checker
	start   StartFunc

	once     sync.Once
	startErr error

	mu     sync.RWMutex
	client *Client
	closed bool
}

// NewRunner offloads to a Worker wrapping checker when enabled.
func NewRunner(logger *zap.Logger, m *metrics.Metrics, checker probe.Checker, enabled bool, buffer int) *Runner {
	start := func() (Transport, error) { return nil, ErrUnavailable }
	if enabled {
		start = func() (Transport, error) { return StartWorker(checker, buffer) }
	}
	return NewRunnerWith(logger, m, checker, start)
}

func NewRunnerWith(logger *zap.Logger, m *metrics.Metrics, checker probe.Checker, start StartFunc) *Runner {
	return &Runner{logger: logger, metrics: m, inline: checker, start: start}
}

// Start tries to bring up the worker. Only the first call does anything;
// later calls return the same result.
func (r *Runner) Start() error {
	r.once.Do(func() {
		t, err := r.safeStart()
		if err != nil {
			if !errors.Is(err, ErrUnavailable) {
				err = fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			r.startErr = err
			r.logger.Debug("offload_unavailable", zap.Error(err))
			return
		}
		c := NewClient(t, func(rep Reply) {
			r.metrics.StaleReply()
			r.logger.Debug("offload_stale_reply", zap.String("id", rep.ID))
		})
		r.mu.Lock()
		r.client = c
		r.mu.Unlock()
		r.logger.Debug("offload_started")
	})
	return r.startErr
}

func (r *Runner) safeStart() (t Transport, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			t, err = nil, fmt.Errorf("start panicked: %v", rec)
		}
	}()
	t, err = r.start()
	if err == nil && t == nil {
		err = ErrUnavailable
	}
	return t, err
}

// Offloaded reports whether probes currently go to the worker.
func (r *Runner) Offloaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.client != nil && !r.closed
}

func (r *Runner) Check(ctx context.Context, method, target string) domain.ProbeResult {
	_ = r.Start()

	r.mu.RLock()
	c := r.client
	usable := c != nil && !r.closed
	r.mu.RUnlock()

	if usable {
		start := time.Now()
		res, err := c.Check(ctx, method, target)
		switch {
		case err == nil:
			r.metrics.ObserveProbe(metrics.PathOffload, res)
			return res
		case ctx.Err() != nil:
			// caller gave up; report like an aborted inline probe
			res = domain.ProbeResult{Status: domain.StatusDown, LatencyMS: probe.RoundMS(time.Since(start))}
			r.metrics.ObserveProbe(metrics.PathOffload, res)
			return res
		default:
			r.logger.Debug("offload_failed", zap.String("url", target), zap.Error(err))
		}
	}

	r.metrics.OffloadFallback()
	res := r.inline.Check(ctx, method, target)
	r.metrics.ObserveProbe(metrics.PathInline, res)
	return res
}

// Close stops the worker and the reply router. Probes after Close run inline.
func (r *Runner) Close() error {
	// a runner closed before its first probe never starts a worker
	r.once.Do(func() { r.startErr = ErrClosed })

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	c := r.client
	r.mu.Unlock()

	if c == nil {
		return nil
	}
	return c.Close()
}
