package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/apipulse/internal/domain"
	"github.com/hamed0406/apipulse/internal/metrics"
	"github.com/hamed0406/apipulse/internal/probe"
	"github.com/hamed0406/apipulse/internal/repo"
	"github.com/hamed0406/apipulse/internal/stats"
)

const DefaultConcurrency = 6

// Report describes a finished sweep.
type Report struct {
	Total      int           `json:"total"`
	Completed  int           `json:"completed"`
	Duration   time.Duration `json:"duration_ns"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Sweeper probes every row with a fixed pool of workers and applies each
// result to the row store as it arrives.
type Sweeper struct {
	Logger      *zap.Logger
	Rows        repo.RowStore
	Checker     probe.Checker
	Metrics     *metrics.Metrics
	Interval    time.Duration
	Concurrency int

	// OnProgress, when set, is called after every completed probe of the
	// current sweep, in order, with a strictly increasing Completed. It must
	// not call back into the Sweeper.
	OnProgress func(stats.Progress)

	mu          sync.Mutex
	gen         uint64 // sweep generation owning progress and latencies
	progress    stats.Progress
	latencies   []int64
	lastChecked time.Time
}

func NewSweeper(
	logger *zap.Logger,
	rows repo.RowStore,
	checker probe.Checker,
	m *metrics.Metrics,
	interval time.Duration,
	concurrency int,
) *Sweeper {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	if interval < 0 {
		interval = 0
	}
	return &Sweeper{
		Logger:      logger,
		Rows:        rows,
		Checker:     checker,
		Metrics:     m,
		Interval:    interval,
		Concurrency: concurrency,
	}
}

// Run does an immediate sweep, then one per Interval. With no interval
// it returns after the first sweep. Stops when ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.Sweep(ctx)
	if s.Interval == 0 {
		s.Logger.Info("sweeper_periodic_disabled")
		return
	}
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("sweeper_stopped")
			return
		case <-t.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep probes every current row once. A newer sweep takes over progress
// reporting; results of an older one still land in the row store.
func (s *Sweeper) Sweep(ctx context.Context) Report {
	rows := s.Rows.Snapshot()
	start := time.Now()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.progress = stats.Progress{Total: len(rows)}
	s.latencies = make([]int64, 0, len(rows))
	s.mu.Unlock()

	keys := make([]domain.Key, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, r.Key())
	}
	completed := s.dispatch(ctx, keys, s.Concurrency, gen)

	finished := time.Now().UTC()
	s.mu.Lock()
	s.lastChecked = finished
	s.mu.Unlock()

	rep := Report{
		Total:      len(rows),
		Completed:  completed,
		Duration:   time.Since(start),
		FinishedAt: finished,
	}
	s.Metrics.ObserveSweep(rep.Duration, rep.Total)
	s.Logger.Info("sweep_done",
		zap.Int("targets", rep.Total),
		zap.Int("concurrency", s.Concurrency),
		zap.Duration("took", rep.Duration),
	)
	return rep
}

// Retry probes a single row. It leaves sweep progress alone.
func (s *Sweeper) Retry(ctx context.Context, k domain.Key) (domain.Row, error) {
	if _, ok := s.Rows.Get(k); !ok {
		return domain.Row{}, fmt.Errorf("retry %s: unknown target", k)
	}
	s.dispatch(ctx, []domain.Key{k}, 1, 0)
	row, _ := s.Rows.Get(k)
	return row, nil
}

// Progress of the latest sweep.
func (s *Sweeper) Progress() stats.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Latencies observed so far by the latest sweep, in completion order.
func (s *Sweeper) Latencies() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.latencies))
	copy(out, s.latencies)
	return out
}

// LastCheckedAt is zero until a sweep has finished.
func (s *Sweeper) LastCheckedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastChecked
}

// dispatch drains keys with n workers and returns how many completed.
// gen 0 marks work that does not count toward sweep progress.
func (s *Sweeper) dispatch(ctx context.Context, keys []domain.Key, n int, gen uint64) int {
	queue := make(chan domain.Key, len(keys))
	for _, k := range keys {
		queue <- k
	}
	close(queue)

	if n > len(keys) {
		n = len(keys)
	}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := range queue {
				res := s.probe(ctx, k)
				s.Rows.Apply(k, func(r domain.Row) domain.Row { return r.WithResult(res) })
				s.completed(gen, res)

				mu.Lock()
				done++
				mu.Unlock()

				s.Logger.Debug("sweep_checked",
					zap.String("method", k.Method),
					zap.String("url", k.URL),
					zap.String("status", string(res.Status)),
					zap.Int64("latency_ms", res.LatencyMS),
				)
			}
		}()
	}
	wg.Wait()
	return done
}

// probe runs one check; a panic is counted as DOWN so siblings keep going.
func (s *Sweeper) probe(ctx context.Context, k domain.Key) (res domain.ProbeResult) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			s.Logger.Error("sweep_probe_panic",
				zap.String("method", k.Method),
				zap.String("url", k.URL),
				zap.Any("panic", rec),
			)
			res = domain.ProbeResult{Status: domain.StatusDown, LatencyMS: probe.RoundMS(time.Since(start))}
		}
	}()
	return s.Checker.Check(ctx, k.Method, k.URL)
}

func (s *Sweeper) completed(gen uint64, res domain.ProbeResult) {
	if gen == 0 {
		return
	}
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.progress.Completed++
	s.latencies = append(s.latencies, res.LatencyMS)
	p := s.progress
	cb := s.OnProgress
	// callback under the lock keeps observers in order
	if cb != nil {
		cb(p)
	}
	s.mu.Unlock()
}
