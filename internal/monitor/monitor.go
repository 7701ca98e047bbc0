// Package monitor owns one checking session: the loaded endpoint rows, the
// probe stack, the background worker and the detailed-check history.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/apipulse/internal/assets"
	"github.com/hamed0406/apipulse/internal/domain"
	"github.com/hamed0406/apipulse/internal/metrics"
	"github.com/hamed0406/apipulse/internal/offload"
	"github.com/hamed0406/apipulse/internal/probe"
	"github.com/hamed0406/apipulse/internal/repo"
	"github.com/hamed0406/apipulse/internal/repo/memory"
	"github.com/hamed0406/apipulse/internal/resolve"
	"github.com/hamed0406/apipulse/internal/scheduler"
	"github.com/hamed0406/apipulse/internal/stats"
)

var (
	ErrTargetNotFound = errors.New("target not found")
	ErrNotLoaded      = errors.New("endpoint configuration not loaded")
)

type Options struct {
	Source         string
	ProbeTimeout   time.Duration
	BaseURL        string
	Concurrency    int
	Interval       time.Duration
	RetryAttempts  int
	RetryBackoff   time.Duration
	OffloadEnabled bool
	OffloadBuffer  int
}

// DocumentLoader fetches the endpoint document.
type DocumentLoader interface {
	Load(ctx context.Context) (domain.Document, error)
}

type Service struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	loader   DocumentLoader
	rows     repo.RowStore
	history  repo.HistoryStore
	executor *probe.HTTPChecker
	runner   *offload.Runner
	sweeper  *scheduler.Sweeper

	mu          sync.RWMutex
	loaded      bool
	loadErr     error
	diagnostics []*resolve.ResolutionError

	closers []func() error
}

// New wires the session. Nothing is fetched or probed until Load.
func New(logger *zap.Logger, m *metrics.Metrics, opts Options) *Service {
	return NewWithLoader(logger, m, assets.NewLoader(opts.Source), opts)
}

func NewWithLoader(logger *zap.Logger, m *metrics.Metrics, loader DocumentLoader, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	rows := memory.NewRowStore()
	history := memory.NewHistoryStore()

	executor := probe.NewHTTPChecker(opts.ProbeTimeout, history)
	executor.BaseURL = opts.BaseURL

	var light probe.Checker = executor
	if opts.RetryAttempts > 1 {
		light = &probe.RetryChecker{Inner: executor, Attempts: opts.RetryAttempts, Backoff: opts.RetryBackoff}
	}
	runner := offload.NewRunner(logger, m, light, opts.OffloadEnabled, opts.OffloadBuffer)
	if err := runner.Start(); err != nil {
		logger.Debug("offload_inline", zap.Error(err))
	}

	return &Service{
		logger:   logger,
		metrics:  m,
		loader:   loader,
		rows:     rows,
		history:  history,
		executor: executor,
		runner:   runner,
		sweeper:  scheduler.NewSweeper(logger, rows, runner, m, opts.Interval, opts.Concurrency),
		closers: []func() error{
			runner.Close,
			func() error { executor.Client.CloseIdleConnections(); return nil },
		},
	}
}

// Load fetches and resolves the endpoint document and replaces the rows.
// On failure the previous rows are kept and Err reports the failure.
func (s *Service) Load(ctx context.Context) error {
	doc, err := s.loader.Load(ctx)
	if err != nil {
		s.mu.Lock()
		s.loadErr = err
		s.mu.Unlock()
		s.logger.Error("config_load_failed", zap.Error(err))
		return err
	}

	rows, diags := resolve.Resolve(doc)
	for _, d := range diags {
		s.logger.Warn("resolve_skipped",
			zap.String("endpoint", d.Endpoint),
			zap.String("environment", d.Environment),
			zap.String("reason", d.Reason),
		)
	}
	s.metrics.ResolveSkipped(len(diags))
	s.rows.Replace(rows)

	s.mu.Lock()
	s.loaded = true
	s.loadErr = nil
	s.diagnostics = diags
	s.mu.Unlock()

	s.logger.Info("config_loaded",
		zap.Int("endpoints", len(doc.Endpoints)),
		zap.Int("targets", len(rows)),
		zap.Int("skipped", len(diags)),
	)
	return nil
}

// Err is the last configuration load failure, or ErrNotLoaded before the
// first Load.
func (s *Service) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.loadErr != nil {
		return s.loadErr
	}
	if !s.loaded {
		return ErrNotLoaded
	}
	return nil
}

func (s *Service) Diagnostics() []*resolve.ResolutionError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*resolve.ResolutionError, len(s.diagnostics))
	copy(out, s.diagnostics)
	return out
}

func (s *Service) Rows() []domain.Row { return s.rows.Snapshot() }

// Refresh sweeps every row and waits for it to finish.
func (s *Service) Refresh(ctx context.Context) scheduler.Report {
	return s.sweeper.Sweep(ctx)
}

func (s *Service) Retry(ctx context.Context, k domain.Key) (domain.Row, error) {
	if _, ok := s.rows.Get(k); !ok {
		return domain.Row{}, ErrTargetNotFound
	}
	return s.sweeper.Retry(ctx, k)
}

// Details runs a detailed probe, records it in history and updates the row.
func (s *Service) Details(ctx context.Context, k domain.Key) (domain.DetailedCheck, error) {
	if _, ok := s.rows.Get(k); !ok {
		return domain.DetailedCheck{}, ErrTargetNotFound
	}
	d := s.executor.Detailed(ctx, k.Method, k.URL)
	s.metrics.ObserveProbe(metrics.PathDetailed, d.Result())
	s.rows.Apply(k, func(r domain.Row) domain.Row { return r.WithResult(d.Result()) })
	s.logger.Info("detailed_check",
		zap.String("method", k.Method),
		zap.String("url", k.URL),
		zap.String("status", string(d.Status)),
		zap.Int("http_code", d.HTTPCode),
		zap.Int64("latency_ms", d.LatencyMS),
		zap.String("reason", d.Reason),
	)
	return d, nil
}

func (s *Service) History(url string) []domain.DetailedCheck { return s.history.Get(url) }

// DetailsView is the history shown for a row: the row's current result,
// when it has one, ahead of the stored entries. The seed is not stored.
func (s *Service) DetailsView(k domain.Key) ([]domain.DetailedCheck, error) {
	row, ok := s.rows.Get(k)
	if !ok {
		return nil, ErrTargetNotFound
	}
	existing := s.history.Get(k.URL)
	if row.LatencyMS == nil {
		return existing, nil
	}
	seed := domain.DetailedCheck{
		URL:       row.URL,
		Method:    row.Method,
		Status:    row.Status,
		LatencyMS: *row.LatencyMS,
		HTTPCode:  -1,
		Headers:   map[string]string{},
		At:        time.Now().UTC(),
	}
	out := append([]domain.DetailedCheck{seed}, existing...)
	if len(out) > memory.HistoryLimit {
		out = out[:memory.HistoryLimit]
	}
	return out, nil
}

func (s *Service) Summary() stats.Summary {
	return stats.Summarize(s.rows.Snapshot(), s.sweeper.Latencies())
}

// SummaryFor summarizes the rows labelled environment. The sweep's samples
// are not tagged, so latency figures come from each row's last result.
// An empty environment is the same as Summary.
func (s *Service) SummaryFor(environment string) stats.Summary {
	if environment == "" {
		return s.Summary()
	}
	rows := stats.ByEnvironment(s.rows.Snapshot(), environment)
	return stats.Summarize(rows, stats.RowLatencies(rows))
}

// Environments lists the environment labels of the rows in resolution order.
func (s *Service) Environments() []string { return stats.Environments(s.rows.Snapshot()) }

func (s *Service) Progress() stats.Progress { return s.sweeper.Progress() }

func (s *Service) LastCheckedAt() time.Time { return s.sweeper.LastCheckedAt() }

// Offloaded reports whether probes run on the background worker.
func (s *Service) Offloaded() bool { return s.runner.Offloaded() }

// Run sweeps immediately and then periodically until ctx is done.
func (s *Service) Run(ctx context.Context) { s.sweeper.Run(ctx) }

// Close tears down the background worker and idle probe connections.
// Every closer runs even if an earlier one fails.
func (s *Service) Close() error {
	var err error
	for _, c := range s.closers {
		err = multierr.Append(err, c())
	}
	return err
}
