// Package offload moves lightweight probes onto a background worker and
// matches replies to callers by correlation id. When the worker cannot be
// started, probing runs inline with the same checker.
package offload

import (
	"context"
	"errors"
	"sync"

	"github.com/hamed0406/apipulse/internal/domain"
	"github.com/hamed0406/apipulse/internal/probe"
)

var (
	ErrUnavailable = errors.New("offload: background worker unavailable")
	ErrClosed      = errors.New("offload: closed")
)

const DefaultBuffer = 64

// Request is sent to the worker.
type Request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	URL    string `json:"url"`
}

// Reply echoes the request id with the probe outcome.
type Reply struct {
	ID        string        `json:"id"`
	Status    domain.Status `json:"status"`
	LatencyMS int64         `json:"latency_ms"`
}

// Transport carries requests to a background executor and replies back.
// Replies may arrive in any order and may carry ids nobody asked for.
type Transport interface {
	Send(ctx context.Context, req Request) error
	Replies() <-chan Reply
	Close() error
}

// Worker runs probes on background goroutines, one per request.
type Worker struct {
	checker probe.Checker
	in      chan Request
	out     chan Reply

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{} // closed once out is closed
	once   sync.Once
}

func StartWorker(checker probe.Checker, buffer int) (*Worker, error) {
	if checker == nil {
		return nil, ErrUnavailable
	}
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		checker: checker,
		in:      make(chan Request, buffer),
		out:     make(chan Reply, buffer),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Worker) loop() {
	defer func() {
		w.wg.Wait()
		close(w.out)
		close(w.done)
	}()
	for {
		select {
		case <-w.ctx.Done():
			return
		case req := <-w.in:
			w.wg.Add(1)
			go w.handle(req)
		}
	}
}

func (w *Worker) handle(req Request) {
	defer w.wg.Done()
	res := w.checker.Check(w.ctx, req.Method, req.URL)
	select {
	case w.out <- Reply{ID: req.ID, Status: res.Status, LatencyMS: res.LatencyMS}:
	case <-w.ctx.Done():
	}
}

func (w *Worker) Send(ctx context.Context, req Request) error {
	select {
	case <-w.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case w.in <- req:
		return nil
	case <-w.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) Replies() <-chan Reply { return w.out }

// Close stops accepting work, cancels in-flight probes and waits for the
// reply channel to close.
func (w *Worker) Close() error {
	w.once.Do(w.cancel)
	<-w.done
	return nil
}
