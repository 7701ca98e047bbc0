package offload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hamed0406/apipulse/internal/domain"
)

// NewCorrelationID is unique per request within a process.
func NewCorrelationID(method, url string) string {
	return fmt.Sprintf("%s:%s:%d:%s", method, url, time.Now().UnixNano(), uuid.NewString())
}

// Client keeps a table of outstanding requests keyed by correlation id.
// A single router goroutine hands each reply to its waiting caller.
type Client struct {
	t       Transport
	onStale func(Reply)

	mu      sync.Mutex
	pending map[string]chan Reply
	closed  bool
	routed  chan struct{}
}

// NewClient starts routing replies from t. onStale, if set, sees every
// reply whose id is not outstanding.
func NewClient(t Transport, onStale func(Reply)) *Client {
	c := &Client{
		t:       t,
		onStale: onStale,
		pending: make(map[string]chan Reply),
		routed:  make(chan struct{}),
	}
	go c.route()
	return c
}

func (c *Client) route() {
	defer close(c.routed)
	for rep := range c.t.Replies() {
		c.mu.Lock()
		ch, ok := c.pending[rep.ID]
		if ok {
			delete(c.pending, rep.ID)
		}
		c.mu.Unlock()

		if !ok {
			if c.onStale != nil {
				c.onStale(rep)
			}
			continue
		}
		ch <- rep // buffered, never blocks
	}

	// transport is gone; fail whoever is still waiting
	c.mu.Lock()
	c.closed = true
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.mu.Unlock()
}

// Check sends one probe request and waits for its reply.
func (c *Client) Check(ctx context.Context, method, url string) (domain.ProbeResult, error) {
	id := NewCorrelationID(method, url)
	ch := make(chan Reply, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ProbeResult{}, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.t.Send(ctx, Request{ID: id, Method: method, URL: url}); err != nil {
		c.forget(id)
		return domain.ProbeResult{}, err
	}

	select {
	case rep, ok := <-ch:
		if !ok {
			return domain.ProbeResult{}, ErrClosed
		}
		return domain.ProbeResult{Status: rep.Status, LatencyMS: rep.LatencyMS}, nil
	case <-ctx.Done():
		c.forget(id)
		return domain.ProbeResult{}, ctx.Err()
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Pending is the number of requests awaiting a reply.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close closes the transport and waits for the router to exit.
func (c *Client) Close() error {
	err := c.t.Close()
	<-c.routed
	return err
}
