package probe

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hamed0406/apipulse/internal/domain"
)

const DefaultTimeout = 15 * time.Second

// headers kept on detailed probes, matched case-insensitively
var detailHeaders = map[string]struct{}{
	"content-type":  {},
	"date":          {},
	"server":        {},
	"cache-control": {},
}

type HTTPChecker struct {
	Client  *http.Client
	Timeout time.Duration

	// BaseURL resolves proxy-style relative targets such as "/qa-api/x".
	BaseURL string

	// History receives detailed results; nil disables recording.
	History Recorder

	// DNS explains failed detailed probes; defaults to CheckDNS.
	DNS func(ctx context.Context, host string) DNSStatus

	now func() time.Time
}

func NewHTTPChecker(timeout time.Duration, history Recorder) *HTTPChecker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPChecker{
		// per-probe deadlines come from the request context
		Client:  &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		Timeout: timeout,
		History: history,
		DNS:     CheckDNS,
		now:     time.Now,
	}
}

type outcome struct {
	code      int
	latencyMS int64
	header    http.Header
	err       error
}

func (o outcome) status() domain.Status { return Classify(o.code, o.latencyMS, o.err) }

// Check is the lightweight probe used by sweeps. It never touches history.
func (h *HTTPChecker) Check(ctx context.Context, method, target string) domain.ProbeResult {
	out := h.do(ctx, method, target)
	return domain.ProbeResult{Status: out.status(), LatencyMS: out.latencyMS}
}

// Detailed also captures the status code and selected headers, and appends
// the result to history.
func (h *HTTPChecker) Detailed(ctx context.Context, method, target string) domain.DetailedCheck {
	out := h.do(ctx, method, target)

	entry := domain.DetailedCheck{
		URL:       target,
		Method:    method,
		Status:    out.status(),
		LatencyMS: out.latencyMS,
		HTTPCode:  out.code,
		Headers:   pickHeaders(out.header),
		At:        h.clock().UTC(),
	}
	if out.err != nil {
		entry.Reason = h.reason(ctx, target, out.err)
	}
	if h.History != nil {
		h.History.Record(target, entry)
	}
	return entry
}

func (h *HTTPChecker) do(ctx context.Context, method, target string) outcome {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := h.clock()
	req, err := http.NewRequestWithContext(ctx, method, h.absolute(target), nil)
	if err != nil {
		return outcome{code: -1, latencyMS: h.since(start), err: err}
	}
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Pragma", "no-cache")

	resp, err := h.Client.Do(req)
	latency := h.since(start)
	if err != nil {
		return outcome{code: -1, latencyMS: latency, err: err}
	}
	defer resp.Body.Close()
	// drain a little so keep-alive connections can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return outcome{code: resp.StatusCode, latencyMS: latency, header: resp.Header}
}

func (h *HTTPChecker) absolute(target string) string {
	if h.BaseURL == "" || strings.Contains(target, "://") {
		return target
	}
	return strings.TrimRight(h.BaseURL, "/") + "/" + strings.TrimLeft(target, "/")
}

func (h *HTTPChecker) reason(ctx context.Context, target string, err error) string {
	class := "network_error"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	if h.DNS == nil {
		return class
	}
	u, perr := url.Parse(h.absolute(target))
	if perr != nil || u.Hostname() == "" {
		return class
	}
	dns := h.DNS(ctx, u.Hostname())
	if dns.Class == DNSResolves {
		return class
	}
	return class + " dns=" + dns.Class
}

func (h *HTTPChecker) clock() time.Time {
	if h.now == nil {
		return time.Now()
	}
	return h.now()
}

func (h *HTTPChecker) since(start time.Time) int64 {
	return RoundMS(h.clock().Sub(start))
}

// RoundMS is d in whole milliseconds, rounded to the nearest.
func RoundMS(d time.Duration) int64 {
	return int64(math.Round(float64(d) / float64(time.Millisecond)))
}

func pickHeaders(hdr http.Header) map[string]string {
	out := make(map[string]string)
	for k, v := range hdr {
		lk := strings.ToLower(k)
		if _, ok := detailHeaders[lk]; ok && len(v) > 0 {
			out[lk] = strings.Join(v, ", ")
		}
	}
	return out
}
