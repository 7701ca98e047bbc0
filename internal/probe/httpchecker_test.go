package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hamed0406/apipulse/internal/domain"
)

type memRecorder struct {
	mu      sync.Mutex
	entries []domain.DetailedCheck
}

func (m *memRecorder) Record(_ string, e domain.DetailedCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

// steppingClock advances by step on every reading.
func steppingClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 8, 18, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := t
		t = t.Add(step)
		return now
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		code int
		ms   int64
		err  error
		want domain.Status
	}{
		{200, 500, nil, domain.StatusUp},
		{200, 1200, nil, domain.StatusUp},
		{204, 1201, nil, domain.StatusDegraded},
		{200, 1500, nil, domain.StatusDegraded},
		{503, 10, nil, domain.StatusDown},
		{503, 5000, nil, domain.StatusDown},
		{301, 10, nil, domain.StatusDown},
		{-1, 20, errors.New("dial tcp: refused"), domain.StatusDown},
		{200, 20, context.DeadlineExceeded, domain.StatusDown},
	}
	for _, c := range cases {
		if got := Classify(c.code, c.ms, c.err); got != c.want {
			t.Fatalf("Classify(%d, %d, %v)=%s want %s", c.code, c.ms, c.err, got, c.want)
		}
	}
}

func TestHTTPChecker_StatusOK(t *testing.T) {
	var gotMethod, gotCache string
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotCache = r.Header.Get("Cache-Control")
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}))
	defer s.Close()

	chk := NewHTTPChecker(2*time.Second, nil)
	out := chk.Check(context.Background(), http.MethodPost, s.URL)
	if out.Status != domain.StatusUp {
		t.Fatalf("want UP, got %+v", out)
	}
	if out.LatencyMS < 0 {
		t.Fatalf("latency should be >= 0, got %d", out.LatencyMS)
	}
	if gotMethod != http.MethodPost || gotCache != "no-store" {
		t.Fatalf("request not as expected: method=%s cache=%q", gotMethod, gotCache)
	}
}

func TestHTTPChecker_Status503(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer s.Close()

	out := NewHTTPChecker(2*time.Second, nil).Check(context.Background(), http.MethodGet, s.URL)
	if out.Status != domain.StatusDown {
		t.Fatalf("want DOWN, got %+v", out)
	}
}

func TestHTTPChecker_SlowSuccessIsDegraded(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer s.Close()

	chk := NewHTTPChecker(2*time.Second, nil)
	chk.now = steppingClock(1500 * time.Millisecond)

	out := chk.Check(context.Background(), http.MethodGet, s.URL)
	if out.Status != domain.StatusDegraded || out.LatencyMS != 1500 {
		t.Fatalf("want DEGRADED at 1500ms, got %+v", out)
	}
}

func TestHTTPChecker_TimeoutIsDownWithElapsed(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(200)
	}))
	defer s.Close()

	chk := NewHTTPChecker(50*time.Millisecond, nil)
	out := chk.Check(context.Background(), http.MethodGet, s.URL)
	if out.Status != domain.StatusDown {
		t.Fatalf("want DOWN due to timeout, got %+v", out)
	}
	if out.LatencyMS < 40 || out.LatencyMS > 290 {
		t.Fatalf("latency should approximate the timeout, got %d", out.LatencyMS)
	}
}

func TestHTTPChecker_DetailedCapturesHeadersAndRecords(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Server", "unit")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Secret", "hidden")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer s.Close()

	rec := &memRecorder{}
	chk := NewHTTPChecker(2*time.Second, rec)
	got := chk.Detailed(context.Background(), http.MethodGet, s.URL)

	if got.HTTPCode != http.StatusAccepted || got.Status != domain.StatusUp {
		t.Fatalf("unexpected outcome: %+v", got)
	}
	if got.Headers["content-type"] != "application/json" || got.Headers["server"] != "unit" ||
		got.Headers["cache-control"] != "no-cache" {
		t.Fatalf("allow-listed headers missing: %+v", got.Headers)
	}
	if _, ok := got.Headers["date"]; !ok {
		t.Fatalf("expected date header, got %+v", got.Headers)
	}
	if _, ok := got.Headers["x-secret"]; ok {
		t.Fatalf("unexpected header captured: %+v", got.Headers)
	}
	if got.At.IsZero() || got.URL != s.URL || got.Method != http.MethodGet {
		t.Fatalf("identity/timestamp not set: %+v", got)
	}
	if len(rec.entries) != 1 || rec.entries[0].HTTPCode != http.StatusAccepted {
		t.Fatalf("expected one recorded entry, got %+v", rec.entries)
	}
}

func TestHTTPChecker_DetailedWithoutResponse(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := s.URL
	s.Close()

	rec := &memRecorder{}
	chk := NewHTTPChecker(time.Second, rec)
	got := chk.Detailed(context.Background(), http.MethodGet, target)

	if got.Status != domain.StatusDown || got.HTTPCode != -1 {
		t.Fatalf("want DOWN with code -1, got %+v", got)
	}
	if got.Headers == nil || len(got.Headers) != 0 {
		t.Fatalf("want empty header map, got %+v", got.Headers)
	}
	if got.Reason != "network_error" {
		t.Fatalf("want network_error reason, got %q", got.Reason)
	}
	if len(rec.entries) != 1 {
		t.Fatalf("failed probes are recorded too, got %d", len(rec.entries))
	}
}

func TestHTTPChecker_ReasonIncludesDNSClass(t *testing.T) {
	chk := NewHTTPChecker(time.Second, nil)
	chk.DNS = func(_ context.Context, host string) DNSStatus {
		return DNSStatus{Domain: host, Class: DNSNXDomain}
	}
	got := chk.reason(context.Background(), "https://nope.invalid/x", errors.New("dial failed"))
	if got != "network_error dns=NXDOMAIN" {
		t.Fatalf("unexpected reason %q", got)
	}
	if r := chk.reason(context.Background(), "https://x", context.DeadlineExceeded); r != "timeout" {
		t.Fatalf("want timeout, got %q", r)
	}
}

func TestHTTPChecker_RelativeTargetUsesBaseURL(t *testing.T) {
	var gotPath string
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	}))
	defer s.Close()

	chk := NewHTTPChecker(time.Second, nil)
	chk.BaseURL = s.URL + "/"
	out := chk.Check(context.Background(), http.MethodGet, "/qa-api/claims/api/ping")
	if out.Status != domain.StatusUp || gotPath != "/qa-api/claims/api/ping" {
		t.Fatalf("want UP via base url, got %+v path=%q", out, gotPath)
	}
}

func TestRoundMS(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want int64
	}{
		{0, 0},
		{499 * time.Microsecond, 0},
		{999 * time.Microsecond, 1},
		{1499 * time.Microsecond, 1},
		{1500 * time.Microsecond, 2},
		{1200*time.Millisecond + 600*time.Microsecond, 1201},
	}
	for _, c := range cases {
		if got := RoundMS(c.in); got != c.want {
			t.Fatalf("RoundMS(%v)=%d want %d", c.in, got, c.want)
		}
	}
}
