package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/apipulse/internal/domain"
	"github.com/hamed0406/apipulse/internal/metrics"
	"github.com/hamed0406/apipulse/internal/monitor"
	"github.com/hamed0406/apipulse/internal/scheduler"
	"github.com/hamed0406/apipulse/internal/stats"
)

// ---- test helpers ----

const claimsURL = "https://api-qa.example.com/claims"

type fakeMonitor struct {
	mu      sync.Mutex
	err     error
	rows    []domain.Row
	sweeps  int
	swept   chan struct{}
	lastKey domain.Key
}

func newFakeMonitor() *fakeMonitor {
	ms := int64(80)
	return &fakeMonitor{
		rows: []domain.Row{
			{Name: "Claims", Method: "GET", URL: claimsURL, Environment: "qa", Status: domain.StatusUp, LatencyMS: &ms},
		},
		swept: make(chan struct{}, 4),
	}
}

func (f *fakeMonitor) known(k domain.Key) bool {
	return k.Method == "GET" && k.URL == claimsURL
}

func (f *fakeMonitor) retried() domain.Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastKey
}

func (f *fakeMonitor) Err() error         { return f.err }
func (f *fakeMonitor) Rows() []domain.Row { return f.rows }

func (f *fakeMonitor) Refresh(ctx context.Context) scheduler.Report {
	f.mu.Lock()
	f.sweeps++
	f.mu.Unlock()
	f.swept <- struct{}{}
	return scheduler.Report{Total: len(f.rows), Completed: len(f.rows)}
}

func (f *fakeMonitor) Retry(ctx context.Context, k domain.Key) (domain.Row, error) {
	f.mu.Lock()
	f.lastKey = k
	f.mu.Unlock()
	if !f.known(k) {
		return domain.Row{}, monitor.ErrTargetNotFound
	}
	return f.rows[0], nil
}

func (f *fakeMonitor) Details(ctx context.Context, k domain.Key) (domain.DetailedCheck, error) {
	if !f.known(k) {
		return domain.DetailedCheck{}, monitor.ErrTargetNotFound
	}
	return domain.DetailedCheck{URL: k.URL, Method: k.Method, Status: domain.StatusUp, HTTPCode: 200,
		Headers: map[string]string{"server": "unit"}}, nil
}

func (f *fakeMonitor) DetailsView(k domain.Key) ([]domain.DetailedCheck, error) {
	if !f.known(k) {
		return nil, monitor.ErrTargetNotFound
	}
	return []domain.DetailedCheck{{URL: k.URL, Method: k.Method, HTTPCode: -1}}, nil
}

func (f *fakeMonitor) SummaryFor(env string) stats.Summary {
	rows := stats.ByEnvironment(f.rows, env)
	return stats.Summarize(rows, stats.RowLatencies(rows))
}

func (f *fakeMonitor) Environments() []string { return stats.Environments(f.rows) }

func (f *fakeMonitor) Progress() stats.Progress { return stats.Progress{Completed: 1, Total: 2} }

func (f *fakeMonitor) LastCheckedAt() time.Time { return time.Time{} }

func setupServer(t *testing.T, m Monitor, rpm, burst int) *httptest.Server {
	t.Helper()
	srv := NewServer(zap.NewNop(), m, metrics.New())
	ts := httptest.NewServer(srv.Router(nil, rpm, burst))
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

// ---- tests ----

func TestRowsAndSummary(t *testing.T) {
	ts := setupServer(t, newFakeMonitor(), 10_000, 10_000)

	resp, err := http.Get(ts.URL + "/api/rows")
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	defer resp.Body.Close()
	var rows []domain.Row
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatalf("decode rows: %v", err)
	}
	if resp.StatusCode != 200 || len(rows) != 1 || rows[0].Status != domain.StatusUp || *rows[0].LatencyMS != 80 {
		t.Fatalf("unexpected rows %d %+v", resp.StatusCode, rows)
	}

	resp2, err := http.Get(ts.URL + "/api/summary")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	defer resp2.Body.Close()
	var sum struct {
		Summary  stats.Summary `json:"summary"`
		Progress progressView  `json:"progress"`
		Last     *time.Time    `json:"last_checked_at"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.Summary.Up != 1 || sum.Progress.Percent != 50 || !sum.Progress.InProgress || sum.Last != nil {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestEnvironmentFilter(t *testing.T) {
	m := newFakeMonitor()
	ms := int64(2000)
	m.rows = append(m.rows,
		domain.Row{Name: "Claims", Method: "GET", URL: "https://api.example.com/claims", Environment: "prod", Status: domain.StatusDown, LatencyMS: &ms},
		domain.Row{Name: "Ping", Method: "GET", URL: "https://api-qa.example.com/ping", Environment: "qa", Status: domain.StatusDegraded, LatencyMS: &ms},
	)
	ts := setupServer(t, m, 10_000, 10_000)

	resp, err := http.Get(ts.URL + "/api/environments")
	if err != nil {
		t.Fatalf("environments: %v", err)
	}
	defer resp.Body.Close()
	var envs []string
	if err := json.NewDecoder(resp.Body).Decode(&envs); err != nil {
		t.Fatalf("decode environments: %v", err)
	}
	if len(envs) != 2 || envs[0] != "qa" || envs[1] != "prod" {
		t.Fatalf("unexpected environments %v", envs)
	}

	resp2, err := http.Get(ts.URL + "/api/rows?environment=qa")
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	defer resp2.Body.Close()
	var rows []domain.Row
	if err := json.NewDecoder(resp2.Body).Decode(&rows); err != nil {
		t.Fatalf("decode rows: %v", err)
	}
	if len(rows) != 2 || rows[0].Environment != "qa" || rows[1].Environment != "qa" {
		t.Fatalf("unexpected filtered rows %+v", rows)
	}

	resp3, err := http.Get(ts.URL + "/api/summary?environment=prod")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	defer resp3.Body.Close()
	var sum struct {
		Summary stats.Summary `json:"summary"`
	}
	if err := json.NewDecoder(resp3.Body).Decode(&sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.Summary.Total != 1 || sum.Summary.Down != 1 || sum.Summary.Up != 0 {
		t.Fatalf("unexpected prod summary %+v", sum.Summary)
	}
}

func TestRows_ConfigLoadFailure(t *testing.T) {
	m := newFakeMonitor()
	m.err = errors.New("load endpoints: status 404")
	ts := setupServer(t, m, 10_000, 10_000)

	resp, err := http.Get(ts.URL + "/api/rows")
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusServiceUnavailable || !strings.Contains(string(b), "status 404") {
		t.Fatalf("want 503 with message, got %d %s", resp.StatusCode, b)
	}
}

func TestSweep_AsyncAndWait(t *testing.T) {
	m := newFakeMonitor()
	ts := setupServer(t, m, 10_000, 10_000)

	resp := postJSON(t, ts.URL+"/api/sweep", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("want 202, got %d", resp.StatusCode)
	}
	select {
	case <-m.swept:
	case <-time.After(time.Second):
		t.Fatalf("async sweep never ran")
	}

	resp = postJSON(t, ts.URL+"/api/sweep?wait=true", "")
	defer resp.Body.Close()
	var out struct {
		Report scheduler.Report `json:"report"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != 200 || out.Report.Completed != 1 {
		t.Fatalf("unexpected wait response %d %+v", resp.StatusCode, out)
	}
}

func TestRetryAndCheck(t *testing.T) {
	m := newFakeMonitor()
	ts := setupServer(t, m, 10_000, 10_000)

	resp := postJSON(t, ts.URL+"/api/targets/retry", `{"method":"GET","url":"`+claimsURL+`"}`)
	resp.Body.Close()
	if resp.StatusCode != 200 || m.retried().URL != claimsURL {
		t.Fatalf("retry: want 200, got %d (%+v)", resp.StatusCode, m.retried())
	}

	resp = postJSON(t, ts.URL+"/api/targets/retry", `{"method":"GET","url":"https://unknown.example.com"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("want 404 for unknown target, got %d", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/targets/retry", `{"url":"ftp://bad"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("want 400 for bad payload, got %d", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/targets/check", `{"method":"GET","url":"`+claimsURL+`"}`)
	defer resp.Body.Close()
	var d domain.DetailedCheck
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != 200 || d.HTTPCode != 200 || d.Headers["server"] != "unit" {
		t.Fatalf("unexpected detailed check %d %+v", resp.StatusCode, d)
	}
}

func TestHistory(t *testing.T) {
	ts := setupServer(t, newFakeMonitor(), 10_000, 10_000)

	resp, err := http.Get(ts.URL + "/api/history?url=" + claimsURL)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		Method  string                 `json:"method"`
		History []domain.DetailedCheck `json:"history"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != 200 || out.Method != "GET" || len(out.History) != 1 {
		t.Fatalf("unexpected history %d %+v", resp.StatusCode, out)
	}

	resp2, err := http.Get(ts.URL + "/api/history?url=https://unknown.example.com&method=POST")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("want 404, got %d", resp2.StatusCode)
	}
}

func TestPostRoutesAreRateLimited(t *testing.T) {
	ts := setupServer(t, newFakeMonitor(), 60, 1)

	body := `{"method":"GET","url":"` + claimsURL + `"}`
	first := postJSON(t, ts.URL+"/api/targets/retry", body)
	first.Body.Close()
	second := postJSON(t, ts.URL+"/api/targets/retry", body)
	second.Body.Close()
	if first.StatusCode != 200 || second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("want 200 then 429, got %d then %d", first.StatusCode, second.StatusCode)
	}

	// GET routes are not limited
	for i := 0; i < 3; i++ {
		resp, err := http.Get(ts.URL + "/api/rows")
		if err != nil {
			t.Fatalf("rows: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != 200 {
			t.Fatalf("GET should not be limited, got %d", resp.StatusCode)
		}
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	ts := setupServer(t, newFakeMonitor(), 10_000, 10_000)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil || resp.StatusCode != 200 {
		t.Fatalf("healthz: %v %v", resp, err)
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), `apipulse_http_requests_total{method="GET",route="/healthz",status_code="200"} 1`) {
		t.Fatalf("request metric missing:\n%s", b)
	}
}

func TestCORS_AllowList(t *testing.T) {
	srv := NewServer(zap.NewNop(), newFakeMonitor(), nil)
	h := srv.Router([]string{"https://dash.example.com"}, 0, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/rows", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://dash.example.com" {
		t.Fatalf("allowed origin not echoed: %v", rr.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/rows", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected CORS header for foreign origin")
	}
}
