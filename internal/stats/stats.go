package stats

import (
	"math"
	"sort"

	"github.com/hamed0406/apipulse/internal/domain"
)

// Summary is what the dashboard header shows for the current rows.
type Summary struct {
	Total       int   `json:"total"`
	Up          int   `json:"up"`
	Degraded    int   `json:"degraded"`
	Down        int   `json:"down"`
	Unknown     int   `json:"unknown"`
	SuccessRate int   `json:"success_rate"` // percent of rows that are UP
	Samples     int   `json:"samples"`
	AvgMS       int64 `json:"avg_ms"`
	P95MS       int64 `json:"p95_ms"`
	MinMS       int64 `json:"min_ms"`
	MaxMS       int64 `json:"max_ms"`
}

// Summarize counts rows by status and describes the latency samples of
// the last sweep.
func Summarize(rows []domain.Row, latencies []int64) Summary {
	s := Summary{Total: len(rows)}
	for _, r := range rows {
		switch r.Status {
		case domain.StatusUp:
			s.Up++
		case domain.StatusDegraded:
			s.Degraded++
		case domain.StatusDown:
			s.Down++
		default:
			s.Unknown++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = int(math.Round(float64(s.Up) / float64(s.Total) * 100))
	}

	if len(latencies) == 0 {
		return s
	}
	values := make([]int64, len(latencies))
	copy(values, latencies)
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	var sum int64
	for _, v := range values {
		sum += v
	}
	s.Samples = len(values)
	s.AvgMS = int64(math.Round(float64(sum) / float64(len(values))))
	s.P95MS = percentile(values, 0.95)
	s.MinMS = values[0]
	s.MaxMS = values[len(values)-1]
	return s
}

// percentile picks the nearest-rank sample below p on sorted input.
func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	n := len(sorted)
	idx := int(math.Floor(p * float64(n-1)))
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// Progress of a sweep.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Percent is rounded; zero when there is nothing to check.
func (p Progress) Percent() int {
	if p.Total == 0 {
		return 0
	}
	return int(math.Round(float64(p.Completed) / float64(p.Total) * 100))
}

func (p Progress) InProgress() bool {
	return p.Total > 0 && p.Completed < p.Total
}

// ByEnvironment keeps the rows labelled env, in order. An empty env keeps
// every row.
func ByEnvironment(rows []domain.Row, env string) []domain.Row {
	if env == "" {
		return rows
	}
	out := make([]domain.Row, 0, len(rows))
	for _, r := range rows {
		if r.Environment == env {
			out = append(out, r)
		}
	}
	return out
}

// Environments lists the distinct row labels in first-seen order.
func Environments(rows []domain.Row) []string {
	seen := make(map[string]struct{}, len(rows))
	out := make([]string, 0)
	for _, r := range rows {
		if _, ok := seen[r.Environment]; ok {
			continue
		}
		seen[r.Environment] = struct{}{}
		out = append(out, r.Environment)
	}
	return out
}

// RowLatencies collects the last known latency of each checked row.
func RowLatencies(rows []domain.Row) []int64 {
	out := make([]int64, 0, len(rows))
	for _, r := range rows {
		if r.LatencyMS != nil {
			out = append(out, *r.LatencyMS)
		}
	}
	return out
}
