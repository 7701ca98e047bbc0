package probe

import (
	"context"

	"github.com/hamed0406/apipulse/internal/domain"
)

// DegradedThresholdMS is the latency above which a successful response is
// reported as DEGRADED.
const DegradedThresholdMS = 1200

// Checker performs a lightweight probe: status and latency only.
type Checker interface {
	Check(ctx context.Context, method, target string) domain.ProbeResult
}

// Recorder receives the outcome of every detailed probe.
type Recorder interface {
	Record(url string, entry domain.DetailedCheck)
}

// Classify maps a probe outcome to a status. Any transport error or
// non-2xx code is DOWN.
func Classify(httpCode int, latencyMS int64, err error) domain.Status {
	if err != nil || httpCode < 200 || httpCode > 299 {
		return domain.StatusDown
	}
	if latencyMS > DegradedThresholdMS {
		return domain.StatusDegraded
	}
	return domain.StatusUp
}
