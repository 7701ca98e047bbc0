package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/apipulse/internal/domain"
	"github.com/hamed0406/apipulse/internal/monitor"
	"github.com/hamed0406/apipulse/internal/scheduler"
	"github.com/hamed0406/apipulse/internal/stats"
)

type targetPayload struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

type progressView struct {
	Completed  int  `json:"completed"`
	Total      int  `json:"total"`
	Percent    int  `json:"percent"`
	InProgress bool `json:"in_progress"`
}

func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	if err := s.Monitor.Err(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats.ByEnvironment(s.Monitor.Rows(), r.URL.Query().Get("environment")))
}

func (s *Server) handleEnvironments(w http.ResponseWriter, r *http.Request) {
	if err := s.Monitor.Err(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.Monitor.Environments())
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	p := s.Monitor.Progress()
	var last *time.Time
	if t := s.Monitor.LastCheckedAt(); !t.IsZero() {
		last = &t
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summary": s.Monitor.SummaryFor(r.URL.Query().Get("environment")),
		"progress": progressView{
			Completed:  p.Completed,
			Total:      p.Total,
			Percent:    p.Percent(),
			InProgress: p.InProgress(),
		},
		"last_checked_at": last,
	})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if err := s.Monitor.Err(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	total := len(s.Monitor.Rows())
	done := make(chan scheduler.Report, 1)
	go func() {
		rep := s.Monitor.Refresh(s.probeContext())
		s.Logger.Debug("api_sweep_finished", zap.Int("completed", rep.Completed))
		done <- rep
	}()

	if r.URL.Query().Get("wait") == "true" {
		select {
		case rep := <-done:
			writeJSON(w, http.StatusOK, map[string]any{
				"report": rep,
				"rows":   s.Monitor.Rows(),
			})
		case <-r.Context().Done():
			// the sweep carries on and still updates the rows
			s.Logger.Debug("sweep_wait_abandoned", zap.Error(r.Context().Err()))
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "started", "total": total})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	k, ok := decodeTarget(w, r)
	if !ok {
		return
	}
	row, err := s.Monitor.Retry(s.probeContext(), k)
	if err != nil {
		s.targetError(w, k, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	k, ok := decodeTarget(w, r)
	if !ok {
		return
	}
	d, err := s.Monitor.Details(s.probeContext(), k)
	if err != nil {
		s.targetError(w, k, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	k := domain.Key{Method: q.Get("method"), URL: q.Get("url")}
	if k.Method == "" {
		k.Method = http.MethodGet
	}
	if !isValidTarget(k.URL) {
		writeError(w, http.StatusBadRequest, "url must be http(s) or an absolute path")
		return
	}
	view, err := s.Monitor.DetailsView(k)
	if err != nil {
		s.targetError(w, k, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"method":  k.Method,
		"url":     k.URL,
		"history": view,
	})
}

// probeContext bounds probes started by a request. It is the server's base
// context, so a client going away never cuts a probe short.
func (s *Server) probeContext() context.Context {
	if s.BaseContext == nil {
		return context.Background()
	}
	return s.BaseContext
}

func (s *Server) targetError(w http.ResponseWriter, k domain.Key, err error) {
	if errors.Is(err, monitor.ErrTargetNotFound) {
		writeError(w, http.StatusNotFound, "unknown target")
		return
	}
	s.Logger.Warn("target_action_failed",
		zap.String("method", k.Method),
		zap.String("url", k.URL),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "target action failed")
}

func decodeTarget(w http.ResponseWriter, r *http.Request) (domain.Key, bool) {
	var p targetPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return domain.Key{}, false
	}
	p.Method = strings.TrimSpace(p.Method)
	if p.Method == "" || !isValidTarget(p.URL) {
		writeError(w, http.StatusBadRequest, "method and a valid url are required")
		return domain.Key{}, false
	}
	return domain.Key{Method: p.Method, URL: p.URL}, true
}

// isValidTarget accepts absolute http(s) URLs with a host and
// proxy-relative paths such as "/qa-api/claims".
func isValidTarget(raw string) bool {
	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
