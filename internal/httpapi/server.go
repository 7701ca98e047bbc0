package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/apipulse/internal/domain"
	apimw "github.com/hamed0406/apipulse/internal/httpapi/middleware"
	"github.com/hamed0406/apipulse/internal/metrics"
	"github.com/hamed0406/apipulse/internal/scheduler"
	"github.com/hamed0406/apipulse/internal/stats"
)

// Monitor is the part of the checking session the API drives.
type Monitor interface {
	Err() error
	Rows() []domain.Row
	Refresh(ctx context.Context) scheduler.Report
	Retry(ctx context.Context, k domain.Key) (domain.Row, error)
	Details(ctx context.Context, k domain.Key) (domain.DetailedCheck, error)
	DetailsView(k domain.Key) ([]domain.DetailedCheck, error)
	SummaryFor(environment string) stats.Summary
	Environments() []string
	Progress() stats.Progress
	LastCheckedAt() time.Time
}

type Server struct {
	Logger  *zap.Logger
	Monitor Monitor
	Metrics *metrics.Metrics

	// BaseContext bounds every probe an API call starts. Request contexts
	// only bound the wait for the response.
	BaseContext context.Context
}

func NewServer(l *zap.Logger, m Monitor, mt *metrics.Metrics) *Server {
	return &Server{Logger: l, Monitor: m, Metrics: mt, BaseContext: context.Background()}
}

// Router builds the API. An empty origin list allows any origin; a
// non-positive ratePerMin disables rate limiting of POST routes.
func (s *Server) Router(allowedOrigins []string, ratePerMin, burst int) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.observe)
	if len(allowedOrigins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/rows", s.handleRows)
		r.Get("/summary", s.handleSummary)
		r.Get("/environments", s.handleEnvironments)
		r.Get("/history", s.handleHistory)

		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(ratePerMin, burst))
			r.Post("/sweep", s.handleSweep)
			r.Post("/targets/retry", s.handleRetry)
			r.Post("/targets/check", s.handleCheck)
		})
	})

	return r
}

// observe records request metrics under the matched route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		s.Metrics.ObserveHTTP(route, r.Method, code, time.Since(start))
	})
}
