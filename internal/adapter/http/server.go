package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/forecast-collector/internal/pipeline"
)

// RunReporter exposes the most recent collection run.
type RunReporter interface {
	LastRun() (pipeline.Status, bool)
}

// Server exposes health, readiness, run status, and metrics HTTP endpoints
// for the scheduled collector.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /status, and
// /metrics routes.
func NewServer(addr string, ready sharedobs.ReadinessChecker, runs RunReporter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.HandleFunc("GET /status", handleStatus(runs))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type runStatus struct {
	RunID           string    `json:"run_id"`
	Outcome         string    `json:"outcome"`
	Error           string    `json:"error,omitempty"`
	Locations       int       `json:"locations"`
	Fetched         int       `json:"fetched"`
	Failed          []string  `json:"failed"`
	Rows            int       `json:"rows"`
	DurationSeconds float64   `json:"duration_seconds"`
	FinishedAt      time.Time `json:"finished_at"`
}

func handleStatus(runs RunReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		st, ok := runs.LastRun()
		if !ok {
			sharedobs.WriteJSON(w, http.StatusNotFound, map[string]string{"status": "no run yet"})
			return
		}
		failed := make([]string, 0, len(st.Failures))
		for _, f := range st.Failures {
			failed = append(failed, f.Location.Name)
		}
		sharedobs.WriteJSON(w, http.StatusOK, runStatus{
			RunID:           st.RunID,
			Outcome:         st.Outcome,
			Error:           st.Error,
			Locations:       st.Locations,
			Fetched:         st.Fetched,
			Failed:          failed,
			Rows:            st.Rows,
			DurationSeconds: st.Duration.Seconds(),
			FinishedAt:      st.FinishedAt,
		})
	}
}
