package sink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tkjaer/tcpdrain/internal/shared"
)

const statusShutdownTimeout = 5 * time.Second

// Handler serves /metrics, /sessions and /health for the sink
func (s *Sink) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := struct {
			Active   int              `json:"active"`
			Sessions []sessionPayload `json:"sessions"`
		}{
			Active:   s.ActiveConnections(),
			Sessions: []sessionPayload{},
		}
		for _, sess := range s.sessions.Recent() {
			resp.Sessions = append(resp.Sessions, sessionPayload{
				Session:    sess,
				DurationMs: sess.Duration().Milliseconds(),
			})
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			s.logger.Debug("Failed to write sessions response", "error", err)
		}
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","timestamp":"` + time.Now().UTC().Format(time.RFC3339) + `"}`))
	})

	return mux
}

type sessionPayload struct {
	shared.Session
	DurationMs int64 `json:"duration_ms"`
}

// ServeStatus runs the status HTTP server on addr until ctx is done
func (s *Sink) ServeStatus(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Serving status endpoint", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), statusShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
