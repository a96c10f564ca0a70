package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dupeguard/internal/version"
)

// Health is the /healthz response body.
type Health struct {
	Status        string `json:"status"` // "healthy" or "degraded"
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Partitions    int    `json:"partitions"`
}

// HealthFunc reports the number of loaded partitions and any condition
// that makes the service degraded.
type HealthFunc func() (partitions int, err error)

// Handler serves /metrics and /healthz.
func (m *Metrics) Handler(health HealthFunc) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		h := Health{
			Status:        "healthy",
			Version:       version.Info(),
			UptimeSeconds: int64(m.Uptime().Seconds()),
		}
		code := http.StatusOK
		if health != nil {
			n, err := health()
			h.Partitions = n
			if err != nil {
				h.Status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(h)
	})
	return mux
}

// Serve runs the metrics server on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, health HealthFunc) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(health),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Metrics] Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
