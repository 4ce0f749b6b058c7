package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Operations counts ledger mutations by type and outcome
	// (committed, rejected, conflict, idempotent_replay, frozen,
	// validation_error, persistence_error).
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Ledger mutations by transaction type and outcome",
	}, []string{"type", "result"})

	// CASRetries counts optimistic-lock retries across all operations.
	CASRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_cas_retries_total",
		Help: "Optimistic version conflicts that triggered a retry",
	})
)

type HealthFunc func(ctx context.Context) error

// StartServer runs a side HTTP server exposing /metrics and /healthz,
// started on its own goroutine from main.
func StartServer(port string, healthFn HealthFunc) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()

		if err := healthFn(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "unhealthy: %v", err)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: ":" + port, Handler: mux}
	go func() {
		srv.ListenAndServe()
	}()
	return srv
}
