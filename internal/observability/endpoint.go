package observability

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openaudio/jackbridge/internal/logging"
)

// Endpoint serves a Prometheus registry over HTTP.
type Endpoint struct {
	server *http.Server
	logger *slog.Logger
}

// NewEndpoint creates a /metrics endpoint for the given registry.
func NewEndpoint(addr string, registry *prometheus.Registry) *Endpoint {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &Endpoint{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logging.ForService("observability"),
	}
}

// Start begins serving in a background goroutine.
func (e *Endpoint) Start() {
	go func() {
		e.logger.Info("metrics endpoint listening", "addr", e.server.Addr)
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.logger.Error("metrics endpoint failed", "error", err)
		}
	}()
}

// Stop shuts the endpoint down gracefully.
func (e *Endpoint) Stop(ctx context.Context) error {
	return e.server.Shutdown(ctx)
}
