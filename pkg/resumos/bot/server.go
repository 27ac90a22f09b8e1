package bot

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dnephew1/resumos/pkg/resumos/channels"
)

// HealthFunc reports the health of the chat channel.
type HealthFunc func() channels.HealthStatus

// MetricsServer serves /metrics (Prometheus) and /healthz.
type MetricsServer struct {
	address   string
	gatherer  prometheus.Gatherer
	health    HealthFunc
	server    *http.Server
	logger    *slog.Logger
	startedAt time.Time
}

// NewMetricsServer creates the metrics endpoint. health may be nil.
func NewMetricsServer(address string, gatherer prometheus.Gatherer, health HealthFunc, logger *slog.Logger) *MetricsServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricsServer{
		address:   address,
		gatherer:  gatherer,
		health:    health,
		logger:    logger.With("component", "metrics"),
		startedAt: time.Now(),
	}
}

// Handler returns the HTTP routes.
func (s *MetricsServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Start listens in the background.
func (s *MetricsServer) Start() {
	s.server = &http.Server{
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server error", "error", err)
		}
	}()
	s.logger.Info("metrics server started", "address", s.address)
}

// Stop gracefully shuts down the HTTP server.
func (s *MetricsServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// handleHealth implements GET /healthz. It answers 503 while the channel
// is disconnected.
func (s *MetricsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	status := http.StatusOK
	body := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.health != nil {
		h := s.health()
		body["whatsapp"] = h
		if !h.Connected {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
