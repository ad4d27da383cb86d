package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatrelay/chatrelay/internal/handlers"
	"github.com/chatrelay/chatrelay/internal/middleware"
)

// NewRouter constructs a ServeMux with the webhook API routes registered.
func NewRouter(h *handlers.WebhookHandler) http.Handler {
	mux := http.NewServeMux()

	// Platform webhook endpoint
	mux.HandleFunc("POST /webhook", h.Webhook)

	// Health endpoints
	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("/readyz", h.Ready)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}
