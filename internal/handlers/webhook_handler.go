// Package handlers implements the inbound HTTP surface: the webhook endpoint
// and the health/readiness probes.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/chatrelay/chatrelay/internal/httputil"
	"github.com/chatrelay/chatrelay/internal/logging"
	"github.com/chatrelay/chatrelay/internal/metrics"
	"github.com/chatrelay/chatrelay/internal/middleware"
	"github.com/chatrelay/chatrelay/internal/models"
	"github.com/chatrelay/chatrelay/internal/parser"
	"github.com/chatrelay/chatrelay/internal/ratelimit"
	"github.com/chatrelay/chatrelay/pkg/webhook"
)

// RequestTimeout bounds whole-request processing. The platform enforces its
// own webhook response deadline and redelivers on timeout, so hanging longer
// than this only wastes work.
const RequestTimeout = 25 * time.Second

// MaxBodySize caps webhook request bodies. The platform batches at most a few
// hundred events; 2 MiB is far above any legitimate payload.
const MaxBodySize = 2 << 20

// BatchProcessor runs the parsed batch through the event router.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, batch *models.EventBatch) *models.BatchResult
}

// Pinger reports storage connectivity for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WebhookResponse is the 200 body returned to the platform.
type WebhookResponse struct {
	Success          bool    `json:"success"`
	Processed        int     `json:"processed"`
	Failed           int     `json:"failed"`
	ProcessingTimeMs float64 `json:"processingTimeMs"`
}

// WebhookHandler owns the webhook HTTP contract: authentication and parse
// failures escalate to non-200, per-event failures never do.
type WebhookHandler struct {
	verifier  *webhook.Verifier
	processor BatchProcessor
	limiter   ratelimit.RateLimiter
	enforce   bool
	db        Pinger
	logger    *logging.Logger
}

func NewWebhookHandler(verifier *webhook.Verifier, processor BatchProcessor, limiter ratelimit.RateLimiter, enforceLimit bool, db Pinger, logger *logging.Logger) *WebhookHandler {
	if limiter == nil {
		limiter = &ratelimit.NoOpRateLimiter{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		verifier:  verifier,
		processor: processor,
		limiter:   limiter,
		enforce:   enforceLimit,
		db:        db,
		logger:    logger,
	}
}

// Webhook handles POST deliveries from the platform.
func (h *WebhookHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	clientIP := middleware.ClientIP(r)

	defer func() {
		if rec := recover(); rec != nil {
			metrics.WebhooksTotal.WithLabelValues("panic").Inc()
			h.logger.ErrorContext(r.Context(), "webhook handler panicked",
				logging.IP(clientIP),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
			httputil.WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		}
	}()

	ctx, cancel := context.WithTimeout(r.Context(), RequestTimeout)
	defer cancel()

	// Read one byte past the cap so truncation is detectable: a silently
	// truncated body would fail verification and masquerade as a bad secret.
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize+1))
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues("read_error").Inc()
		httputil.WriteError(w, http.StatusBadRequest, "invalid_json", "failed to read request body")
		return
	}
	if len(body) > MaxBodySize {
		metrics.WebhooksTotal.WithLabelValues("payload_too_large").Inc()
		h.logger.WarnContext(ctx, "webhook body over size limit",
			logging.IP(clientIP), slog.Int("bytes", len(body)))
		httputil.WriteError(w, http.StatusBadRequest, "payload_too_large", "request body exceeds size limit")
		return
	}

	signature := r.Header.Get(webhook.SignatureHeader)
	valid, reason := h.verifier.Verify(body, signature, clientIP)
	if !valid {
		h.writeVerificationFailure(w, reason)
		return
	}

	batch, err := parser.Parse(body)
	if err != nil {
		h.writeParseFailure(ctx, w, err)
		return
	}

	allowed, limitErr := h.limiter.Allow(ctx, clientIP)
	if limitErr != nil {
		h.logger.WarnContext(ctx, "rate limit check failed", logging.Err(limitErr))
	} else if !allowed {
		h.logger.WarnContext(ctx, "webhook over rate limit", logging.IP(clientIP))
		if h.enforce {
			// 200 with zero processing: a 429 would trigger a platform
			// redelivery storm.
			metrics.WebhooksTotal.WithLabelValues("rate_limited").Inc()
			httputil.WriteJSON(w, http.StatusOK, WebhookResponse{
				Success:          true,
				ProcessingTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
			})
			return
		}
	}

	result := h.processor.ProcessBatch(ctx, batch)

	elapsed := time.Since(start)
	metrics.WebhooksTotal.WithLabelValues("ok").Inc()
	metrics.WebhookDuration.Observe(elapsed.Seconds())

	h.logger.InfoContext(ctx, "webhook batch processed",
		slog.Int("events", len(batch.Events)),
		slog.Int("processed", result.Successful),
		slog.Int("failed", result.Failed),
		logging.Duration(float64(elapsed.Microseconds())/1000.0))

	httputil.WriteJSON(w, http.StatusOK, WebhookResponse{
		Success:          true,
		Processed:        result.Successful,
		Failed:           result.Failed,
		ProcessingTimeMs: float64(elapsed.Microseconds()) / 1000.0,
	})
}

func (h *WebhookHandler) writeVerificationFailure(w http.ResponseWriter, reason string) {
	switch reason {
	case webhook.ReasonMissingSignature:
		metrics.WebhooksTotal.WithLabelValues("missing_signature").Inc()
		httputil.WriteError(w, http.StatusBadRequest, "missing_signature", "signature header is required")
	case webhook.ReasonMissingSecret:
		metrics.WebhooksTotal.WithLabelValues("configuration_error").Inc()
		httputil.WriteError(w, http.StatusInternalServerError, "configuration_error", "webhook secret is not configured")
	default:
		metrics.WebhooksTotal.WithLabelValues("invalid_signature").Inc()
		httputil.WriteError(w, http.StatusUnauthorized, "invalid_signature", "signature verification failed")
	}
}

func (h *WebhookHandler) writeParseFailure(ctx context.Context, w http.ResponseWriter, err error) {
	h.logger.WarnContext(ctx, "webhook batch rejected", logging.Err(err))

	switch {
	case errors.Is(err, parser.ErrMissingEvents):
		metrics.WebhooksTotal.WithLabelValues("invalid_structure").Inc()
		httputil.WriteError(w, http.StatusBadRequest, "invalid_structure", "events array is required")
	default:
		metrics.WebhooksTotal.WithLabelValues("invalid_json").Inc()
		httputil.WriteError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
	}
}

// Health is the liveness probe.
func (h *WebhookHandler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready is the readiness probe: verifies storage connectivity.
func (h *WebhookHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database unavailable",
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
