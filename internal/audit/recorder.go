// Package audit records signature verification attempts for forensic review.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/chatrelay/chatrelay/internal/logging"
	"github.com/chatrelay/chatrelay/internal/metrics"
	"github.com/chatrelay/chatrelay/internal/repository"
	"github.com/chatrelay/chatrelay/pkg/webhook"
)

// AttemptWriter persists one verification attempt. *repository.PostgresRepository
// satisfies it.
type AttemptWriter interface {
	InsertSignatureAttempt(ctx context.Context, a repository.SignatureAttempt) error
}

// Recorder implements webhook.AuditSink. Every attempt is logged; persistence
// is best effort and runs off the request path.
type Recorder struct {
	writer  AttemptWriter
	logger  *logging.Logger
	timeout time.Duration
}

func NewRecorder(writer AttemptWriter, logger *logging.Logger) *Recorder {
	return &Recorder{writer: writer, logger: logger, timeout: 3 * time.Second}
}

// RecordSignatureAttempt logs the attempt and persists it asynchronously.
func (r *Recorder) RecordSignatureAttempt(a webhook.Attempt) {
	if a.Valid {
		r.logger.Debug("signature verified",
			logging.IP(a.ClientIP),
			slog.Int("body_length", a.BodyLength),
			slog.String("reason", a.Reason))
	} else {
		metrics.SignatureFailuresTotal.WithLabelValues(a.Reason).Inc()
		r.logger.Warn("signature rejected",
			logging.IP(a.ClientIP),
			slog.Int("body_length", a.BodyLength),
			slog.Int("signature_len", a.SignatureLen),
			slog.String("reason", a.Reason))
	}

	if r.writer == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		err := r.writer.InsertSignatureAttempt(ctx, repository.SignatureAttempt{
			At:             a.At,
			ClientIP:       a.ClientIP,
			BodyLength:     a.BodyLength,
			SignatureLen:   a.SignatureLen,
			Reason:         a.Reason,
			Valid:          a.Valid,
			Duration:       a.Duration,
			SkipConfigured: a.SkipConfigured,
		})
		if err != nil {
			r.logger.Warn("signature audit write failed", logging.Err(err))
		}
	}()
}
