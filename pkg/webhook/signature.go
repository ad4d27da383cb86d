// Package webhook implements request authentication for the platform's
// webhook deliveries.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"time"
)

// SignatureHeader is the HTTP header carrying the platform's body signature.
const SignatureHeader = "X-Line-Signature"

// Verification outcome reasons. MissingSecret is a server-side
// misconfiguration, the rest are client-side conditions.
const (
	ReasonValid            = "valid"
	ReasonMissingSignature = "missing_signature"
	ReasonMissingSecret    = "missing_secret"
	ReasonInvalidSignature = "invalid_signature"
	ReasonSkipped          = "skipped"
)

// Attempt describes one verification attempt for the audit trail. Secrets
// and signatures are reduced to lengths before recording.
type Attempt struct {
	At             time.Time
	BodyLength     int
	SignatureLen   int
	Reason         string
	Valid          bool
	Duration       time.Duration
	ClientIP       string
	SkipConfigured bool
}

// AuditSink receives every verification attempt, pass or fail. Implementations
// must not block the request path.
type AuditSink interface {
	RecordSignatureAttempt(a Attempt)
}

// Verifier authenticates webhook bodies with HMAC-SHA256 over the raw request
// bytes. The channel secret is injected at construction; SkipVerification
// bypasses checking entirely and exists only for local development.
type Verifier struct {
	secret           []byte
	skipVerification bool
	sink             AuditSink
}

// NewVerifier creates a Verifier for the given channel secret. sink may be
// nil, in which case attempts are not recorded.
func NewVerifier(channelSecret string, skipVerification bool, sink AuditSink) *Verifier {
	return &Verifier{
		secret:           []byte(channelSecret),
		skipVerification: skipVerification,
		sink:             sink,
	}
}

// SkipEnabled reports whether development-mode bypass is configured. Callers
// surface this loudly at startup.
func (v *Verifier) SkipEnabled() bool {
	return v.skipVerification
}

// Verify checks signatureHeader against the HMAC-SHA256 of body. It returns
// the outcome reason; ReasonValid and ReasonSkipped are the only accepting
// outcomes. The comparison is constant-time.
func (v *Verifier) Verify(body []byte, signatureHeader, clientIP string) (bool, string) {
	start := time.Now()
	valid, reason := v.verify(body, signatureHeader)
	v.record(Attempt{
		At:             start,
		BodyLength:     len(body),
		SignatureLen:   len(signatureHeader),
		Reason:         reason,
		Valid:          valid,
		Duration:       time.Since(start),
		ClientIP:       clientIP,
		SkipConfigured: v.skipVerification,
	})
	return valid, reason
}

func (v *Verifier) verify(body []byte, signatureHeader string) (bool, string) {
	if v.skipVerification {
		return true, ReasonSkipped
	}
	if len(v.secret) == 0 {
		return false, ReasonMissingSecret
	}
	if signatureHeader == "" {
		return false, ReasonMissingSignature
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	got, err := base64.StdEncoding.DecodeString(signatureHeader)
	if err != nil {
		return false, ReasonInvalidSignature
	}
	if !hmac.Equal(expected, got) {
		return false, ReasonInvalidSignature
	}
	return true, ReasonValid
}

func (v *Verifier) record(a Attempt) {
	if v.sink != nil {
		v.sink.RecordSignatureAttempt(a)
	}
}

// Sign computes the base64 HMAC-SHA256 signature of body under secret. Used
// by tests and the operator CLI to produce valid signatures.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
