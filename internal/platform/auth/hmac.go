package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/ajsuth/headstart/internal/platform/httpx"
)

const (
	// DefaultSignatureHeader carries the base64 HMAC-SHA256 of the raw request body.
	DefaultSignatureHeader = "X-oc-hash"

	defaultMaxSignedBody = 1 << 20
)

// SecretProvider resolves the shared hash key used for signature validation.
type SecretProvider interface {
	GetSecret(ctx context.Context) (string, error)
}

// SecretProviderFunc adapts a function to the SecretProvider interface.
type SecretProviderFunc func(context.Context) (string, error)

// GetSecret implements SecretProvider.
func (f SecretProviderFunc) GetSecret(ctx context.Context) (string, error) {
	if f == nil {
		return "", errors.New("auth: secret provider not configured")
	}
	return f(ctx)
}

// StaticSecret returns a provider for an already resolved key.
func StaticSecret(secret string) SecretProvider {
	return SecretProviderFunc(func(context.Context) (string, error) {
		return secret, nil
	})
}

// HMACValidator checks the body signature OrderCloud attaches to integration callbacks.
type HMACValidator struct {
	provider SecretProvider
	logger   Logger
	metrics  MetricsRecorder
	now      func() time.Time

	header  string
	maxBody int64
}

// HMACOption customises the validator.
type HMACOption func(*HMACValidator)

// WithHMACLogger overrides the validator logger.
func WithHMACLogger(logger Logger) HMACOption {
	return func(v *HMACValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithHMACMetrics sets the metrics recorder.
func WithHMACMetrics(metrics MetricsRecorder) HMACOption {
	return func(v *HMACValidator) {
		v.metrics = metrics
	}
}

// WithHMACHeader overrides the signature header name.
func WithHMACHeader(name string) HMACOption {
	return func(v *HMACValidator) {
		if name = strings.TrimSpace(name); name != "" {
			v.header = name
		}
	}
}

// WithHMACMaxBody caps the number of body bytes read for verification.
func WithHMACMaxBody(limit int64) HMACOption {
	return func(v *HMACValidator) {
		if limit > 0 {
			v.maxBody = limit
		}
	}
}

// NewHMACValidator builds a validator using the given key provider.
func NewHMACValidator(provider SecretProvider, opts ...HMACOption) *HMACValidator {
	v := &HMACValidator{
		provider: provider,
		logger:   log.Default(),
		now:      time.Now,
		header:   DefaultSignatureHeader,
		maxBody:  defaultMaxSignedBody,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// RequireSignature rejects requests whose body does not match the signature header.
// The body is restored so handlers can decode it again.
func (v *HMACValidator) RequireSignature() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := v.now()

			secret, err := v.loadSecret(ctx)
			if err != nil {
				if v.logger != nil {
					v.logger.Printf("auth: hash key lookup failed: %v", err)
				}
				v.record(ctx, false, "secret_unavailable", start)
				respondAuthError(ctx, w, http.StatusServiceUnavailable, "verification_unavailable", "hash key unavailable")
				return
			}

			signatureValue := strings.TrimSpace(r.Header.Get(v.header))
			if signatureValue == "" {
				v.record(ctx, false, "signature_missing", start)
				respondAuthError(ctx, w, http.StatusUnauthorized, "signature_missing", "signature header missing")
				return
			}
			signature, err := base64.StdEncoding.DecodeString(signatureValue)
			if err != nil {
				v.record(ctx, false, "signature_invalid", start)
				respondAuthError(ctx, w, http.StatusUnauthorized, "signature_invalid", "signature encoding invalid")
				return
			}

			body, err := httpx.ReadBody(r, v.maxBody)
			switch {
			case errors.Is(err, httpx.ErrBodyTooLarge):
				v.record(ctx, false, "body_too_large", start)
				respondAuthError(ctx, w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
				return
			case errors.Is(err, httpx.ErrEmptyBody):
				body = nil
			case err != nil:
				v.record(ctx, false, "body_unreadable", start)
				respondAuthError(ctx, w, http.StatusBadRequest, "invalid_body", "unable to read body for signature verification")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if !hmac.Equal(signature, Sign(secret, body)) {
				v.record(ctx, false, "signature_mismatch", start)
				respondAuthError(ctx, w, http.StatusUnauthorized, "signature_mismatch", "signature verification failed")
				return
			}

			v.record(ctx, true, "ok", start)
			next.ServeHTTP(w, r)
		})
	}
}

// Sign computes the raw HMAC-SHA256 of body.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// SignBase64 returns the header value OrderCloud would send for body.
func SignBase64(secret string, body []byte) string {
	return base64.StdEncoding.EncodeToString(Sign([]byte(secret), body))
}

func (v *HMACValidator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v == nil || v.metrics == nil {
		return
	}
	v.metrics.RecordVerification(ctx, "hmac", success, reason, v.now().Sub(start))
}

func (v *HMACValidator) loadSecret(ctx context.Context) ([]byte, error) {
	if v == nil || v.provider == nil {
		return nil, errors.New("auth: secret provider not configured")
	}
	raw, err := v.provider.GetSecret(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("auth: hash key is empty")
	}
	return []byte(raw), nil
}
