// Package errors defines the closed error taxonomy for gateway
// operations. Every provider failure, transport failure, and local
// policy rejection is mapped onto one of these kinds; the Retryable
// predicate on the kind drives the retry interceptor and failover
// routing.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Kind identifies one member of the closed taxonomy.
type Kind string

const (
	KindNetwork              Kind = "network_error"
	KindTimeout              Kind = "timeout_error"
	KindRateLimitExceeded    Kind = "rate_limit_exceeded"
	KindProvider             Kind = "provider_error"
	KindAuthentication       Kind = "authentication_error"
	KindInvalidRequest       Kind = "invalid_request"
	KindModelNotFound        Kind = "model_not_found"
	KindInvalidModelResponse Kind = "invalid_model_response"
	KindConfiguration        Kind = "configuration_error"
	KindRetryExhausted       Kind = "retry_exhausted"
	KindUnsupportedFeature   Kind = "unsupported_feature"
)

// Error is the standardized gateway error. It carries enough context
// for user-visible messages: the provider and model involved, fallback
// suggestions, and a docs URL where one is catalogued.
type Error struct {
	Kind       Kind          `json:"kind"`
	Message    string        `json:"message"`
	Provider   string        `json:"provider,omitempty"`
	Model      string        `json:"model,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	RetryAfter time.Duration `json:"-"`
	Suggested  []string      `json:"suggested_models,omitempty"`
	DocsURL    string        `json:"docs_url,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Kind, e.Message)
	if e.Provider != "" {
		fmt.Fprintf(&b, " (provider=%s", e.Provider)
		if e.Model != "" {
			fmt.Fprintf(&b, ", model=%s", e.Model)
		}
		if e.StatusCode > 0 {
			fmt.Fprintf(&b, ", code=%d", e.StatusCode)
		}
		b.WriteString(")")
	}
	if len(e.Suggested) > 0 {
		fmt.Fprintf(&b, "; suggested models: %s", strings.Join(e.Suggested, ", "))
	}
	if e.DocsURL != "" {
		fmt.Fprintf(&b, "; see %s", e.DocsURL)
	}
	return b.String()
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether the retry interceptor and failover routing
// may re-attempt after this error. Rate-limit errors are retryable only
// after the advertised delay; ModelNotFound is not retryable here but
// triggers the invalid-model fallback instead.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout, KindRateLimitExceeded, KindProvider:
		return true
	default:
		return false
	}
}

// WithCause attaches an underlying error for %w-style unwrapping.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// New creates a gateway error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a gateway error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewNetwork wraps a transport-level failure (TCP/DNS/TLS).
func NewNetwork(provider string, err error) *Error {
	return &Error{Kind: KindNetwork, Message: err.Error(), Provider: provider, cause: err}
}

// NewTimeout reports a per-attempt deadline exceeded.
func NewTimeout(provider string, d time.Duration) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf("deadline of %s exceeded", d), Provider: provider}
}

// NewRateLimit reports an empty local bucket or a provider 429.
func NewRateLimit(provider string, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimitExceeded,
		Message:    fmt.Sprintf("rate limit exceeded, retry after %s", retryAfter),
		Provider:   provider,
		StatusCode: http.StatusTooManyRequests,
		RetryAfter: retryAfter,
	}
}

// NewConfiguration reports invalid manifest or option values.
func NewConfiguration(message string) *Error {
	return &Error{Kind: KindConfiguration, Message: message}
}

// NewRetryExhausted reports that the retry policy gave up.
func NewRetryExhausted(provider string, attempts int, last error) *Error {
	return &Error{
		Kind:     KindRetryExhausted,
		Message:  fmt.Sprintf("gave up after %d attempts: %v", attempts, last),
		Provider: provider,
		cause:    last,
	}
}

// ErrStreamCancelled is returned exactly once by a stream reader after
// its cancel handle fires; subsequent reads return io.EOF.
var ErrStreamCancelled = New(KindInvalidRequest, "stream cancelled by caller")

// AsError extracts a gateway *Error from err, if present.
func AsError(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// IsRetryable reports whether err permits another attempt. Unknown
// error values are treated as non-retryable.
func IsRetryable(err error) bool {
	if ge, ok := AsError(err); ok {
		return ge.Retryable()
	}
	return false
}

// invalidModelSignals are the provider-agnostic phrases that mark an
// invalid/unknown model in an error body.
var invalidModelSignals = []string{
	"invalid model",
	"model not found",
	"unknown model",
	"unsupported model",
	"does not exist",
}

// LooksLikeInvalidModel scans a provider error body for the
// invalid-model signal. A 400/404 status together with one of the
// catalogued phrases is treated as ModelNotFound, which triggers the
// single-retry model fallback.
func LooksLikeInvalidModel(statusCode int, body string) bool {
	if statusCode != http.StatusBadRequest && statusCode != http.StatusNotFound {
		return false
	}
	lower := strings.ToLower(body)
	for _, sig := range invalidModelSignals {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// FromStatus maps a provider HTTP status and body onto the taxonomy.
func FromStatus(provider, model string, statusCode int, body string) *Error {
	message := strings.TrimSpace(body)
	if message == "" {
		message = http.StatusText(statusCode)
	}

	var kind Kind
	switch {
	case LooksLikeInvalidModel(statusCode, body):
		kind = KindModelNotFound
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		kind = KindAuthentication
	case statusCode == http.StatusTooManyRequests:
		kind = KindRateLimitExceeded
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		kind = KindTimeout
	case statusCode >= 500:
		kind = KindProvider
	case statusCode >= 400:
		kind = KindInvalidRequest
	default:
		kind = KindProvider
	}

	return &Error{
		Kind:       kind,
		Message:    message,
		Provider:   provider,
		Model:      model,
		StatusCode: statusCode,
	}
}
