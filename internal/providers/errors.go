package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// AuthenticationError indicates missing or rejected credentials.
type AuthenticationError struct {
	Provider string
	Message  string
	Cause    error
}

func (e *AuthenticationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "authentication failed"
	}
	return fmt.Sprintf("[%s] %s (status: 401)", e.Provider, msg)
}

func (e *AuthenticationError) Unwrap() error { return e.Cause }

// RateLimitError indicates the provider throttled the request. RetryAfter is
// zero when the provider did not supply one.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Message    string
	Cause      error
}

func (e *RateLimitError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "rate limit exceeded"
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("[%s] %s (retry after %s, status: 429)", e.Provider, msg, e.RetryAfter)
	}
	return fmt.Sprintf("[%s] %s (status: 429)", e.Provider, msg)
}

func (e *RateLimitError) Unwrap() error { return e.Cause }

// ModelNotFoundError indicates the requested model does not exist or is not
// available to the caller.
type ModelNotFoundError struct {
	Provider string
	Model    string
	Cause    error
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("[%s] model %q not found or not available", e.Provider, e.Model)
}

func (e *ModelNotFoundError) Unwrap() error { return e.Cause }

// ContextLengthError indicates the conversation exceeded the model's window.
type ContextLengthError struct {
	Provider   string
	MaxTokens  int
	UsedTokens int
	Cause      error
}

func (e *ContextLengthError) Error() string {
	if e.MaxTokens > 0 && e.UsedTokens > 0 {
		return fmt.Sprintf("[%s] context length exceeded (max: %d, used: %d)", e.Provider, e.MaxTokens, e.UsedTokens)
	}
	return fmt.Sprintf("[%s] context length exceeded", e.Provider)
}

func (e *ContextLengthError) Unwrap() error { return e.Cause }

// ProviderError is the catch-all for API failures not covered by a more
// specific type.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] %s (status: %d)", e.Provider, msg, e.StatusCode)
	}
	return fmt.Sprintf("[%s] %s", e.Provider, msg)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// TimeoutError indicates an operation exceeded its deadline.
type TimeoutError struct {
	Timeout time.Duration
	Message string
	Cause   error
}

func (e *TimeoutError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "operation timed out"
	}
	if e.Timeout > 0 {
		return fmt.Sprintf("%s (timeout: %s)", msg, e.Timeout)
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// ConnectionError indicates the provider endpoint was unreachable.
type ConnectionError struct {
	Provider string
	Message  string
	Cause    error
}

func (e *ConnectionError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "connection failed"
	}
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s", e.Provider, msg)
	}
	return msg
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// ProviderNotFoundError indicates an unregistered provider name.
type ProviderNotFoundError struct {
	Provider string
}

func (e *ProviderNotFoundError) Error() string {
	return fmt.Sprintf("provider %q not found or not configured", e.Provider)
}

// ClassifyStatus maps an HTTP status code and message into the error
// taxonomy. The message is scanned for context-length markers since most
// APIs report those as plain 400s.
func ClassifyStatus(provider string, status int, message string, cause error) error {
	lower := strings.ToLower(message)
	switch {
	case status == 401 || status == 403:
		return &AuthenticationError{Provider: provider, Message: message, Cause: cause}
	case status == 429:
		return &RateLimitError{Provider: provider, Message: message, Cause: cause}
	case status == 404 && strings.Contains(lower, "model"):
		return &ModelNotFoundError{Provider: provider, Model: message, Cause: cause}
	case strings.Contains(lower, "context length") || strings.Contains(lower, "maximum context") ||
		strings.Contains(lower, "prompt is too long"):
		return &ContextLengthError{Provider: provider, Cause: cause}
	default:
		return &ProviderError{Provider: provider, StatusCode: status, Message: message, Cause: cause}
	}
}

// ClassifyTransport maps non-HTTP failures (dial errors, deadlines) into the
// taxonomy, falling back to a bare ProviderError.
func ClassifyTransport(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Cause: err}
	}
	msg := err.Error()
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") {
		return &ConnectionError{Provider: provider, Message: msg, Cause: err}
	}
	return &ProviderError{Provider: provider, Message: msg, Cause: err}
}

// IsRetryable reports whether the error class is worth retrying.
func IsRetryable(err error) bool {
	var rate *RateLimitError
	var timeout *TimeoutError
	var conn *ConnectionError
	var provider *ProviderError
	switch {
	case errors.As(err, &rate), errors.As(err, &timeout), errors.As(err, &conn):
		return true
	case errors.As(err, &provider):
		return provider.StatusCode >= 500
	}
	return false
}
