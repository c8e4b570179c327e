package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies provider failures into the gateway taxonomy.
type Kind string

const (
	KindUnavailable     Kind = "unavailable"
	KindInvalidResponse Kind = "invalid_response"
	KindTimeout         Kind = "timeout"
	KindConfig          Kind = "config_error"
	KindNotImplemented  Kind = "not_implemented"
	KindBadRequest      Kind = "bad_request"
	KindAuth            Kind = "auth_failed"
	KindRateLimited     Kind = "rate_limited"
	KindNotFound        Kind = "not_found"
)

// Retryable reports whether a request failing with this kind is worth
// retrying with backoff.
func (k Kind) Retryable() bool {
	switch k {
	case KindUnavailable, KindRateLimited, KindTimeout:
		return true
	}
	return false
}

// Error is a classified provider failure.
type Error struct {
	Kind      Kind
	Provider  string
	Model     string
	Status    int
	Code      string
	Message   string
	RequestID string
	Cause     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.Model != "" {
		b.WriteString("/")
		b.WriteString(e.Model)
	}
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a classified error; Kind defaults from the cause.
func NewError(provider, model string, cause error) *Error {
	return &Error{
		Kind:     Classify(cause),
		Provider: provider,
		Model:    model,
		Cause:    cause,
	}
}

// WithStatus records the HTTP status and reclassifies from it.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	if k := classifyStatus(status); k != "" {
		e.Kind = k
	}
	return e
}

// WithCode records the upstream error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithMessage records the upstream error message.
func (e *Error) WithMessage(message string) *Error {
	e.Message = message
	return e
}

// WithRequestID records the upstream request ID.
func (e *Error) WithRequestID(id string) *Error {
	e.RequestID = id
	return e
}

// WithKind overrides the classification.
func (e *Error) WithKind(kind Kind) *Error {
	e.Kind = kind
	return e
}

// AsError extracts a classified *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Classify derives a Kind from an arbitrary error by message inspection.
// Used when the upstream SDK exposes no structured status.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	if pe, ok := AsError(err); ok {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "too many requests"), strings.Contains(msg, "429"):
		return KindRateLimited
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "authentication"), strings.Contains(msg, "permission"),
		strings.Contains(msg, "forbidden"):
		return KindAuth
	case strings.Contains(msg, "not found"), strings.Contains(msg, "404"):
		return KindNotFound
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no such host"), strings.Contains(msg, "service unavailable"),
		strings.Contains(msg, "bad gateway"), strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "internal server error"), strings.Contains(msg, "eof"):
		return KindUnavailable
	case strings.Contains(msg, "invalid request"), strings.Contains(msg, "bad request"),
		strings.Contains(msg, "400"):
		return KindBadRequest
	}
	return KindUnavailable
}

func classifyStatus(status int) Kind {
	switch {
	case status == 400:
		return KindBadRequest
	case status == 401 || status == 403:
		return KindAuth
	case status == 404:
		return KindNotFound
	case status == 408:
		return KindTimeout
	case status == 429:
		return KindRateLimited
	case status >= 500:
		return KindUnavailable
	}
	return ""
}

// ConfigError reports a misconfigured or unknown provider.
func ConfigError(provider, format string, args ...any) *Error {
	return &Error{
		Kind:     KindConfig,
		Provider: provider,
		Message:  fmt.Sprintf(format, args...),
	}
}
