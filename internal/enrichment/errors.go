package enrichment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrNoSession       = errors.New("no usable session")
	ErrNothingSelected = errors.New("no order rows could be selected")
	ErrExportButton    = errors.New("export button not found")

	errNotObject = errors.New("body is not a JSON object")
)

// TransportError indicates the request never got a response.
type TransportError struct {
	Err error
}

func (e TransportError) Error() string {
	return fmt.Errorf("transport: %w", e.Err).Error()
}

func (e TransportError) Unwrap() error {
	return e.Err
}

// TimeoutError indicates the request ran out of time.
type TimeoutError struct {
	Err error
}

func (e TimeoutError) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e TimeoutError) Unwrap() error {
	return e.Err
}

// ForbiddenError is HTTP 403, which the portal returns once the session has expired.
type ForbiddenError struct {
	Err error
}

func (e ForbiddenError) Error() string {
	return fmt.Errorf("forbidden: %w", e.Err).Error()
}

func (e ForbiddenError) Unwrap() error {
	return e.Err
}

// PayloadTooLargeError is HTTP 413 or 414: the id list did not fit into the request.
type PayloadTooLargeError struct {
	Err error
}

func (e PayloadTooLargeError) Error() string {
	return fmt.Errorf("payload_too_large: %w", e.Err).Error()
}

func (e PayloadTooLargeError) Unwrap() error {
	return e.Err
}

// RateLimitError is HTTP 429.
type RateLimitError struct {
	Err error
}

func (e RateLimitError) Error() string {
	return fmt.Errorf("rate_limited: %w", e.Err).Error()
}

func (e RateLimitError) Unwrap() error {
	return e.Err
}

// StatusError is any other non-2xx response.
type StatusError struct {
	StatusCode int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("http status %d", e.StatusCode)
}

// NotJSONError means the body was HTML or otherwise not the expected JSON document.
type NotJSONError struct {
	ContentType string
	Err         error
}

func (e NotJSONError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("not_json: content type %q", e.ContentType)
	}
	return fmt.Errorf("not_json: %w", e.Err).Error()
}

func (e NotJSONError) Unwrap() error {
	return e.Err
}

// APIError is a well-formed response that flags an application error or carries no data.
type APIError struct {
	Reason string
}

func (e APIError) Error() string {
	return "api: " + e.Reason
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutError{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TimeoutError{Err: err}
	}
	if err != nil {
		return TransportError{Err: err}
	}

	wrapped := fmt.Errorf("http status %d", statusCode)
	switch {
	case statusCode == http.StatusForbidden:
		return ForbiddenError{Err: wrapped}
	case statusCode == http.StatusRequestEntityTooLarge, statusCode == http.StatusRequestURITooLong:
		return PayloadTooLargeError{Err: wrapped}
	case statusCode == http.StatusTooManyRequests:
		return RateLimitError{Err: wrapped}
	case statusCode < 200 || statusCode > 299:
		return StatusError{StatusCode: statusCode}
	}
	return nil
}

// ErrorLabel maps an enrichment error to a short label for logs and metrics.
func ErrorLabel(err error) string {
	if err == nil {
		return "none"
	}
	var timeout TimeoutError
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var transport TransportError
	if errors.As(err, &transport) {
		return "transport"
	}
	var forbidden ForbiddenError
	if errors.As(err, &forbidden) {
		return "forbidden"
	}
	var tooLarge PayloadTooLargeError
	if errors.As(err, &tooLarge) {
		return "payload_too_large"
	}
	var rateLimited RateLimitError
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var status StatusError
	if errors.As(err, &status) {
		return "status"
	}
	var notJSON NotJSONError
	if errors.As(err, &notJSON) {
		return "not_json"
	}
	var api APIError
	if errors.As(err, &api) {
		return "api"
	}
	if errors.Is(err, ErrNothingSelected) || errors.Is(err, ErrExportButton) {
		return "ui"
	}
	if errors.Is(err, ErrNoSession) {
		return "session"
	}
	return "other"
}
