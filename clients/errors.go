package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind buckets a failed operation so the UI can show a differentiated,
// actionable message instead of a generic error.
type ErrorKind string

const (
	ErrTimeout    ErrorKind = "timeout"
	ErrNetwork    ErrorKind = "network"
	ErrHTTP       ErrorKind = "http"
	ErrAbort      ErrorKind = "abort"
	ErrValidation ErrorKind = "validation"
	ErrParse      ErrorKind = "parse"
	ErrUnknown    ErrorKind = "unknown"
)

// RequestError wraps a failed backend operation with its classification.
type RequestError struct {
	Kind       ErrorKind
	StatusCode int // set for ErrHTTP
	Op         string
	Err        error
}

func (e *RequestError) Error() string {
	switch {
	case e.Kind == ErrHTTP && e.Err == nil:
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	case e.Kind == ErrHTTP:
		return fmt.Sprintf("%s: unexpected status %d: %v", e.Op, e.StatusCode, e.Err)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *RequestError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a timeout, for counters.
func (e *RequestError) Timeout() bool { return e.Kind == ErrTimeout }

// KindOf extracts the classification from any error chain. Unclassified
// errors report ErrUnknown; nil reports an empty kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Kind
	}
	return ErrUnknown
}

// StatusOf extracts the HTTP status from a classified error chain, or 0.
func StatusOf(err error) int {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode
	}
	return 0
}

// Classify wraps a transport-level error with its kind. Status-code failures
// are classified by the caller (it owns the response) via NewHTTPError.
func Classify(op string, err error) *RequestError {
	if err == nil {
		return nil
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	kind := ErrNetwork
	switch {
	case errors.Is(err, context.Canceled):
		kind = ErrAbort
	case errors.Is(err, context.DeadlineExceeded):
		kind = ErrTimeout
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			kind = ErrTimeout
		}
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			kind = ErrParse
		}
	}
	return &RequestError{Kind: kind, Op: op, Err: err}
}

// NewHTTPError classifies a response with a non-success status.
func NewHTTPError(op string, statusCode int) *RequestError {
	return &RequestError{Kind: ErrHTTP, StatusCode: statusCode, Op: op}
}

// NewParseError classifies a malformed server payload.
func NewParseError(op string, err error) *RequestError {
	return &RequestError{Kind: ErrParse, Op: op, Err: err}
}

// NewValidationError classifies malformed local input that must never reach
// the network.
func NewValidationError(op string, err error) *RequestError {
	return &RequestError{Kind: ErrValidation, Op: op, Err: err}
}

// IsSuccess reports whether an HTTP status indicates success.
func IsSuccess(resp *http.Response) bool {
	return resp != nil && resp.StatusCode >= 200 && resp.StatusCode < 300
}
