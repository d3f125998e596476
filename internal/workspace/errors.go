package workspace

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrBusy            = errors.New("another attempt is in progress")
	ErrNoDocument      = fmt.Errorf("%w: no document to refine", ErrInvalidRequest)
	ErrStreamTruncated = errors.New("stream closed before done frame")
	ErrCancelled       = errors.New("attempt cancelled")
	ErrEmptyDocument   = errors.New("backend returned an empty document")
)

// HTTPStatusError is a non-2xx answer from the backend.
type HTTPStatusError struct {
	Code int
	Body string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned status %d", e.Code)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Code, e.Body)
}

// TransportError is a failure to reach the backend or to read its response.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// ErrorKind names the class of err for logs, metrics labels and API payloads.
func ErrorKind(err error) string {
	var statusErr *HTTPStatusError
	var transportErr *TransportError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrNoDocument):
		return "no_document"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrStreamTruncated):
		return "stream_truncated"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrEmptyDocument):
		return "empty_document"
	case errors.As(err, &statusErr):
		return "http_status"
	case errors.As(err, &transportErr):
		return "transport_failure"
	default:
		return "internal"
	}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
