package authapi

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status classification.
// Use errors.Is(err, authapi.ErrUnauthorized) to check.
var (
	ErrBadRequest   = errors.New("authapi: bad request")
	ErrUnauthorized = errors.New("authapi: unauthorized")
	ErrForbidden    = errors.New("authapi: forbidden")
	ErrNotFound     = errors.New("authapi: not found")
	ErrServerError  = errors.New("authapi: server error")
)

// APIError wraps a sentinel error with the HTTP status code and the
// service's error message.
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("authapi: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}
