package platform

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindAuth       ErrorKind = "auth"
	KindNetwork    ErrorKind = "network"
	KindServer     ErrorKind = "server"
)

const unknownDetail = "unknown error"

// APIError is returned by every call that did not succeed. Status is zero
// when no response was received.
type APIError struct {
	Kind   ErrorKind
	Status int
	Detail string
	Err    error
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s error (%d): %s", e.Kind, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Detail)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

func validationError(format string, args ...any) *APIError {
	return &APIError{Kind: KindValidation, Detail: fmt.Sprintf(format, args...)}
}

func networkError(err error) *APIError {
	return &APIError{Kind: KindNetwork, Detail: err.Error(), Err: err}
}

// statusError classifies a non-2xx response.
func statusError(status int, body []byte) *APIError {
	kind := KindServer
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status >= 400 && status < 500:
		kind = KindValidation
	}
	return &APIError{Kind: kind, Status: status, Detail: errorDetail(body)}
}

// errorDetail pulls a human readable message out of an error body. The
// backend is inconsistent about which field it fills.
func errorDetail(body []byte) string {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return unknownDetail
	}
	for _, key := range []string{"detail", "title", "message"} {
		if s, ok := fields[key].(string); ok && s != "" {
			return s
		}
	}
	return unknownDetail
}
