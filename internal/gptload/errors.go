package gptload

import (
	"errors"
	"fmt"
)

// ErrBadResponse is returned when gpt-load answers with a payload that cannot be interpreted.
var ErrBadResponse = errors.New("unexpected gpt-load response")

// APIError is a business failure reported by gpt-load, either through a non-zero
// envelope code or a 4xx/5xx answer carrying an envelope.
type APIError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gpt-load %s failed (status %d, code %s): %s", e.Op, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("gpt-load %s failed (code %s): %s", e.Op, e.Code, e.Message)
}

// IsNotFound reports whether err is a gpt-load 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

// IsConflict reports whether err is gpt-load refusing a create because the resource exists.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && (apiErr.StatusCode == 409 || apiErr.Code == "DUPLICATE_RESOURCE")
}
