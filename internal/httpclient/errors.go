package httpclient

import (
	"errors"
	"fmt"
)

// UpstreamError represents a non-2xx answer from an upstream service
type UpstreamError struct {
	StatusCode int
	Method     string
	URL        string
	Body       []byte
}

func (e *UpstreamError) Error() string {
	if len(e.Body) > 0 {
		return fmt.Sprintf("upstream error: %s %s returned %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("upstream error: %s %s returned %d", e.Method, e.URL, e.StatusCode)
}

// StatusCode extracts the upstream status from err, or 0 when err is not an UpstreamError.
func StatusCode(err error) int {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.StatusCode
	}
	return 0
}
