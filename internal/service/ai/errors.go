package ai

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Upstream failure classes. The first three are recovered into canned replies.
var (
	ErrUpstreamAuth      = errors.New("upstream rejected credentials")
	ErrUpstreamRateLimit = errors.New("upstream rate limited")
	ErrUpstreamMalformed = errors.New("upstream returned a malformed body")
	ErrUpstreamTransport = errors.New("upstream request failed")
)

// StatusError is a non-2xx answer from the completion service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("completion API error [%d]", e.StatusCode)
	}
	return fmt.Sprintf("completion API error [%d]: %s", e.StatusCode, e.Body)
}

// Is classifies the failure. Credentials are checked before limits, so a 401
// whose body mentions a limit is still an auth failure.
func (e *StatusError) Is(target error) bool {
	body := strings.ToLower(e.Body)
	auth := e.StatusCode == http.StatusUnauthorized || strings.Contains(body, "unauthorized")

	switch target {
	case ErrUpstreamAuth:
		return auth
	case ErrUpstreamRateLimit:
		return !auth && (e.StatusCode == http.StatusTooManyRequests || strings.Contains(body, "limit"))
	case ErrUpstreamTransport:
		return !auth && !errors.Is(e, ErrUpstreamRateLimit)
	default:
		return false
	}
}
