package llm

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/adronaut/strategy-cli/pkg/openai"
)

// Anthropic error bodies carry a machine-readable type string which the SDK
// includes in its error message.
var anthropicTransientTypes = []string{
	"rate_limit_error",
	"overloaded_error",
	"api_error",
	"timeout_error",
}

// String-based heuristics for wrapped errors from HTTP clients.
var transientNetPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
}

// Transient reports whether a provider error looks like passing
// infrastructure trouble (throttle, 5xx, network) rather than a rejected
// request. A transient primary failure is worth one attempt on the fallback
// provider; a rejected request would fail there the same way and must
// surface instead.
func Transient(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return transientStatus(apiErr.StatusCode)
	}

	msg := err.Error()
	for _, t := range anthropicTransientTypes {
		if strings.Contains(msg, t) {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	lower := strings.ToLower(msg)
	for _, p := range transientNetPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}

	return false
}

// transientStatus reports whether an HTTP status code indicates a passing
// server-side issue.
func transientStatus(code int) bool {
	switch code {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}
