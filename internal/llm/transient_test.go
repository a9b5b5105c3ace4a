package llm

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"

	"github.com/adronaut/strategy-cli/pkg/openai"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "deadline exceeded" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"openai_429", &openai.APIError{StatusCode: 429, Body: "rate limit"}, true},
		{"openai_500", &openai.APIError{StatusCode: 500, Body: "oops"}, true},
		{"openai_503", &openai.APIError{StatusCode: 503, Body: "unavailable"}, true},
		{"openai_400", &openai.APIError{StatusCode: 400, Body: "bad request"}, false},
		{"openai_401", &openai.APIError{StatusCode: 401, Body: "unauthorized"}, false},
		{"openai_wrapped", eris.Wrap(&openai.APIError{StatusCode: 502, Body: "gw"}, "openai: chat completion"), true},
		{"anthropic_rate_limit", errors.New(`anthropic: create message: {"type":"rate_limit_error","message":"slow down"}`), true},
		{"anthropic_overloaded", errors.New("overloaded_error: try again later"), true},
		{"anthropic_api_error", errors.New("api_error: upstream hiccup"), true},
		{"anthropic_timeout", errors.New("timeout_error: request timed out"), true},
		{"anthropic_invalid_request", errors.New("invalid_request_error: max_tokens too large"), false},
		{"net_timeout", timeoutErr{}, true},
		{"conn_refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"conn_reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"conn_reset_string", errors.New("read tcp 10.0.0.1:443: connection reset by peer"), true},
		{"io_timeout_string", errors.New("Post \"https://api\": dial tcp: i/o timeout"), true},
		{"no_such_host", errors.New("dial tcp: lookup api.invalid: no such host"), true},
		{"plain_error", errors.New("something went wrong"), false},
		{"parse_failure", &ParseError{Task: TaskPatch, Raw: "not json"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Transient(tt.err))
		})
	}
}

func TestTransientStatus(t *testing.T) {
	t.Parallel()

	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, transientStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 201, 301, 400, 401, 403, 404, 422, 501} {
		assert.False(t, transientStatus(code), "status %d", code)
	}
}
