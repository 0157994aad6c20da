package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_RateLimitedByCode(t *testing.T) {
	err := errors.New(`request failed: {"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`)
	got := Classify(err, "gemini")
	require.NotNil(t, got)
	assert.Equal(t, ErrRateLimited, got.Code)
	assert.Equal(t, 429, got.HTTPStatus)
	assert.True(t, got.Retryable)
	assert.Equal(t, "gemini", got.Provider)
}

func TestClassify_UnauthorizedByCode(t *testing.T) {
	err := errors.New(`{"error":{"code":401,"message":"API key not valid"}}`)
	got := Classify(err, "openai")
	assert.Equal(t, ErrUnauthorized, got.Code)
	assert.False(t, got.Retryable)
}

func TestClassify_CancellationSentinelWinsOverCode(t *testing.T) {
	// The sentinel takes priority even when a parsed code says otherwise.
	err := fmt.Errorf(`{"code":429,"message":"%s"}`, CancelMessage)
	got := Classify(err, "gemini")
	assert.Equal(t, ErrCancelled, got.Code)
	assert.Equal(t, CancelMessage, got.Message)
}

func TestClassify_DoubleEncodedMessage(t *testing.T) {
	// Providers sometimes double-encode: the message field holds another
	// JSON error object as a string.
	inner := `{"error":{"code":503,"message":"model overloaded"}}`
	raw := fmt.Sprintf(`{"message":%q}`, inner)
	got := Classify(errors.New(raw), "gemini")
	assert.Equal(t, ErrOverloaded, got.Code)
	assert.Contains(t, got.Message, "model overloaded")
}

func TestClassify_SubstringFallbacks(t *testing.T) {
	cases := []struct {
		msg  string
		want ErrorCode
	}{
		{"429 Too Many Requests: rate limit reached", ErrRateLimited},
		{"the model is overloaded, try again later", ErrOverloaded},
		{"Unauthorized: invalid api key provided", ErrUnauthorized},
		{"dial tcp 127.0.0.1:11434: connect: connection refused", ErrUnreachable},
		{"something else entirely", ErrUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			got := Classify(errors.New(tc.msg), "ollama")
			assert.Equal(t, tc.want, got.Code)
		})
	}
}

func TestClassify_UnknownDefaultsToCodeZero(t *testing.T) {
	got := Classify(errors.New("mystery failure"), "openai")
	assert.Equal(t, ErrUnknown, got.Code)
	assert.Equal(t, 0, got.HTTPStatus)
	assert.True(t, got.Retryable)
}

func TestClassify_PassesThroughExistingError(t *testing.T) {
	in := &Error{Code: ErrRateLimited, Message: "slow down", HTTPStatus: 429}
	got := Classify(in, "gemini")
	assert.Equal(t, ErrRateLimited, got.Code)
	assert.Equal(t, "gemini", got.Provider)
}

func TestClassify_NilError(t *testing.T) {
	assert.Nil(t, Classify(nil, "gemini"))
}

func TestIsCancelled(t *testing.T) {
	assert.True(t, IsCancelled(Stopped("gemini")))
	assert.True(t, IsCancelled(errors.New(CancelMessage)))
	assert.False(t, IsCancelled(errors.New("other")))
	assert.False(t, IsCancelled(nil))
}
