package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/labforge/labforge/llm"
	"github.com/labforge/labforge/llm/retry"
	"github.com/labforge/labforge/providers"
)

func fastPolicy() retry.Policy {
	return retry.Policy{MaxRetries: 6, BaseDelay: time.Microsecond, SlowDelay: time.Microsecond, MaxJitter: time.Microsecond}
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p := New(providers.OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "gpt-4o-mini",
	}, zap.NewNop())
	p.policy = fastPolicy()
	return p
}

// rawMessage mirrors the wire shape for request capture: content may be a
// string or a segment list.
type rawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type rawRequest struct {
	Model    string       `json:"model"`
	Messages []rawMessage `json:"messages"`
	Stream   bool         `json:"stream"`
}

func TestComplete_SendsSystemAndUserMessages(t *testing.T) {
	var captured rawRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		fmt.Fprint(w, `{"id":"1","choices":[{"index":0,"message":{"content":"done"}}]}`)
	})

	got, err := p.Complete(context.Background(), &llm.Request{
		System:  "act as a reviewer",
		Content: "review this lab",
	})
	require.NoError(t, err)
	assert.Equal(t, "done", got)

	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "user", captured.Messages[1].Role)
	assert.Equal(t, `"review this lab"`, string(captured.Messages[1].Content))
}

func TestStream_ParsesSSEUntilDone(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var captured rawRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		assert.True(t, captured.Stream)

		for _, c := range []string{"A", "B", "C"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var chunks []string
	got, err := p.Stream(context.Background(), &llm.Request{Content: "x"},
		func(delta string) { chunks = append(chunks, delta) })
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, chunks)
	assert.Equal(t, "ABC", got)
}

func TestStreamParts_SingleUserMessageWithPromptFirstAndDataURI(t *testing.T) {
	var captured rawRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\ndata: [DONE]\n\n")
	})

	req := &llm.Request{
		System: "generate a validation script",
		Parts: []llm.ContentPart{
			llm.TextPart("the instructions"),
			llm.ImagePart("aW1hZ2U=", "image/png"),
		},
	}
	_, err := p.StreamParts(context.Background(), req, nil)
	require.NoError(t, err)

	// The prompt rides inside the one user message, not as a separate
	// system message.
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "user", captured.Messages[0].Role)

	var segs []chatSegment
	require.NoError(t, json.Unmarshal(captured.Messages[0].Content, &segs))
	require.Len(t, segs, 3)
	assert.Equal(t, "text", segs[0].Type)
	assert.Equal(t, "generate a validation script", segs[0].Text)
	assert.Equal(t, "text", segs[1].Type)
	assert.Equal(t, "the instructions", segs[1].Text)
	assert.Equal(t, "image_url", segs[2].Type)
	require.NotNil(t, segs[2].ImageURL)
	assert.Equal(t, "data:image/png;base64,aW1hZ2U=", segs[2].ImageURL.URL)
}

func TestComplete_UnauthorizedFailsOnFirstAttempt(t *testing.T) {
	var hits atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`)
	})

	_, err := p.Complete(context.Background(), &llm.Request{Content: "x"})
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())

	var le *llm.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, llm.ErrUnauthorized, le.Code)
}

func TestComplete_MissingAPIKeyFailsFast(t *testing.T) {
	p := New(providers.OpenAIConfig{BaseURL: "http://example.invalid"}, zap.NewNop())
	p.policy = fastPolicy()

	_, err := p.Complete(context.Background(), &llm.Request{Content: "x"})
	require.Error(t, err)

	var le *llm.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, llm.ErrUnauthorized, le.Code)
}

func TestStream_OverloadedRetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":{"message":"The server is overloaded","type":"server_error"}}`)
			return
		}
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\ndata: [DONE]\n\n")
	})

	got, err := p.Stream(context.Background(), &llm.Request{Content: "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(3), hits.Load())
}
