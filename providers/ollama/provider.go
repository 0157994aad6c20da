// Package ollama implements the llm.Provider contract against a local
// Ollama daemon. Every call is an HTTP POST to a configurable base URL;
// streaming responses arrive as newline-delimited JSON objects. Images ride
// as a base64 array on the single outgoing user message rather than as
// separate content parts.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/labforge/labforge/llm"
	"github.com/labforge/labforge/llm/retry"
	"github.com/labforge/labforge/normalize"
	"github.com/labforge/labforge/providers"
)

const (
	// DefaultBaseURL is where a locally running daemon listens.
	DefaultBaseURL = "http://localhost:11434"

	defaultModel = "llama3.2"
)

// Provider is the local daemon adapter. No API key is involved.
type Provider struct {
	cfg    providers.OllamaConfig
	client *http.Client
	logger *zap.Logger
	policy retry.Policy
}

// New creates an Ollama provider.
func New(cfg providers.OllamaConfig, logger *zap.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		// Local models can be slow to load on first use.
		timeout = 300 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
		policy: retry.DefaultPolicy(),
	}
}

func (p *Provider) Name() string { return "ollama" }

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // base64, no data-URI prefix
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// buildMessages keeps the system prompt as its own message and folds all
// user text and images into one user message, images in encounter order.
func buildMessages(req *llm.Request, parts []llm.ContentPart) []ollamaMessage {
	msgs := make([]ollamaMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, ollamaMessage{Role: "system", Content: req.System})
	}

	user := ollamaMessage{Role: "user"}
	var text []string
	for _, part := range parts {
		switch part.Type {
		case llm.PartImage:
			user.Images = append(user.Images, part.Data)
		default:
			if part.Text != "" {
				text = append(text, part.Text)
			}
		}
	}
	user.Content = strings.Join(text, "\n\n")
	return append(msgs, user)
}

// Complete performs a single non-streaming call.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (string, error) {
	raw, err := retry.Do(ctx, p.policy, p.Name(), req.Cancel, req.OnStatus, p.logger, func() (string, error) {
		return p.chatOnce(ctx, req, []llm.ContentPart{llm.TextPart(req.Content)})
	})
	if err != nil {
		return "", err
	}
	return normalize.Normalize(raw, normalize.HintOllama), nil
}

// Stream performs a streaming text call.
func (p *Provider) Stream(ctx context.Context, req *llm.Request, onDelta llm.DeltaFunc) (string, error) {
	return p.stream(ctx, req, []llm.ContentPart{llm.TextPart(req.Content)}, onDelta)
}

// StreamParts streams with images attached to the single user message.
func (p *Provider) StreamParts(ctx context.Context, req *llm.Request, onDelta llm.DeltaFunc) (string, error) {
	return p.stream(ctx, req, req.Parts, onDelta)
}

func (p *Provider) stream(ctx context.Context, req *llm.Request, parts []llm.ContentPart, onDelta llm.DeltaFunc) (string, error) {
	raw, err := retry.Do(ctx, p.policy, p.Name(), req.Cancel, req.OnStatus, p.logger, func() (string, error) {
		return p.streamOnce(ctx, req, parts, onDelta)
	})
	if err != nil {
		return "", err
	}
	return normalize.Normalize(raw, normalize.HintOllama), nil
}

func (p *Provider) chatOnce(ctx context.Context, req *llm.Request, parts []llm.ContentPart) (string, error) {
	if req.Cancel.Cancelled() {
		return "", llm.Stopped(p.Name())
	}

	resp, err := p.post(ctx, req, parts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", errFromBody(resp.StatusCode, resp.Body)
	}

	var or ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return "", fmt.Errorf("ollama: decoding response: %w", err)
	}
	if or.Error != "" {
		return "", fmt.Errorf("ollama: %s", or.Error)
	}
	return or.Message.Content, nil
}

func (p *Provider) streamOnce(ctx context.Context, req *llm.Request, parts []llm.ContentPart, onDelta llm.DeltaFunc) (string, error) {
	if req.Cancel.Cancelled() {
		return "", llm.Stopped(p.Name())
	}

	resp, err := p.post(ctx, req, parts, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", errFromBody(resp.StatusCode, resp.Body)
	}

	var full strings.Builder
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return full.String(), nil
			}
			return "", err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// Malformed lines are skipped, never fatal.
		var or ollamaResponse
		if err := json.Unmarshal([]byte(line), &or); err != nil {
			continue
		}
		if or.Error != "" {
			return "", fmt.Errorf("ollama: %s", or.Error)
		}
		if or.Message.Content != "" {
			full.WriteString(or.Message.Content)
			if onDelta != nil {
				onDelta(or.Message.Content)
			}
		}

		if req.Cancel.Cancelled() {
			resp.Body.Close()
			return "", llm.Stopped(p.Name())
		}
		if or.Done {
			return full.String(), nil
		}
	}
}

func (p *Provider) post(ctx context.Context, req *llm.Request, parts []llm.ContentPart, stream bool) (*http.Response, error) {
	body := ollamaRequest{
		Model:    providers.ChooseModel(req.Model, p.cfg.Model, defaultModel),
		Messages: buildMessages(req, parts),
		Stream:   stream,
	}
	payload, _ := json.Marshal(body)
	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/api/chat"

	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if isConnectionError(err) {
			return nil, &llm.Error{
				Code:      llm.ErrUnreachable,
				Message:   fmt.Sprintf("cannot connect to local daemon at %s, ensure it is running (ollama serve)", p.cfg.BaseURL),
				Retryable: true,
				Provider:  p.Name(),
			}
		}
		return nil, err
	}
	return resp, nil
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host")
}

func errFromBody(status int, body io.Reader) error {
	data, _ := io.ReadAll(body)
	var or ollamaResponse
	if err := json.Unmarshal(data, &or); err == nil && or.Error != "" {
		return fmt.Errorf("ollama: status %d: %s", status, or.Error)
	}
	return fmt.Errorf("ollama: status %d: %s", status, string(data))
}
