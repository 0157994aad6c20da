// Package openai implements the llm.Provider contract against an
// OpenAI-compatible chat completions API. Text operations send separate
// system and user messages; the multi-modal path attaches the prompt and
// images as typed segments of a single user message, which is what the
// vision message schema requires.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/labforge/labforge/llm"
	"github.com/labforge/labforge/llm/retry"
	"github.com/labforge/labforge/normalize"
	"github.com/labforge/labforge/providers"
)

const defaultModel = "gpt-4o-mini"

// Provider is the OpenAI-compatible adapter.
type Provider struct {
	cfg    providers.OpenAIConfig
	client *http.Client
	logger *zap.Logger
	policy retry.Policy
}

// New creates an OpenAI provider.
func New(cfg providers.OpenAIConfig, logger *zap.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
		policy: retry.DefaultPolicy(),
	}
}

func (p *Provider) Name() string { return "openai" }

type chatMessage struct {
	Role string `json:"role"`
	// Content is a plain string for text messages and a []chatSegment for
	// multi-modal user messages.
	Content any `json:"content"`
}

type chatSegment struct {
	Type     string        `json:"type"` // text, image_url
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

type chatChoice struct {
	Index   int `json:"index"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
}

type chatErrorResp struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (p *Provider) buildHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
}

func (p *Provider) checkAuth() error {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return &llm.Error{
			Code:       llm.ErrUnauthorized,
			Message:    "openai: API key is not configured",
			HTTPStatus: http.StatusUnauthorized,
			Provider:   p.Name(),
		}
	}
	return nil
}

// textMessages builds the two-message shape used by the text operations.
func textMessages(req *llm.Request) []chatMessage {
	msgs := make([]chatMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	return append(msgs, chatMessage{Role: "user", Content: req.Content})
}

// partsMessage folds the prompt and the ordered parts into one user
// message: the prompt as the first text segment, images as data-URI
// image_url segments. The vision schema rejects a separate system message
// alongside image content on some compatible backends, so everything rides
// in the single user message.
func partsMessage(req *llm.Request) []chatMessage {
	segs := make([]chatSegment, 0, len(req.Parts)+1)
	if req.System != "" {
		segs = append(segs, chatSegment{Type: "text", Text: req.System})
	}
	for _, part := range req.Parts {
		switch part.Type {
		case llm.PartImage:
			segs = append(segs, chatSegment{
				Type: "image_url",
				ImageURL: &chatImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", part.MimeType, part.Data),
				},
			})
		default:
			segs = append(segs, chatSegment{Type: "text", Text: part.Text})
		}
	}
	return []chatMessage{{Role: "user", Content: segs}}
}

// Complete performs a single non-streaming call.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (string, error) {
	raw, err := retry.Do(ctx, p.policy, p.Name(), req.Cancel, req.OnStatus, p.logger, func() (string, error) {
		return p.completeOnce(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return normalize.Normalize(raw, normalize.HintOpenAI), nil
}

// Stream performs a streaming text call.
func (p *Provider) Stream(ctx context.Context, req *llm.Request, onDelta llm.DeltaFunc) (string, error) {
	return p.stream(ctx, req, textMessages(req), onDelta)
}

// StreamParts streams with the multi-modal single-message shape.
func (p *Provider) StreamParts(ctx context.Context, req *llm.Request, onDelta llm.DeltaFunc) (string, error) {
	return p.stream(ctx, req, partsMessage(req), onDelta)
}

func (p *Provider) stream(ctx context.Context, req *llm.Request, msgs []chatMessage, onDelta llm.DeltaFunc) (string, error) {
	raw, err := retry.Do(ctx, p.policy, p.Name(), req.Cancel, req.OnStatus, p.logger, func() (string, error) {
		return p.streamOnce(ctx, req, msgs, onDelta)
	})
	if err != nil {
		return "", err
	}
	return normalize.Normalize(raw, normalize.HintOpenAI), nil
}

func (p *Provider) completeOnce(ctx context.Context, req *llm.Request) (string, error) {
	if err := p.checkAuth(); err != nil {
		return "", err
	}
	if req.Cancel.Cancelled() {
		return "", llm.Stopped(p.Name())
	}

	body := chatRequest{
		Model:    providers.ChooseModel(req.Model, p.cfg.Model, defaultModel),
		Messages: textMessages(req),
	}
	payload, _ := json.Marshal(body)

	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(payload))
	p.buildHeaders(httpReq, p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", errFromBody(resp.StatusCode, resp.Body)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("openai: decoding response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("openai: response contained no choices")
	}
	return cr.Choices[0].Message.Content, nil
}

func (p *Provider) streamOnce(ctx context.Context, req *llm.Request, msgs []chatMessage, onDelta llm.DeltaFunc) (string, error) {
	if err := p.checkAuth(); err != nil {
		return "", err
	}
	if req.Cancel.Cancelled() {
		return "", llm.Stopped(p.Name())
	}

	body := chatRequest{
		Model:    providers.ChooseModel(req.Model, p.cfg.Model, defaultModel),
		Messages: msgs,
		Stream:   true,
	}
	payload, _ := json.Marshal(body)

	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(payload))
	p.buildHeaders(httpReq, p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
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
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return full.String(), nil
		}

		var cr chatResponse
		if err := json.Unmarshal([]byte(data), &cr); err != nil {
			continue
		}
		for _, c := range cr.Choices {
			if c.Delta.Content == "" {
				continue
			}
			full.WriteString(c.Delta.Content)
			if onDelta != nil {
				onDelta(c.Delta.Content)
			}
		}

		if req.Cancel.Cancelled() {
			resp.Body.Close()
			return "", llm.Stopped(p.Name())
		}
	}
}

func (p *Provider) endpoint() string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/chat/completions"
}

func errFromBody(status int, body io.Reader) error {
	data, _ := io.ReadAll(body)
	var er chatErrorResp
	if err := json.Unmarshal(data, &er); err == nil && er.Error.Message != "" {
		return &llm.Error{
			Code:       codeForStatus(status, er.Error.Type),
			Message:    fmt.Sprintf("%s (type: %s)", er.Error.Message, er.Error.Type),
			HTTPStatus: status,
			Retryable:  status != http.StatusUnauthorized && status != http.StatusForbidden,
			Provider:   "openai",
		}
	}
	return fmt.Errorf("openai: status %d: %s", status, string(data))
}

func codeForStatus(status int, errType string) llm.ErrorCode {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return llm.ErrUnauthorized
	case strings.Contains(errType, "api_key"):
		return llm.ErrUnauthorized
	case status == http.StatusTooManyRequests:
		return llm.ErrRateLimited
	case status == http.StatusServiceUnavailable || status == http.StatusBadGateway:
		return llm.ErrOverloaded
	default:
		return llm.ErrUnknown
	}
}
