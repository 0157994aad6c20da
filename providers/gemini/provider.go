// Package gemini implements the llm.Provider contract against the Google
// Gemini generateContent API. It is the full-featured backend: all three
// operations are native, including image attachments on the streaming path.
package gemini

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

const defaultModel = "gemini-2.5-flash"

// Provider is the Gemini adapter. Stateless between calls; safe to
// construct once per session or per call.
type Provider struct {
	cfg    providers.GeminiConfig
	client *http.Client
	logger *zap.Logger
	policy retry.Policy
}

// New creates a Gemini provider.
func New(cfg providers.GeminiConfig, logger *zap.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
		policy: retry.DefaultPolicy(),
	}
}

func (p *Provider) Name() string { return "gemini" }

// Gemini request/response shapes.
type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64 encoded
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiErrorResp struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (p *Provider) buildHeaders(req *http.Request, apiKey string) {
	req.Header.Set("x-goog-api-key", apiKey)
	req.Header.Set("Content-Type", "application/json")
}

// buildContents combines the system prompt and the user payload into one
// user message: the prompt as the leading text part, then the content parts
// in their original order.
func buildContents(req *llm.Request, parts []llm.ContentPart) []geminiContent {
	gp := make([]geminiPart, 0, len(parts)+1)
	if req.System != "" {
		gp = append(gp, geminiPart{Text: req.System})
	}
	for _, part := range parts {
		switch part.Type {
		case llm.PartImage:
			gp = append(gp, geminiPart{InlineData: &geminiInlineData{
				MimeType: part.MimeType,
				Data:     part.Data,
			}})
		default:
			gp = append(gp, geminiPart{Text: part.Text})
		}
	}
	return []geminiContent{{Role: "user", Parts: gp}}
}

// checkAuth fails fast with an authorization error before any network call
// is attempted.
func (p *Provider) checkAuth() error {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return &llm.Error{
			Code:       llm.ErrUnauthorized,
			Message:    "gemini: API key is not configured",
			HTTPStatus: http.StatusUnauthorized,
			Provider:   p.Name(),
		}
	}
	return nil
}

// Complete performs a single non-streaming call.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (string, error) {
	raw, err := retry.Do(ctx, p.policy, p.Name(), req.Cancel, req.OnStatus, p.logger, func() (string, error) {
		return p.generateOnce(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return normalize.Normalize(raw, normalize.HintGemini), nil
}

// Stream performs a streaming text call.
func (p *Provider) Stream(ctx context.Context, req *llm.Request, onDelta llm.DeltaFunc) (string, error) {
	return p.streamParts(ctx, req, []llm.ContentPart{llm.TextPart(req.Content)}, onDelta)
}

// StreamParts streams with an ordered multi-modal payload.
func (p *Provider) StreamParts(ctx context.Context, req *llm.Request, onDelta llm.DeltaFunc) (string, error) {
	return p.streamParts(ctx, req, req.Parts, onDelta)
}

func (p *Provider) streamParts(ctx context.Context, req *llm.Request, parts []llm.ContentPart, onDelta llm.DeltaFunc) (string, error) {
	raw, err := retry.Do(ctx, p.policy, p.Name(), req.Cancel, req.OnStatus, p.logger, func() (string, error) {
		// Each attempt accumulates from scratch; a failed attempt's
		// partial text is discarded.
		return p.streamOnce(ctx, req, parts, onDelta)
	})
	if err != nil {
		return "", err
	}
	return normalize.Normalize(raw, normalize.HintGemini), nil
}

func (p *Provider) generateOnce(ctx context.Context, req *llm.Request) (string, error) {
	if err := p.checkAuth(); err != nil {
		return "", err
	}
	if req.Cancel.Cancelled() {
		return "", llm.Stopped(p.Name())
	}

	body := geminiRequest{Contents: buildContents(req, []llm.ContentPart{llm.TextPart(req.Content)})}
	payload, _ := json.Marshal(body)
	model := providers.ChooseModel(req.Model, p.cfg.Model, defaultModel)
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(p.cfg.BaseURL, "/"), model)

	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	p.buildHeaders(httpReq, p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", errFromBody(resp.StatusCode, resp.Body)
	}

	var gr geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", fmt.Errorf("gemini: decoding response: %w", err)
	}
	return candidateText(gr), nil
}

func (p *Provider) streamOnce(ctx context.Context, req *llm.Request, parts []llm.ContentPart, onDelta llm.DeltaFunc) (string, error) {
	if err := p.checkAuth(); err != nil {
		return "", err
	}
	if req.Cancel.Cancelled() {
		return "", llm.Stopped(p.Name())
	}

	body := geminiRequest{Contents: buildContents(req, parts)}
	payload, _ := json.Marshal(body)
	model := providers.ChooseModel(req.Model, p.cfg.Model, defaultModel)
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", strings.TrimRight(p.cfg.BaseURL, "/"), model)

	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
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
		if data == "" || data == "[DONE]" {
			continue
		}

		var gr geminiResponse
		if err := json.Unmarshal([]byte(data), &gr); err != nil {
			continue
		}
		if delta := candidateText(gr); delta != "" {
			full.WriteString(delta)
			if onDelta != nil {
				onDelta(delta)
			}
		}

		// Cancellation is polled after every chunk; the body close
		// releases the underlying connection before the error is raised.
		if req.Cancel.Cancelled() {
			resp.Body.Close()
			return "", llm.Stopped(p.Name())
		}
	}
}

func candidateText(gr geminiResponse) string {
	var sb strings.Builder
	for _, c := range gr.Candidates {
		for _, part := range c.Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func errFromBody(status int, body io.Reader) error {
	data, _ := io.ReadAll(body)
	var er geminiErrorResp
	if err := json.Unmarshal(data, &er); err == nil && er.Error.Message != "" {
		return &llm.Error{
			Code:       codeForStatus(status, er.Error.Message),
			Message:    fmt.Sprintf("%s (status: %s)", er.Error.Message, er.Error.Status),
			HTTPStatus: status,
			Retryable:  status != http.StatusUnauthorized && status != http.StatusForbidden,
			Provider:   "gemini",
		}
	}
	return fmt.Errorf("gemini: status %d: %s", status, string(data))
}

func codeForStatus(status int, msg string) llm.ErrorCode {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return llm.ErrUnauthorized
	case http.StatusTooManyRequests:
		return llm.ErrRateLimited
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return llm.ErrOverloaded
	case http.StatusBadRequest:
		if strings.Contains(strings.ToLower(msg), "api key") {
			return llm.ErrUnauthorized
		}
		return llm.ErrUnknown
	default:
		return llm.ErrUnknown
	}
}
