package workflow

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/labforge/labforge/llm"
)

// ScriptRequest describes one validation script generation call.
type ScriptRequest struct {
	// Prompt is the caller-supplied system prompt for script generation.
	Prompt string
	// Instructions is the lab instruction text the script validates.
	Instructions string
	// Images are optional screenshots attached to the request. Routing to
	// the multi-modal operation happens here, never inside an adapter.
	Images []llm.ContentPart
	// Cancel and OnStatus are passed through to the provider.
	Cancel   *llm.Token
	OnStatus llm.StatusFunc
}

// GenerateScript produces a PowerShell validation script from lab
// instructions plus optional images. With images present it uses the
// provider's multi-modal streaming operation, otherwise plain streaming. A
// wrapping code fence in the result is stripped.
func (p *Pipeline) GenerateScript(ctx context.Context, sr *ScriptRequest, onDelta llm.DeltaFunc) (string, error) {
	log := p.logger.With(
		zap.String("run_id", uuid.NewString()),
		zap.String("provider", p.provider.Name()))

	req := &llm.Request{
		System:   sr.Prompt,
		Cancel:   sr.Cancel,
		OnStatus: sr.OnStatus,
	}

	var (
		out string
		err error
	)
	if len(sr.Images) > 0 {
		parts := make([]llm.ContentPart, 0, len(sr.Images)+1)
		parts = append(parts, llm.TextPart(sr.Instructions))
		parts = append(parts, sr.Images...)
		req.Parts = parts
		log.Info("generating validation script", zap.Int("images", len(sr.Images)))
		out, err = p.provider.StreamParts(ctx, req, onDelta)
	} else {
		req.Content = sr.Instructions
		log.Info("generating validation script")
		out, err = p.provider.Stream(ctx, req, onDelta)
	}
	if err != nil {
		log.Warn("script generation failed", zap.Error(err))
		return "", err
	}
	return stripCodeFence(out), nil
}
