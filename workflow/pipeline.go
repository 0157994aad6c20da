// Package workflow sequences multi-step provider calls: staged document
// pipelines and one-shot validation script generation. Prompt wording is
// always caller-supplied; this package only orders calls, feeds stage
// output into the next stage, and post-processes results.
package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/labforge/labforge/llm"
)

// tokenWarnThreshold is a coarse context-window estimate; stages whose
// assembled input exceeds it get a warning log, not a failure.
const tokenWarnThreshold = 100_000

// Stage is one step of a document pipeline. Prompt is the stage's system
// prompt; the stage's user content is the previous stage's output (the
// pipeline input for the first stage).
type Stage struct {
	Name   string
	Prompt string
}

// Progress receives per-stage streaming fragments.
type Progress func(stage string, delta string)

// Pipeline drives staged calls against one provider.
type Pipeline struct {
	provider llm.Provider
	logger   *zap.Logger
}

// NewPipeline creates a pipeline bound to a provider.
func NewPipeline(provider llm.Provider, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{provider: provider, logger: logger}
}

// Run executes stages in order, streaming each one. Stage N+1 receives
// stage N's output as content; the final stage's normalized output is
// returned. The cancellation token aborts within and between stages.
func (p *Pipeline) Run(ctx context.Context, stages []Stage, input string, tok *llm.Token, onProgress Progress, onStatus llm.StatusFunc) (string, error) {
	if len(stages) == 0 {
		return "", fmt.Errorf("workflow: no stages to run")
	}

	runID := uuid.NewString()
	log := p.logger.With(zap.String("run_id", runID), zap.String("provider", p.provider.Name()))
	log.Info("pipeline started", zap.Int("stages", len(stages)))

	current := input
	for i, stage := range stages {
		if tok.Cancelled() {
			return "", llm.Stopped(p.provider.Name())
		}

		p.warnIfOversized(log, stage, current)

		req := &llm.Request{
			System:   stage.Prompt,
			Content:  current,
			Cancel:   tok,
			OnStatus: onStatus,
		}
		var onDelta llm.DeltaFunc
		if onProgress != nil {
			name := stage.Name
			onDelta = func(delta string) { onProgress(name, delta) }
		}

		out, err := p.provider.Stream(ctx, req, onDelta)
		if err != nil {
			log.Warn("pipeline stage failed",
				zap.String("stage", stage.Name),
				zap.Int("index", i),
				zap.Error(err))
			return "", err
		}
		log.Info("pipeline stage done",
			zap.String("stage", stage.Name),
			zap.Int("index", i),
			zap.Int("output_chars", len(out)))
		current = out
	}

	log.Info("pipeline finished")
	return current, nil
}

// warnIfOversized estimates the token footprint of a stage's input and logs
// when it looks too large for a typical context window. Estimation is best
// effort: if the encoding is unavailable the check is skipped.
func (p *Pipeline) warnIfOversized(log *zap.Logger, stage Stage, content string) {
	// A token is never shorter than one byte, so small inputs skip the
	// encoder entirely.
	if len(stage.Prompt)+len(content) < tokenWarnThreshold {
		return
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return
	}
	n := len(enc.Encode(stage.Prompt+content, nil, nil))
	if n > tokenWarnThreshold {
		log.Warn("stage input may exceed model context",
			zap.String("stage", stage.Name),
			zap.Int("tokens", n))
	}
}

// stripCodeFence unwraps a result that arrived fenced as a single code
// block, e.g. ```powershell ... ```.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[len(lines)-1]) != "```" {
		return s
	}
	return strings.Join(lines[1:len(lines)-1], "\n")
}
