package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/labforge/labforge"
	"github.com/labforge/labforge/config"
	"github.com/labforge/labforge/llm"
	"github.com/labforge/labforge/workflow"
)

// buildPipeline loads settings, applies flag overrides, and wires the
// provider into a workflow pipeline.
func buildPipeline() (*workflow.Pipeline, *zap.Logger, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, err
	}
	if flagProvider != "" {
		cfg.Provider = flagProvider
	}
	if flagModel != "" {
		cfg.Model = flagModel
	}
	if flagEndpoint != "" {
		cfg.Endpoint = flagEndpoint
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, err := cfg.BuildLogger()
	if err != nil {
		return nil, nil, err
	}

	provider, err := labforge.New(
		labforge.WithConfig(cfg.ProviderConfig()),
		labforge.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, err
	}
	return workflow.NewPipeline(provider, logger), logger, nil
}

// loadImageParts reads image files into base64 content parts.
func loadImageParts(paths []string) ([]llm.ContentPart, error) {
	parts := make([]llm.ContentPart, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading image %s: %w", path, err)
		}
		parts = append(parts, llm.ImagePart(
			base64.StdEncoding.EncodeToString(data),
			mimeForExt(filepath.Ext(path)),
		))
	}
	return parts, nil
}

func mimeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// writeOutput writes text to --out, or stdout when unset. When several
// results are produced, name disambiguates the files.
func writeOutput(text, name string) error {
	if flagOut == "" {
		_, err := fmt.Println(text)
		return err
	}
	path := flagOut
	if name != "" {
		ext := filepath.Ext(path)
		path = strings.TrimSuffix(path, ext) + "-" + name + ext
	}
	return os.WriteFile(path, []byte(text), 0o644)
}

// statusPrinter surfaces retry-wait notices on stderr as transient lines.
func statusPrinter(status string) {
	if status != "" {
		fmt.Fprintln(os.Stderr, status)
	}
}
