package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/labforge/labforge/llm"
	"github.com/labforge/labforge/workflow"
)

func newDocumentCmd() *cobra.Command {
	var stageSpecs []string

	cmd := &cobra.Command{
		Use:   "document <instructions-file>",
		Short: "Run a staged pipeline over lab instructions to produce a lab document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stages, err := parseStages(stageSpecs)
			if err != nil {
				return err
			}

			input, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading instructions: %w", err)
			}

			pipeline, logger, err := buildPipeline()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			tok := llm.NewToken()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			go func() {
				<-ctx.Done()
				tok.Cancel()
			}()

			out, err := pipeline.Run(ctx, stages, string(input), tok, nil, statusPrinter)
			if err != nil {
				return err
			}
			return writeOutput(out, "")
		},
	}

	cmd.Flags().StringArrayVar(&stageSpecs, "stage", nil,
		"pipeline stage as name=prompt-file, repeatable, run in order")
	return cmd
}

// parseStages turns name=prompt-file specs into pipeline stages.
func parseStages(specs []string) ([]workflow.Stage, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("at least one --stage is required")
	}
	stages := make([]workflow.Stage, 0, len(specs))
	for _, spec := range specs {
		name, path, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --stage %q, want name=prompt-file", spec)
		}
		prompt, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading stage prompt %s: %w", path, err)
		}
		stages = append(stages, workflow.Stage{Name: name, Prompt: string(prompt)})
	}
	return stages, nil
}
