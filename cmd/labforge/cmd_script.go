package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/labforge/labforge/llm"
	"github.com/labforge/labforge/workflow"
)

func newScriptCmd() *cobra.Command {
	var (
		promptPath string
		imagePaths []string
		parallel   int
	)

	cmd := &cobra.Command{
		Use:   "script <instructions-file>...",
		Short: "Generate PowerShell validation scripts from lab instructions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := os.ReadFile(promptPath)
			if err != nil {
				return fmt.Errorf("reading prompt: %w", err)
			}
			images, err := loadImageParts(imagePaths)
			if err != nil {
				return err
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

			// Images only make sense for a single instruction file.
			if len(images) > 0 && len(args) > 1 {
				return fmt.Errorf("--image can only be combined with one instructions file")
			}

			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(parallel)
			for _, path := range args {
				path := path
				g.Go(func() error {
					instructions, err := os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("reading instructions %s: %w", path, err)
					}
					out, err := pipeline.GenerateScript(gctx, &workflow.ScriptRequest{
						Prompt:       string(prompt),
						Instructions: string(instructions),
						Images:       images,
						Cancel:       tok,
						OnStatus:     statusPrinter,
					}, nil)
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					name := ""
					if len(args) > 1 {
						name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
					}
					return writeOutput(out, name)
				})
			}
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&promptPath, "prompt", "", "system prompt file for script generation (required)")
	cmd.Flags().StringArrayVar(&imagePaths, "image", nil, "screenshot to attach, repeatable")
	cmd.Flags().IntVar(&parallel, "parallel", 2, "max instruction files processed concurrently")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}
