// Command labforge drives LLM pipelines that produce structured lab
// documents and PowerShell validation scripts from lab instructions.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagProvider string
	flagModel    string
	flagEndpoint string
	flagOut      string
)

func main() {
	root := &cobra.Command{
		Use:           "labforge",
		Short:         "Generate lab documents and validation scripts with pluggable AI providers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&flagProvider, "provider", "", "provider override: gemini, openai or ollama")
	root.PersistentFlags().StringVar(&flagModel, "model", "", "model override")
	root.PersistentFlags().StringVar(&flagEndpoint, "endpoint", "", "local daemon endpoint override")
	root.PersistentFlags().StringVarP(&flagOut, "out", "o", "", "output file (default stdout)")

	root.AddCommand(newDocumentCmd(), newScriptCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
