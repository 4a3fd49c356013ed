// Package main provides the CLI entry point for the municipal innovation
// copilot service.
//
// The copilot turns natural-language requests from city staff into tool
// invocations against the innovation platform, with human confirmation
// required before any mutating action runs.
//
// # Basic Usage
//
// Start the server:
//
//	copilot serve --config copilot.yaml
//
// List the registered tools:
//
//	copilot tools
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key (referenced from config)
//   - OPENAI_API_KEY: OpenAI API key (referenced from config)
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "copilot",
		Short: "Conversational assistant for the municipal innovation platform",
		Long: `Copilot answers questions about innovation pilots and challenges, and
executes platform actions on request. Mutating actions are always
confirmed by a human before they run.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd(), buildToolsCmd(), buildVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
