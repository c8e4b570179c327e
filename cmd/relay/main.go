// Package main is the relay CLI: an OpenAI Assistants API compatible
// gateway over pluggable LLM providers.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "relay",
		Short:        "Relay - OpenAI Assistants API compatibility gateway",
		Long:         "Relay serves the OpenAI Assistants REST surface and executes runs\nagainst configurable upstream LLM providers.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd())
	return root
}
