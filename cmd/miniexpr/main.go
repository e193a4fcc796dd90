// Package main is the entry point for the miniexpr command line tool.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "miniexpr",
		Short:        "Evaluate left-to-right arithmetic expressions",
		SilenceUsage: true,
	}
	root.Version = version + " (commit=" + commit + ", built=" + date + ")"
	root.SetVersionTemplate("miniexpr version {{.Version}}\n")

	root.AddCommand(newEvalCmd(), newRunCmd(), newServeCmd(), newRemoteCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
