// Package main provides the entry point for the linkrisk command-line tool.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonathan/linkrisk/internal/rules"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "linkrisk",
	Short: "Phishing risk scoring for URLs",
	Long:  "linkrisk extracts URLs from messages and scores each one with a set of phishing heuristics, writing a per-URL risk report.",
	// Errors are printed once by main.
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version + " (rule set " + rules.Version + ")",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
