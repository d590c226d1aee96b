package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/linkrisk/internal/extraction"
	"github.com/jonathan/linkrisk/internal/observability"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract candidate URLs from a messages CSV",
	Long:  "Reads a messages CSV, pulls every http(s) URL out of the message column and prints them, or writes them one per line to --out for use with 'score --input'.",
	RunE:  runExtract,
}

var (
	extractInputFile  string
	extractColumn     string
	extractOutputFile string
)

func init() {
	extractCmd.Flags().StringVarP(&extractInputFile, "in", "i", "", "Path to messages CSV")
	extractCmd.Flags().StringVar(&extractColumn, "column", extraction.DefaultColumn, "Message text column")
	extractCmd.Flags().StringVarP(&extractOutputFile, "out", "o", "", "Write URLs one per line to this file")

	if err := extractCmd.MarkFlagRequired("in"); err != nil {
		panic(fmt.Sprintf("failed to mark flag as required: %v", err))
	}

	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, _ []string) error {
	urls, err := extraction.FromCSVFile(extractInputFile, extractColumn)
	if err != nil {
		return err
	}

	if extractOutputFile == "" {
		observability.NewPrinter(cmd.OutOrStdout()).PrintURLs(urls)
		return nil
	}

	var sb strings.Builder
	for _, u := range urls {
		sb.WriteString(u)
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(extractOutputFile, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Extracted %d URLs\n", len(urls))
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Output: %s\n", extractOutputFile)
	return nil
}
