package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/linkrisk/internal/config"
	"github.com/jonathan/linkrisk/internal/db"
	"github.com/jonathan/linkrisk/internal/observability"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show reports stored in the database",
	Long:  "Prints the stored reports of one scoring run (--run-id), or the most recent report for a URL (--url).",
	RunE:  runHistory,
}

var (
	historyRunID       string
	historyURL         string
	historyDatabaseURL string
)

func init() {
	historyCmd.Flags().StringVar(&historyRunID, "run-id", "", "Run ID printed by 'score'")
	historyCmd.Flags().StringVar(&historyURL, "url", "", "URL to show the latest report for")
	historyCmd.Flags().StringVar(&historyDatabaseURL, "db-url", "", "Database URL (optional, defaults to DATABASE_URL env var)")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	if (historyRunID == "") == (historyURL == "") {
		return fmt.Errorf("exactly one of --run-id or --url is required")
	}

	var runID uuid.UUID
	if historyRunID != "" {
		parsed, err := uuid.Parse(historyRunID)
		if err != nil {
			return fmt.Errorf("invalid run-id: %w", err)
		}
		runID = parsed
	}

	if historyDatabaseURL == "" {
		historyDatabaseURL = os.Getenv(config.EnvDatabaseURL)
	}
	if historyDatabaseURL == "" {
		return fmt.Errorf("%s required for history", config.EnvDatabaseURL)
	}

	ctx := context.Background()
	database, err := db.Connect(ctx, historyDatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	printer := observability.NewPrinter(cmd.OutOrStdout())

	if historyURL != "" {
		stored, err := database.LatestReport(ctx, historyURL)
		if err != nil {
			return fmt.Errorf("failed to get report: %w", err)
		}
		if stored == nil {
			return fmt.Errorf("no report stored for %s", historyURL)
		}
		rep, err := stored.Report()
		if err != nil {
			return err
		}
		printer.PrintReport(rep)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Run: %s (scored %s)\n", stored.RunID, stored.EvaluatedAt.Format("2006-01-02 15:04:05"))
		return nil
	}

	stored, err := database.ListReports(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to list reports: %w", err)
	}
	if len(stored) == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	for _, s := range stored {
		rep, err := s.Report()
		if err != nil {
			return err
		}
		printer.PrintReport(rep)
	}
	return nil
}
