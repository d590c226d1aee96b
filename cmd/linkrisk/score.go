package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jonathan/linkrisk/internal/blacklist"
	"github.com/jonathan/linkrisk/internal/config"
	"github.com/jonathan/linkrisk/internal/db"
	"github.com/jonathan/linkrisk/internal/extraction"
	"github.com/jonathan/linkrisk/internal/fetch"
	"github.com/jonathan/linkrisk/internal/ledger"
	"github.com/jonathan/linkrisk/internal/observability"
	"github.com/jonathan/linkrisk/internal/report"
	"github.com/jonathan/linkrisk/internal/rules"
	"github.com/jonathan/linkrisk/internal/scoring"
	"github.com/jonathan/linkrisk/internal/search"
)

var scoreCmd = &cobra.Command{
	Use:   "score [url...]",
	Short: "Score URLs for phishing risk",
	Long: `Scores every candidate URL with the stock rule set and writes one report row per URL.

URLs come from the arguments, a list file (--input, one URL per line) or a messages CSV (--messages).
URLs already recorded in the processed-URL ledger are skipped.

Configuration can be loaded from a JSON file using --config. Command-line flags override config file values;
API keys and the database URL fall back to SAFE_BROWSING_API_KEY, GOOGLE_SEARCH_API_KEY, GOOGLE_SEARCH_CX and DATABASE_URL.`,
	RunE: runScoreCmd,
}

var (
	scoreConfigPath  string
	scoreInputFile   string
	scoreMessages    string
	scoreColumn      string
	scoreOut         string
	scoreLedger      string
	scoreNoLedger    bool
	scoreWorkers     int
	scoreTimeout     config.Duration
	scoreRuleTimeout config.Duration
	scoreDatabaseURL string
	scoreVerbose     bool
	scoreJSONLogs    bool
)

func init() {
	// Config file flag (processed first)
	scoreCmd.Flags().StringVar(&scoreConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")

	scoreCmd.Flags().StringVarP(&scoreInputFile, "input", "i", "", "File with one URL per line (\"-\" for stdin)")
	scoreCmd.Flags().StringVarP(&scoreMessages, "messages", "m", "", "Messages CSV to extract URLs from")
	scoreCmd.Flags().StringVar(&scoreColumn, "column", extraction.DefaultColumn, "Message text column of --messages")
	scoreCmd.Flags().StringVarP(&scoreOut, "out", "o", "", "Report path: .csv, .jsonl or .xlsx (\"-\" for CSV on stdout)")
	scoreCmd.Flags().StringVar(&scoreLedger, "ledger", "", "Processed-URL ledger: file path, sqlite:<path>, postgres:// URL or memory:")
	scoreCmd.Flags().BoolVar(&scoreNoLedger, "no-ledger", false, "Score every URL and record nothing")
	scoreCmd.Flags().IntVarP(&scoreWorkers, "workers", "w", 0, "Number of URLs scored concurrently")
	scoreCmd.Flags().Var(durationFlag{&scoreTimeout}, "timeout", "Page fetch timeout (e.g. 5s)")
	scoreCmd.Flags().Var(durationFlag{&scoreRuleTimeout}, "rule-timeout", "Per-rule timeout (e.g. 15s)")
	scoreCmd.Flags().StringVar(&scoreDatabaseURL, "db-url", "", "PostgreSQL URL to also store reports in (optional, defaults to DATABASE_URL env var)")
	scoreCmd.Flags().BoolVarP(&scoreVerbose, "verbose", "v", false, "Print a breakdown for every URL")
	scoreCmd.Flags().BoolVar(&scoreJSONLogs, "json-logs", false, "Log JSON lines instead of console output")

	rootCmd.AddCommand(scoreCmd)
}

func runScoreCmd(cmd *cobra.Command, args []string) error {
	cfg, err := resolveScoreConfig(cmd.Flags())
	if err != nil {
		return err
	}

	urls, err := collectURLs(args, scoreInputFile, scoreMessages, scoreColumn)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return fmt.Errorf("no URLs to score (pass URLs as arguments, --input or --messages)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(os.Stderr, cfg.Verbose, cfg.JSONLogs)
	result, err := scoreURLs(ctx, cfg, urls, &logger)
	if result != nil {
		printer := observability.NewPrinter(summaryOut(cmd, cfg.Out))
		if cfg.Verbose {
			for i := range result.Reports {
				printer.PrintReport(&result.Reports[i])
			}
		}
		printer.PrintBatchSummary(result)
	}
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("scoring interrupted: %w", ctx.Err())
	}
	return nil
}

// summaryOut keeps human-readable output off stdout when the CSV report is written there.
func summaryOut(cmd *cobra.Command, reportPath string) io.Writer {
	if reportPath == "-" {
		return cmd.ErrOrStderr()
	}
	return cmd.OutOrStdout()
}

// resolveScoreConfig layers defaults, the config file, explicitly set flags and
// the environment, then validates the result.
func resolveScoreConfig(flags *pflag.FlagSet) (config.Config, error) {
	cfg := config.Default()
	if scoreConfigPath != "" {
		loaded, err := config.LoadConfig(scoreConfigPath)
		if err != nil {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loaded
	}

	// Only override if the flag was explicitly set
	if flags.Changed("out") {
		cfg.Out = scoreOut
	}
	if flags.Changed("ledger") {
		cfg.Ledger = scoreLedger
	}
	if scoreNoLedger {
		cfg.Ledger = ""
	}
	if flags.Changed("workers") {
		cfg.Workers = scoreWorkers
	}
	if flags.Changed("timeout") {
		cfg.FetchTimeout = scoreTimeout
	}
	if flags.Changed("rule-timeout") {
		cfg.RuleTimeout = scoreRuleTimeout
	}
	if flags.Changed("db-url") {
		cfg.DatabaseURL = scoreDatabaseURL
	}
	if flags.Changed("verbose") {
		cfg.Verbose = scoreVerbose
	}
	if flags.Changed("json-logs") {
		cfg.JSONLogs = scoreJSONLogs
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// collectURLs gathers candidates from arguments, a list file and a messages CSV, in that order.
func collectURLs(args []string, listPath, messagesPath, column string) ([]string, error) {
	urls := slices.Clone(args)
	if listPath != "" {
		listed, err := extraction.ReadListFile(listPath)
		if err != nil {
			return nil, err
		}
		urls = append(urls, listed...)
	}
	if messagesPath != "" {
		extracted, err := extraction.FromCSVFile(messagesPath, column)
		if err != nil {
			return nil, err
		}
		urls = append(urls, extracted...)
	}
	return urls, nil
}

// scoreURLs wires the rule set, ledger and sinks from cfg and runs one batch.
// The result is returned together with any non-fatal sink or ledger error.
func scoreURLs(ctx context.Context, cfg config.Config, urls []string, logger *zerolog.Logger) (*scoring.BatchResult, error) {
	ruleSet, err := buildRuleSet(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var database *db.DB
	if cfg.DatabaseURL != "" {
		database, err = db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()
		if err := database.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}

	var store ledger.Store
	if cfg.Ledger != "" {
		store, err = openLedger(ctx, cfg, database)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger: %w", err)
		}
		defer func() { _ = store.Close() }()
	}

	sink, closeSink, err := buildSink(cfg, database)
	if err != nil {
		return nil, err
	}

	engine, err := scoring.NewEngine(ruleSet, scoring.Options{
		Thresholds: cfg.Thresholds,
		Workers:    cfg.Workers,
		Ledger:     store,
		Sink:       sink,
		Logger:     logger,
		OnProgress: func(event scoring.ProgressEvent) {
			if event.Skipped {
				logger.Debug().Str("url", event.URL).Msg("already processed")
				return
			}
			logger.Info().
				Str("url", event.URL).
				Int("score", event.Report.TotalScore).
				Stringer("tier", event.Report.Tier).
				Msgf("[%d/%d] scored", event.Completed, event.Total)
		},
	})
	if err != nil {
		_ = closeSink()
		return nil, err
	}

	result, batchErr := engine.EvaluateBatch(ctx, urls)
	closeErr := closeSink()
	if closeErr != nil {
		closeErr = fmt.Errorf("failed to write report %s: %w", cfg.Out, closeErr)
	}
	return result, errors.Join(batchErr, closeErr)
}

func buildRuleSet(ctx context.Context, cfg config.Config, logger *zerolog.Logger) (*rules.RuleSet, error) {
	fetcher := fetch.New(&fetch.Options{
		Timeout:      cfg.FetchTimeout.Std(),
		MaxRedirects: cfg.MaxRedirects,
		MaxBodyBytes: cfg.MaxBodyBytes,
		UserAgent:    cfg.UserAgent,
	})

	engines, err := buildEngines(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var checker blacklist.Checker
	switch {
	case !cfg.Blacklist.Enabled:
		logger.Debug().Msg("blacklist lookups disabled")
	case cfg.SafeBrowsingAPIKey == "":
		logger.Warn().Msgf("%s not set; blacklist rule will report not configured", config.EnvSafeBrowsingAPIKey)
	default:
		client, err := blacklist.New(ctx, blacklist.Options{
			APIKey:            cfg.SafeBrowsingAPIKey,
			ClientID:          cfg.Blacklist.ClientID,
			RequestsPerSecond: cfg.Blacklist.RequestsPerSecond,
			Burst:             cfg.Blacklist.Burst,
			MaxRetries:        cfg.Blacklist.MaxRetries,
			InitialBackoff:    cfg.Blacklist.InitialBackoff.Std(),
			Timeout:           cfg.FetchTimeout.Std(),
			Logger:            logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create blacklist client: %w", err)
		}
		checker = client
	}

	return rules.Default(rules.Deps{
		Fetcher:     fetcher,
		Engines:     engines,
		Blacklist:   checker,
		Weights:     cfg.Weights,
		Keywords:    cfg.Keywords,
		RuleTimeout: cfg.RuleTimeout.Std(),
	})
}

// buildEngines keeps the configured scrapers in config order and swaps in the
// Custom Search API for Google when credentials are present.
func buildEngines(ctx context.Context, cfg config.Config) ([]search.Engine, error) {
	client := &http.Client{Timeout: cfg.FetchTimeout.Std()}
	var engines []search.Engine
	for _, name := range cfg.SearchEngines {
		for _, e := range search.DefaultEngines(client) {
			if e.Name() == name {
				engines = append(engines, e)
			}
		}
	}

	if cfg.SearchAPIKey != "" && cfg.SearchCX != "" {
		cse, err := search.NewCustomSearchEngine(ctx, cfg.SearchAPIKey, cfg.SearchCX)
		if err != nil {
			return nil, err
		}
		engines = search.WithCustomSearch(engines, cse)
	}
	return engines, nil
}

// openLedger reuses the reports database connection when the ledger points at
// the same database, and opens cfg.Ledger on its own otherwise.
func openLedger(ctx context.Context, cfg config.Config, database *db.DB) (ledger.Store, error) {
	if database != nil && cfg.Ledger == cfg.DatabaseURL {
		return ledger.NewPostgres(database), nil
	}
	return ledger.Open(ctx, cfg.Ledger)
}

// buildSink opens the report file and, with a database, the Postgres sink.
// The returned close function closes the sinks; the database stays with the caller.
func buildSink(cfg config.Config, database *db.DB) (report.Sink, func() error, error) {
	var sinks report.Multi
	closeAll := func() error { return sinks.Close() }

	if cfg.Out != "" {
		fileSink, err := report.Open(cfg.Out)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open report: %w", err)
		}
		sinks = append(sinks, fileSink)
	}
	if database != nil {
		sinks = append(sinks, report.NewPostgresSink(database))
	}

	if len(sinks) == 0 {
		return nil, closeAll, nil
	}
	return sinks, closeAll, nil
}

// durationFlag adapts config.Duration to a pflag.Value.
type durationFlag struct {
	d *config.Duration
}

func (f durationFlag) String() string {
	if f.d == nil || *f.d == 0 {
		return ""
	}
	return f.d.Std().String()
}

func (f durationFlag) Set(s string) error {
	return f.d.UnmarshalJSON([]byte(fmt.Sprintf("%q", s)))
}

func (f durationFlag) Type() string {
	return "duration"
}
