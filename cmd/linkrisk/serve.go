package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/linkrisk/internal/config"
	"github.com/jonathan/linkrisk/internal/db"
	"github.com/jonathan/linkrisk/internal/observability"
	"github.com/jonathan/linkrisk/internal/server"
	"github.com/jonathan/linkrisk/internal/server/ratelimit"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP scoring API",
	Long: `Serves the stock rule set over HTTP.

Endpoints: POST /score, POST /batches, POST /batches/stream, GET /runs/{id}/reports, GET /reports/latest and GET /health.
Batches are stored when DATABASE_URL (or --db-url) is set. Bearer-token authentication is enabled when JWT_SECRET is set;
mint tokens with 'linkrisk token'. Rate limits are read from RATE_LIMIT_* environment variables.`,
	RunE: runServe,
}

var (
	serveAddr        string
	serveConfigPath  string
	serveDatabaseURL string
	serveJSONLogs    bool
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to config.json file")
	serveCmd.Flags().StringVar(&serveDatabaseURL, "db-url", "", "Database URL (optional, defaults to DATABASE_URL env var)")
	serveCmd.Flags().BoolVar(&serveJSONLogs, "json-logs", false, "Log JSON lines instead of console output")

	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Default()
	if serveConfigPath != "" {
		loaded, err := config.LoadConfig(serveConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loaded
	}
	if serveDatabaseURL != "" {
		cfg.DatabaseURL = serveDatabaseURL
	}
	cfg.JSONLogs = cfg.JSONLogs || serveJSONLogs
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(os.Stderr, cfg.Verbose, cfg.JSONLogs)

	ruleSet, err := buildRuleSet(ctx, cfg, &logger)
	if err != nil {
		return err
	}

	opts := server.Options{
		Addr:       serveAddr,
		Rules:      ruleSet,
		Thresholds: cfg.Thresholds,
		Workers:    cfg.Workers,
		RateLimit:  ratelimit.LoadConfig(),
		Logger:     &logger,
	}

	if cfg.DatabaseURL != "" {
		database, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()
		if err := database.EnsureSchema(ctx); err != nil {
			return err
		}
		opts.Store = database
	} else {
		logger.Warn().Msgf("%s not set; batches will not be stored", config.EnvDatabaseURL)
	}

	if os.Getenv(config.EnvJWTSecret) != "" {
		jwtCfg, err := config.NewJWTConfig()
		if err != nil {
			return err
		}
		opts.Tokens = server.NewJWTService(jwtCfg)
	} else {
		logger.Warn().Msgf("%s not set; API authentication disabled", config.EnvJWTSecret)
	}

	srv, err := server.New(opts)
	if err != nil {
		return err
	}
	return srv.Start(ctx)
}
