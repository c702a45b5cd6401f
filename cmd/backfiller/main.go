package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/quantfeed/corpus-data/internal/backfill"
	"github.com/quantfeed/corpus-data/internal/config"
	"github.com/quantfeed/corpus-data/internal/credential"
	"github.com/quantfeed/corpus-data/internal/database"
	"github.com/quantfeed/corpus-data/internal/store"
	"github.com/quantfeed/corpus-data/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/backfiller.local.yaml", "path to config file")
	startDay := flag.String("start", "", "first day to fetch (YYYY-MM-DD)")
	endDay := flag.String("end", "", "last day to fetch (YYYY-MM-DD)")
	symbols := flag.String("symbols", "", "comma-separated symbol filter (optional)")
	resumeRunID := flag.String("run-id", "", "resume an interrupted run by its id")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	_ = godotenv.Load()

	if *startDay == "" || *endDay == "" {
		logger.Error("both -start and -end are required")
		os.Exit(1)
	}

	runID := *resumeRunID
	if runID == "" {
		runID = uuid.NewString()
	}

	logger.Info("starting backfiller",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"run_id", runID,
		"start", *startDay,
		"end", *endDay,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	loc, err := time.LoadLocation(cfg.Curation.Timezone)
	if err != nil {
		logger.Error("failed to load business timezone", "error", err)
		os.Exit(1)
	}

	st := store.NewPostgres(pool, loc)
	if err := st.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}

	creds, err := buildCredentialPool(cfg, logger)
	if err != nil {
		logger.Error("failed to build credential pool", "error", err)
		os.Exit(1)
	}

	var client backfill.PageClient
	switch cfg.Backfill.Provider {
	case "social":
		client = backfill.NewSocialPageClient(
			cfg.Backfill.URL,
			cfg.Backfill.Source,
			cfg.Backfill.PageSize,
			cfg.Backfill.Subreddits,
			cfg.Backfill.UserAgent,
			cfg.Backfill.TargetRPS,
			backfill.WithSocialLogger(logger),
			backfill.WithSocialTimeout(cfg.Backfill.RequestTimeout),
		)
	default:
		client = backfill.NewHTTPPageClient(
			cfg.Backfill.URL,
			cfg.Backfill.Source,
			cfg.Backfill.PageSize,
			backfill.WithLogger(logger),
			backfill.WithTimeout(cfg.Backfill.RequestTimeout),
		)
	}

	checkpoints := backfill.NewFileCheckpointStore(cfg.Backfill.CheckpointDir, runID)
	fetcher := backfill.NewFetcher(cfg.Backfill, creds, st, client, checkpoints, runID, logger)

	var symbolList []string
	if *symbols != "" {
		symbolList = strings.Split(*symbols, ",")
	}

	report, err := fetcher.Run(ctx, *startDay, *endDay, symbolList)
	if err != nil {
		logger.Error("backfill run aborted",
			"error", err,
			"run_id", runID,
			"checkpoint", checkpoints.Path(),
		)
		os.Exit(1)
	}

	logger.Info("backfill report",
		"run_id", report.RunID,
		"days_succeeded", report.DaysSucceeded,
		"days_failed", report.DaysFailed,
		"days_skipped", report.DaysSkipped,
		"documents_fetched", report.DocumentsFetched,
		"requests_made", report.RequestsMade,
	)

	if len(report.DaysFailed) > 0 {
		logger.Warn("some days failed; rerun with the same -run-id to resume",
			"run_id", runID,
			"checkpoint", checkpoints.Path(),
		)
		os.Exit(1)
	}
}

func buildCredentialPool(cfg *config.Config, logger *slog.Logger) (*credential.Pool, error) {
	if cfg.Credentials.EnvPrefix == "" {
		return nil, nil
	}

	creds, err := credential.LoadFromEnv(cfg.Credentials.EnvPrefix, cfg.Credentials.MaxKeys)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		logger.Warn("no credentials found in environment", "prefix", cfg.Credentials.EnvPrefix)
		return nil, nil
	}

	resetLoc, err := time.LoadLocation(cfg.Credentials.ResetTimezone)
	if err != nil {
		return nil, err
	}

	return credential.NewPool(creds, credential.Config{
		Strategy:      credential.Strategy(cfg.Credentials.Strategy),
		QuotaPerDay:   cfg.Credentials.QuotaPerDay,
		ResetLocation: resetLoc,
	}, logger)
}
