package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/quantfeed/corpus-data/internal/config"
	"github.com/quantfeed/corpus-data/internal/curate"
	"github.com/quantfeed/corpus-data/internal/database"
	"github.com/quantfeed/corpus-data/internal/model"
	"github.com/quantfeed/corpus-data/internal/store"
	"github.com/quantfeed/corpus-data/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/curator.local.yaml", "path to config file")
	startDay := flag.String("start", "", "first day to curate (YYYY-MM-DD)")
	endDay := flag.String("end", "", "last day to curate (YYYY-MM-DD)")
	source := flag.String("source", "", "document source (defaults to stream.source)")
	recurate := flag.Bool("recurate", false, "re-curate days already marked complete")
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

	runID := uuid.NewString()
	logger.Info("starting curator",
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

	src := *source
	if src == "" {
		src = cfg.Stream.Source
	}
	if src == "" {
		logger.Error("no source given and stream.source unset")
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

	days, err := listDays(ctx, st, *startDay, *endDay, src, *recurate, logger)
	if err != nil {
		logger.Error("failed to list days", "error", err)
		os.Exit(1)
	}
	if len(days) == 0 {
		logger.Info("nothing to curate")
		return
	}

	runner, err := curate.NewRunner(cfg.Curation, st, runID, logger)
	if err != nil {
		logger.Error("failed to build runner", "error", err)
		os.Exit(1)
	}

	logger.Info("curating days",
		"days", len(days),
		"source", src,
		"mode", cfg.Curation.Mode,
		"concurrency", cfg.Curation.Concurrency,
	)

	reports, err := runner.Run(ctx, days, src)
	for _, r := range reports {
		logger.Info("day report",
			"day", r.Day,
			"raw", r.RawCount,
			"in_window", r.InWindow,
			"duplicates", r.Duplicates,
			"clusters", r.Clusters,
			"dupe_rate", r.DupeRate,
			"novelty_mean", r.NoveltyMean,
			"novelty_min", r.NoveltyMin,
			"novelty_max", r.NoveltyMax,
			"reference_size", r.ReferenceSize,
			"anomalies", r.Anomalies,
		)
	}
	if err != nil {
		logger.Error("curation run failed", "error", err)
		os.Exit(1)
	}

	logger.Info("curator finished", "days_curated", len(reports))
}

// listDays expands the range, dropping days already marked complete
// unless -recurate is set.
func listDays(ctx context.Context, st store.Store, startDay, endDay, source string, recurate bool, logger *slog.Logger) ([]string, error) {
	start, err := time.Parse(model.DayFormat, startDay)
	if err != nil {
		return nil, err
	}
	end, err := time.Parse(model.DayFormat, endDay)
	if err != nil {
		return nil, err
	}

	var days []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		day := d.Format(model.DayFormat)
		if !recurate {
			done, err := st.CurationComplete(ctx, day, source)
			if err != nil {
				return nil, err
			}
			if done {
				logger.Info("skipping day already curated", "day", day)
				continue
			}
		}
		days = append(days, day)
	}
	return days, nil
}
