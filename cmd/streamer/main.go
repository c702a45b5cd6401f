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

	"github.com/quantfeed/corpus-data/internal/bars"
	"github.com/quantfeed/corpus-data/internal/config"
	"github.com/quantfeed/corpus-data/internal/credential"
	"github.com/quantfeed/corpus-data/internal/database"
	"github.com/quantfeed/corpus-data/internal/store"
	"github.com/quantfeed/corpus-data/internal/stream"
	"github.com/quantfeed/corpus-data/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/streamer.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	// Local .env files carry credentials in development
	_ = godotenv.Load()

	runID := uuid.NewString()
	logger.Info("starting streamer",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"run_id", runID,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"stream_url", cfg.Stream.URL,
		"source", cfg.Stream.Source,
	)

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
	logger.Info("database connected")

	creds, err := buildCredentialPool(cfg, logger)
	if err != nil {
		logger.Error("failed to build credential pool", "error", err)
		os.Exit(1)
	}

	factory := func() stream.Transport {
		return stream.NewTransport(stream.TransportConfig{
			URL:          cfg.Stream.URL,
			PingTimeout:  cfg.Stream.PingTimeout,
			WriteTimeout: cfg.Stream.WriteTimeout,
			BufferSize:   cfg.Stream.FlushSize * 4,
		}, logger)
	}

	session := stream.NewSession(cfg.Stream, creds, st, factory, runID, logger)
	if err := session.Start(ctx); err != nil {
		logger.Error("failed to start session", "error", err)
		os.Exit(1)
	}

	// Optional price bar refresher alongside the document stream.
	var refresher *bars.Refresher
	if cfg.Bars.URL != "" {
		barClient := bars.NewHTTPBarClient(cfg.Bars.URL,
			bars.WithLogger(logger),
			bars.WithTimeout(cfg.Bars.Timeout),
		)
		refresher = bars.NewRefresher(cfg.Bars, barClient, creds, st, loc, logger)
		if err := refresher.Start(ctx); err != nil {
			logger.Error("failed to start bar refresher", "error", err)
			os.Exit(1)
		}
	}

	// Rejected frames are logged, never silently dropped.
	go func() {
		for r := range session.Rejects() {
			logger.Warn("rejected frame",
				"class", r.Class,
				"error", r.Err,
				"received_at", r.ReceivedAt,
			)
		}
	}()

	// Periodic operator stats
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := session.Stats()
				logger.Info("session stats",
					"state", s.State.String(),
					"received", s.Received,
					"documents", s.Documents,
					"rejected", s.Rejected,
					"skew_flagged", s.SkewFlagged,
					"flushes", s.Flushes,
					"reconnects", s.Reconnects,
					"watermark", s.Watermark,
				)
			}
		}
	}()

	logger.Info("streamer running", "instance_id", cfg.Instance.ID)

	<-ctx.Done()

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := session.Stop(shutdownCtx); err != nil {
		logger.Error("session stop failed", "error", err)
	}
	if refresher != nil {
		if err := refresher.Stop(shutdownCtx); err != nil {
			logger.Error("bar refresher stop failed", "error", err)
		}
	}

	logger.Info("streamer stopped")
}

// buildCredentialPool loads numbered keys from the environment. A feed
// without credentials gets a nil pool.
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
