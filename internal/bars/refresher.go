package bars

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantfeed/corpus-data/internal/backfill"
	"github.com/quantfeed/corpus-data/internal/config"
	"github.com/quantfeed/corpus-data/internal/credential"
	"github.com/quantfeed/corpus-data/internal/model"
	"github.com/quantfeed/corpus-data/internal/store"
)

// Refresher periodically fetches the current business day's bars for
// the configured symbols and upserts them. Reruns within a session
// overwrite earlier values, so intraday refreshes converge on the
// final close.
type Refresher struct {
	cfg    config.BarsConfig
	client BarClient
	creds  *credential.Pool // nil for unauthenticated feeds
	st     store.Store
	loc    *time.Location
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// NewRefresher creates a refresher. loc is the business timezone used
// to pick the current day.
func NewRefresher(cfg config.BarsConfig, client BarClient, creds *credential.Pool, st store.Store, loc *time.Location, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Refresher{
		cfg:    cfg,
		client: client,
		creds:  creds,
		st:     st,
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}
}

// Start begins the refresh loop.
func (r *Refresher) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run()

	r.logger.Info("bar refresher started",
		"symbols", len(r.cfg.Symbols),
		"interval", r.cfg.Interval,
		"concurrency", r.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the refresher.
func (r *Refresher) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("bar refresher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main refresh loop.
func (r *Refresher) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	// Refresh immediately on start.
	r.RefreshDay(r.ctx, r.now().In(r.loc).Format(model.DayFormat))

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.RefreshDay(r.ctx, r.now().In(r.loc).Format(model.DayFormat))
		}
	}
}

// RefreshDay fetches bars for every configured symbol concurrently and
// upserts the ones that succeeded.
func (r *Refresher) RefreshDay(ctx context.Context, day string) {
	start := time.Now()

	cred, ok := r.acquireCredential()
	if !ok {
		return
	}

	// Semaphore for bounded concurrency.
	sem := make(chan struct{}, r.cfg.Concurrency)
	var wg sync.WaitGroup
	var fetchErrors atomic.Int64

	var mu sync.Mutex
	bars := make([]model.PriceBar, 0, len(r.cfg.Symbols))

	for _, symbol := range r.cfg.Symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()

			// Acquire semaphore slot.
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			bar, err := r.fetchBar(ctx, symbol, day, cred)
			if err != nil {
				r.logger.Warn("failed to fetch bar",
					"symbol", symbol,
					"day", day,
					"err", err,
				)
				fetchErrors.Add(1)
				return
			}

			mu.Lock()
			bars = append(bars, bar)
			mu.Unlock()
		}(symbol)
	}

	wg.Wait()

	if len(bars) > 0 {
		if err := r.st.UpsertPriceBars(ctx, bars); err != nil {
			r.logger.Error("failed to upsert bars", "day", day, "err", err)
			return
		}
	}

	r.logger.Info("bar refresh complete",
		"day", day,
		"symbols", len(r.cfg.Symbols),
		"upserted", len(bars),
		"errors", fetchErrors.Load(),
		"duration", time.Since(start),
	)
}

// fetchBar fetches a single symbol's bar and reports the credential
// outcome back to the pool.
func (r *Refresher) fetchBar(ctx context.Context, symbol, day string, cred credential.Credential) (model.PriceBar, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	bar, err := r.client.FetchDaily(ctx, symbol, day, cred)
	if r.creds != nil && cred.ID != "" {
		r.creds.ReportResult(cred.ID, outcomeFor(err))
	}
	if err != nil {
		return model.PriceBar{}, err
	}
	return bar, nil
}

func (r *Refresher) acquireCredential() (credential.Credential, bool) {
	if r.creds == nil {
		return credential.Credential{}, true
	}
	cred, err := r.creds.Acquire()
	if err != nil {
		r.logger.Warn("skipping bar refresh, no credential available", "err", err)
		return credential.Credential{}, false
	}
	return cred, true
}

func outcomeFor(err error) credential.Outcome {
	if err == nil {
		return credential.OutcomeOK
	}
	var apiErr *backfill.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsQuotaExhausted():
			return credential.OutcomeQuotaExhausted
		case apiErr.IsAuthFailure():
			return credential.OutcomeAuthFailed
		}
	}
	return credential.OutcomeTransient
}
