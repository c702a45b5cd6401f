package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/quantfeed/corpus-data/internal/config"
	"github.com/quantfeed/corpus-data/internal/credential"
	"github.com/quantfeed/corpus-data/internal/model"
	"github.com/quantfeed/corpus-data/internal/store"
)

// ErrAllCredentialsExhausted aborts a run when every credential has
// failed authentication.
var ErrAllCredentialsExhausted = errors.New("backfill: all credentials exhausted")

// errDayFailed marks a single day abandoned after retries; the run
// continues with the next day.
var errDayFailed = errors.New("backfill: day failed after retries")

// Report summarizes a backfill run.
type Report struct {
	RunID            string
	DaysSucceeded    []string
	DaysFailed       []string
	DaysSkipped      []string
	DocumentsFetched int64
	RequestsMade     int64
}

// Fetcher walks a calendar range and pulls paginated history into the
// store.
type Fetcher struct {
	cfg    config.BackfillConfig
	creds  *credential.Pool
	st     store.Store
	client PageClient
	cp     CheckpointStore
	logger *slog.Logger
	runID  string
}

// NewFetcher creates a fetcher. creds may be nil for unauthenticated
// providers.
func NewFetcher(
	cfg config.BackfillConfig,
	creds *credential.Pool,
	st store.Store,
	client PageClient,
	cp CheckpointStore,
	runID string,
	logger *slog.Logger,
) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		cfg:    cfg,
		creds:  creds,
		st:     st,
		client: client,
		cp:     cp,
		logger: logger,
		runID:  runID,
	}
}

// Run fetches [startDay, endDay] inclusive. A stored checkpoint takes
// precedence over startDay: completed days are not revisited and the
// current day resumes from its exact cursor.
func (f *Fetcher) Run(ctx context.Context, startDay, endDay string, symbols []string) (*Report, error) {
	days, err := daysBetween(startDay, endDay)
	if err != nil {
		return nil, err
	}

	report := &Report{RunID: f.runID}
	resumeDay, resumeCursor := "", ""
	failedBefore := make(map[string]bool)

	if cp, found, err := f.cp.Load(); err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	} else if found {
		resumeDay = cp.CurrentDay
		resumeCursor = cp.Cursor
		report.DocumentsFetched = cp.DocumentsFetched
		report.RequestsMade = cp.RequestsMade
		for _, d := range cp.DaysFailed {
			failedBefore[d] = true
		}
		f.logger.Info("resuming from checkpoint",
			"day", resumeDay,
			"cursor", resumeCursor,
			"requests_made", cp.RequestsMade,
			"days_failed", cp.DaysFailed,
		)
	}

	for _, day := range days {
		cursor := ""
		switch {
		case day == resumeDay && resumeCursor != "":
			cursor = resumeCursor

		case failedBefore[day]:
			// The store anti-join on natural_id makes a from-scratch
			// re-fetch of a partially stored day safe.
			f.logger.Info("re-attempting day failed in previous run", "day", day)

		case resumeDay != "" && day < resumeDay:
			report.DaysSkipped = append(report.DaysSkipped, day)
			continue

		default:
			// A day already in the store was fetched by an earlier run
			// or by the streaming session; leave it alone.
			exists, err := f.st.HasDay(ctx, day, f.cfg.Source)
			if err != nil {
				return report, fmt.Errorf("check existing day %s: %w", day, err)
			}
			if exists {
				f.logger.Info("skipping day already in store", "day", day)
				report.DaysSkipped = append(report.DaysSkipped, day)
				continue
			}
		}

		err := f.fetchDay(ctx, day, cursor, symbols, report)
		switch {
		case errors.Is(err, errDayFailed):
			report.DaysFailed = append(report.DaysFailed, day)
			f.logger.Error("abandoning day after retries", "day", day)
			// Record the failure now so a rerun re-attempts the day even
			// if no further checkpoint gets written.
			if err := f.saveCheckpoint(day, "", symbols, report); err != nil {
				f.logger.Warn("checkpoint save failed", "error", err)
			}
		case err != nil:
			return report, err
		default:
			report.DaysSucceeded = append(report.DaysSucceeded, day)
		}
	}

	if len(report.DaysFailed) == 0 {
		if err := f.cp.Delete(); err != nil {
			f.logger.Warn("failed to delete checkpoint", "error", err)
		}
	}

	f.logger.Info("backfill run finished",
		"succeeded", len(report.DaysSucceeded),
		"failed", len(report.DaysFailed),
		"skipped", len(report.DaysSkipped),
		"documents", report.DocumentsFetched,
		"requests", report.RequestsMade,
	)
	return report, nil
}

// fetchDay pulls every page of one day starting at cursor.
func (f *Fetcher) fetchDay(ctx context.Context, day, cursor string, symbols []string, report *Report) error {
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if attempt >= f.cfg.MaxRetryAttempts {
			return errDayFailed
		}

		cred, err := f.acquireCredential()
		if err != nil {
			// Every credential is cooling down; wait out the backoff.
			f.logger.Warn("no credential available", "day", day, "error", err)
			if err := f.sleepBackoff(ctx, attempt); err != nil {
				return err
			}
			attempt++
			continue
		}

		page, err := f.client.FetchPage(ctx, day, cursor, cred)
		report.RequestsMade++

		if err != nil {
			retry, fatal := f.classifyError(cred.ID, err)
			if fatal {
				return ErrAllCredentialsExhausted
			}
			if retry {
				// A fresh credential retries the same page for free.
				f.logger.Info("rotating credential", "day", day, "cursor", cursor)
				continue
			}
			f.logger.Warn("page fetch failed",
				"day", day,
				"cursor", cursor,
				"attempt", attempt,
				"error", err,
			)
			if err := f.sleepBackoff(ctx, attempt); err != nil {
				return err
			}
			attempt++
			continue
		}

		f.reportCredential(cred.ID, credential.OutcomeOK)
		attempt = 0

		inserted, err := f.st.Append(ctx, page.Documents)
		if err != nil {
			return fmt.Errorf("append day %s: %w", day, err)
		}
		report.DocumentsFetched += int64(len(page.Documents))

		f.logger.Debug("fetched page",
			"day", day,
			"documents", len(page.Documents),
			"inserted", inserted,
			"next_cursor", page.NextCursor,
		)

		cursor = page.NextCursor

		if report.RequestsMade%int64(f.cfg.CheckpointEvery) == 0 {
			if err := f.saveCheckpoint(day, cursor, symbols, report); err != nil {
				f.logger.Warn("checkpoint save failed", "error", err)
			}
		}

		if cursor == "" {
			return nil
		}
	}
}

// classifyError reports credential outcome and decides the retry path.
// retry means retry the same page immediately with a fresh credential;
// fatal aborts the whole run.
func (f *Fetcher) classifyError(credID string, err error) (retry, fatal bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		f.reportCredential(credID, credential.OutcomeTransient)
		return false, false
	}

	switch {
	case apiErr.IsQuotaExhausted():
		f.reportCredential(credID, credential.OutcomeQuotaExhausted)
		// Rotation is free only while another credential can serve.
		return f.creds != nil && !f.creds.AllExhausted(), false

	case apiErr.IsAuthFailure():
		f.reportCredential(credID, credential.OutcomeAuthFailed)
		if f.creds == nil || f.creds.AllExhausted() {
			return false, true
		}
		return true, false

	default:
		f.reportCredential(credID, credential.OutcomeTransient)
		return false, false
	}
}

func (f *Fetcher) saveCheckpoint(day, cursor string, symbols []string, report *Report) error {
	return f.cp.Save(model.Checkpoint{
		RunID:            f.runID,
		CurrentDay:       day,
		Cursor:           cursor,
		DocumentsFetched: report.DocumentsFetched,
		RequestsMade:     report.RequestsMade,
		Symbols:          symbols,
		DaysFailed:       report.DaysFailed,
	})
}

// sleepBackoff waits the jittered exponential delay for the attempt.
func (f *Fetcher) sleepBackoff(ctx context.Context, attempt int) error {
	backoff := f.cfg.RetryBaseDelay
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= f.cfg.RetryMaxDelay {
			backoff = f.cfg.RetryMaxDelay
			break
		}
	}

	// Jitter: backoff * (0.5 to 1.5)
	wait := backoff/2 + time.Duration(rand.Int63n(int64(backoff)))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

func (f *Fetcher) acquireCredential() (credential.Credential, error) {
	if f.creds == nil {
		return credential.Credential{}, nil
	}
	return f.creds.Acquire()
}

func (f *Fetcher) reportCredential(id string, outcome credential.Outcome) {
	if f.creds == nil || id == "" {
		return
	}
	f.creds.ReportResult(id, outcome)
}

// daysBetween lists calendar days from start to end inclusive.
func daysBetween(startDay, endDay string) ([]string, error) {
	start, err := time.Parse(model.DayFormat, startDay)
	if err != nil {
		return nil, fmt.Errorf("parse start day %q: %w", startDay, err)
	}
	end, err := time.Parse(model.DayFormat, endDay)
	if err != nil {
		return nil, fmt.Errorf("parse end day %q: %w", endDay, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end day %s before start day %s", endDay, startDay)
	}

	var days []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(model.DayFormat))
	}
	return days, nil
}
