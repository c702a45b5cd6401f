package curate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfeed/corpus-data/internal/config"
	"github.com/quantfeed/corpus-data/internal/dedupe"
	"github.com/quantfeed/corpus-data/internal/model"
	"github.com/quantfeed/corpus-data/internal/novelty"
	"github.com/quantfeed/corpus-data/internal/store"
	"github.com/quantfeed/corpus-data/internal/window"
)

// Anomaly flags attached to a day report.
const (
	AnomalyEmptyDay      = "empty_day"       // No documents survived the window filter
	AnomalyHighDupeRate  = "high_dupe_rate"  // More than half the day is duplicates
	AnomalyOutOfWindow   = "out_of_window"   // Filter audit found out-of-window survivors
	AnomalyEmptyRefWin   = "empty_reference" // Novelty scored against an empty reference window
)

// highDupeRateThreshold flags days where duplicates dominate.
const highDupeRateThreshold = 0.5

// DayReport summarizes the curation of one (day, source) partition.
type DayReport struct {
	Day           string
	Source        string
	RawCount      int     // Documents read from the raw partition
	InWindow      int     // Documents surviving the window filter
	Duplicates    int     // Cluster members marked is_dupe
	Clusters      int     // Multi-member clusters
	DupeRate      float64 // Duplicates / InWindow
	NoveltyMean   float64
	NoveltyMin    float64
	NoveltyMax    float64
	ReferenceSize int // Reference corpus size used for novelty
	Anomalies     []string
}

// Runner curates days against a store.
type Runner struct {
	cfg    config.CurationConfig
	st     store.Store
	enf    *window.Enforcer
	engine *dedupe.Engine
	logger *slog.Logger
	runID  string
}

// NewRunner builds a runner from config. The dedupe oracle defaults to
// the pairwise Hamming oracle at the configured threshold.
func NewRunner(cfg config.CurationConfig, st store.Store, runID string, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	enf, err := window.New(window.Config{
		Timezone:   cfg.Timezone,
		CutoffHour: cfg.CutoffHour,
		CutoffMin:  cfg.CutoffMinute,
		SafetyLag:  cfg.SafetyLag,
	})
	if err != nil {
		return nil, fmt.Errorf("build window enforcer: %w", err)
	}

	return &Runner{
		cfg:    cfg,
		st:     st,
		enf:    enf,
		engine: dedupe.NewEngine(dedupe.PairwiseOracle{Threshold: cfg.HammingThreshold}),
		logger: logger,
		runID:  runID,
	}, nil
}

// Run curates every listed day for the source, independent days in
// parallel. Reports come back sorted by day.
func (r *Runner) Run(ctx context.Context, days []string, source string) ([]DayReport, error) {
	var (
		mu      sync.Mutex
		reports []DayReport
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for _, day := range days {
		day := day
		g.Go(func() error {
			report, err := r.CurateDay(ctx, day, source)
			if err != nil {
				return fmt.Errorf("curate %s: %w", day, err)
			}
			mu.Lock()
			reports = append(reports, report)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return reports, err
	}

	sort.Slice(reports, func(i, j int) bool { return reports[i].Day < reports[j].Day })
	return reports, nil
}

// CurateDay runs the full pipeline for one (day, source) partition.
func (r *Runner) CurateDay(ctx context.Context, day, source string) (DayReport, error) {
	report := DayReport{Day: day, Source: source, NoveltyMin: 1, NoveltyMax: 0}

	// The membership window spans the cutoff boundary, so candidates
	// come from both the day's partition and the previous day's.
	docs, err := r.readCandidates(ctx, day, source)
	if err != nil {
		return report, err
	}
	report.RawCount = len(docs)

	winStart, winEnd, err := r.enf.Window(day)
	if err != nil {
		return report, err
	}

	filtered, err := r.enf.Filter(docs, day, window.Mode(r.cfg.Mode))
	if err != nil {
		return report, err
	}
	report.InWindow = len(filtered)

	// Audit: nothing outside the window may survive the filter.
	if outOfWindow, err := r.enf.ValidateCompliance(filtered, day); err == nil && outOfWindow > 0 {
		report.Anomalies = append(report.Anomalies, AnomalyOutOfWindow)
		r.logger.Error("window filter let out-of-window documents through",
			"day", day,
			"out_of_window", outOfWindow,
		)
	}

	if len(filtered) == 0 {
		report.Anomalies = append(report.Anomalies, AnomalyEmptyDay)
		report.NoveltyMin = 0
		if err := r.st.WriteCurated(ctx, day, source, nil); err != nil {
			return report, fmt.Errorf("write empty curated partition: %w", err)
		}
		if err := r.st.MarkCurationComplete(ctx, day, source, r.runID); err != nil {
			return report, fmt.Errorf("mark curation complete: %w", err)
		}
		return report, nil
	}

	assignments, clusters := r.engine.Cluster(day, filtered)

	scorer, refSize, err := r.buildScorer(ctx, day, source)
	if err != nil {
		return report, err
	}
	report.ReferenceSize = refSize
	if refSize == 0 {
		report.Anomalies = append(report.Anomalies, AnomalyEmptyRefWin)
	}

	byID := make(map[string]dedupe.Assignment, len(assignments))
	for _, a := range assignments {
		byID[a.NaturalID] = a
	}

	var noveltySum float64
	curated := make([]model.CuratedDocument, 0, len(filtered))
	for _, d := range filtered {
		a := byID[d.NaturalID]
		cd := model.CuratedDocument{
			RawDocument: d,
			IsDupe:      a.IsDupe,
			ClusterID:   a.ClusterID,
			WindowStart: winStart,
			WindowEnd:   winEnd,
		}
		if !a.IsDupe {
			rec := scorer.Score(d)
			cd.Novelty = rec.Novelty
			noveltySum += rec.Novelty
			if rec.Novelty < report.NoveltyMin {
				report.NoveltyMin = rec.Novelty
			}
			if rec.Novelty > report.NoveltyMax {
				report.NoveltyMax = rec.Novelty
			}
		} else {
			report.Duplicates++
		}
		curated = append(curated, cd)
	}

	for _, c := range clusters {
		if len(c.Members) > 1 {
			report.Clusters++
		}
	}

	leaders := len(curated) - report.Duplicates
	if leaders > 0 {
		report.NoveltyMean = noveltySum / float64(leaders)
	}
	report.DupeRate = float64(report.Duplicates) / float64(len(curated))
	if report.DupeRate > highDupeRateThreshold {
		report.Anomalies = append(report.Anomalies, AnomalyHighDupeRate)
	}

	if err := r.st.WriteCurated(ctx, day, source, curated); err != nil {
		return report, fmt.Errorf("write curated partition: %w", err)
	}
	if err := r.st.MarkCurationComplete(ctx, day, source, r.runID); err != nil {
		return report, fmt.Errorf("mark curation complete: %w", err)
	}

	r.logger.Info("day curated",
		"day", day,
		"source", source,
		"in_window", report.InWindow,
		"duplicates", report.Duplicates,
		"clusters", report.Clusters,
		"novelty_mean", report.NoveltyMean,
		"reference_size", report.ReferenceSize,
	)
	return report, nil
}

// readCandidates loads the raw partitions that can intersect the day's
// window: the day itself and the day before.
func (r *Runner) readCandidates(ctx context.Context, day, source string) ([]model.RawDocument, error) {
	t, err := time.Parse(model.DayFormat, day)
	if err != nil {
		return nil, fmt.Errorf("parse day %q: %w", day, err)
	}
	prevDay := t.AddDate(0, 0, -1).Format(model.DayFormat)

	prev, err := r.st.Read(ctx, prevDay, source)
	if err != nil {
		return nil, fmt.Errorf("read raw partition %s: %w", prevDay, err)
	}
	cur, err := r.st.Read(ctx, day, source)
	if err != nil {
		return nil, fmt.Errorf("read raw partition %s: %w", day, err)
	}
	return append(prev, cur...), nil
}

// buildScorer assembles the novelty reference from the curated leaders
// of the preceding window-days, strictly before the scored day.
func (r *Runner) buildScorer(ctx context.Context, day, source string) (*novelty.Scorer, int, error) {
	t, err := time.Parse(model.DayFormat, day)
	if err != nil {
		return nil, 0, fmt.Errorf("parse day %q: %w", day, err)
	}

	refEnd := t.AddDate(0, 0, -1)
	refStart := t.AddDate(0, 0, -r.cfg.WindowDays)

	reference, err := r.st.ReadCuratedLeaders(ctx, source,
		refStart.Format(model.DayFormat), refEnd.Format(model.DayFormat))
	if err != nil {
		return nil, 0, fmt.Errorf("read novelty reference: %w", err)
	}

	scorer := novelty.NewScorer(reference, refStart, refEnd.AddDate(0, 0, 1))
	return scorer, len(reference), nil
}
