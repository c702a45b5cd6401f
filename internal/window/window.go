package window

import (
	"fmt"
	"time"

	"github.com/quantfeed/corpus-data/internal/model"
)

// Mode selects how the upper window edge is enforced.
type Mode string

const (
	// ModeTraining drops documents within the safety lag of the window's
	// upper bound, emulating publish-to-availability delay.
	ModeTraining Mode = "training"

	// ModeInference applies no safety lag.
	ModeInference Mode = "inference"
)

// Enforcer computes membership windows and filters documents to them.
type Enforcer struct {
	loc       *time.Location // Business timezone of the cutoff
	hour, min int            // Cutoff wall-clock time
	safetyLag time.Duration  // Trailing margin for training mode
}

// Config configures an Enforcer. Defaults (15:30 America/New_York,
// 30m safety lag) are applied by the config package, not here, so a
// deliberate midnight cutoff stays a midnight cutoff.
type Config struct {
	Timezone   string        // Business timezone (default: America/New_York)
	CutoffHour int           // Cutoff hour, 0-23
	CutoffMin  int           // Cutoff minute, 0-59
	SafetyLag  time.Duration // Training safety lag
}

// New creates an Enforcer. The timezone must resolve; an unresolvable
// zone would silently corrupt every window, so it is an error here.
func New(cfg Config) (*Enforcer, error) {
	if cfg.Timezone == "" {
		cfg.Timezone = "America/New_York"
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load business timezone: %w", err)
	}
	return &Enforcer{
		loc:       loc,
		hour:      cfg.CutoffHour,
		min:       cfg.CutoffMin,
		safetyLag: cfg.SafetyLag,
	}, nil
}

// Cutoff returns the UTC instant of the cutoff boundary for the given
// logical day (DayFormat). DST is handled by constructing the wall-clock
// time in the business zone and converting.
func (e *Enforcer) Cutoff(day string) (time.Time, error) {
	d, err := time.ParseInLocation(model.DayFormat, day, e.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day %q: %w", day, err)
	}
	local := time.Date(d.Year(), d.Month(), d.Day(), e.hour, e.min, 0, 0, e.loc)
	return local.UTC(), nil
}

// Window returns the membership window (start, end] for the given day
// as UTC instants.
func (e *Enforcer) Window(day string) (start, end time.Time, err error) {
	d, err := time.ParseInLocation(model.DayFormat, day, e.loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse day %q: %w", day, err)
	}
	prev := d.AddDate(0, 0, -1).Format(model.DayFormat)

	start, err = e.Cutoff(prev)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err = e.Cutoff(day)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// SafetyLag returns the configured training-mode safety lag.
func (e *Enforcer) SafetyLag() time.Duration {
	return e.safetyLag
}

// Filter returns the documents whose published_at falls in day's
// membership window. In training mode, documents within the safety lag
// of the upper bound are additionally dropped. The input is not
// modified; order is preserved.
func (e *Enforcer) Filter(docs []model.RawDocument, day string, mode Mode) ([]model.RawDocument, error) {
	start, end, err := e.Window(day)
	if err != nil {
		return nil, err
	}

	upper := end
	if mode == ModeTraining {
		upper = end.Add(-e.safetyLag)
	}

	out := make([]model.RawDocument, 0, len(docs))
	for _, d := range docs {
		if d.PublishedAt.After(start) && !d.PublishedAt.After(upper) {
			out = append(out, d)
		}
	}
	return out, nil
}

// ValidateCompliance reports how many documents fall outside day's
// membership window. Used as an audit check on curated output.
func (e *Enforcer) ValidateCompliance(docs []model.RawDocument, day string) (outOfWindow int, err error) {
	start, end, err := e.Window(day)
	if err != nil {
		return 0, err
	}
	for _, d := range docs {
		if !d.PublishedAt.After(start) || d.PublishedAt.After(end) {
			outOfWindow++
		}
	}
	return outOfWindow, nil
}
