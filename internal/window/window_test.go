package window

import (
	"testing"
	"time"

	"github.com/quantfeed/corpus-data/internal/model"
)

func newTestEnforcer(t *testing.T, cfg Config) *Enforcer {
	t.Helper()
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func docAt(id string, published time.Time) model.RawDocument {
	return model.RawDocument{
		NaturalID:   id,
		PublishedAt: published,
		ReceivedAt:  published,
	}
}

func TestEnforcer_Window(t *testing.T) {
	e := newTestEnforcer(t, Config{Timezone: "America/New_York", CutoffHour: 15, CutoffMin: 30})

	start, end, err := e.Window("2024-11-05")
	if err != nil {
		t.Fatalf("Window: %v", err)
	}

	// Nov 4-5 2024 are EST (UTC-5): 15:30 ET = 20:30 UTC.
	wantStart := time.Date(2024, 11, 4, 20, 30, 0, 0, time.UTC)
	wantEnd := time.Date(2024, 11, 5, 20, 30, 0, 0, time.UTC)

	if !start.Equal(wantStart) {
		t.Errorf("start = %v, want %v", start, wantStart)
	}
	if !end.Equal(wantEnd) {
		t.Errorf("end = %v, want %v", end, wantEnd)
	}
}

func TestEnforcer_Window_DSTTransition(t *testing.T) {
	e := newTestEnforcer(t, Config{Timezone: "America/New_York", CutoffHour: 15, CutoffMin: 30})

	// US DST ended 2024-11-03: Nov 1 is EDT (UTC-4), Nov 4 is EST (UTC-5).
	before, err := e.Cutoff("2024-11-01")
	if err != nil {
		t.Fatalf("Cutoff: %v", err)
	}
	after, err := e.Cutoff("2024-11-04")
	if err != nil {
		t.Fatalf("Cutoff: %v", err)
	}

	if before.Hour() != 19 {
		t.Errorf("EDT cutoff hour = %d UTC, want 19", before.Hour())
	}
	if after.Hour() != 20 {
		t.Errorf("EST cutoff hour = %d UTC, want 20", after.Hour())
	}
}

func TestEnforcer_Filter_WindowBounds(t *testing.T) {
	e := newTestEnforcer(t, Config{Timezone: "America/New_York", CutoffHour: 15, CutoffMin: 30})

	start := time.Date(2024, 11, 4, 20, 30, 0, 0, time.UTC)
	end := time.Date(2024, 11, 5, 20, 30, 0, 0, time.UTC)

	docs := []model.RawDocument{
		docAt("at-start", start),                  // Excluded: lower bound is exclusive
		docAt("after-start", start.Add(time.Second)),
		docAt("mid", start.Add(12*time.Hour)),
		docAt("at-end", end),                      // Included: upper bound is inclusive
		docAt("after-end", end.Add(time.Second)), // Excluded: leak
	}

	got, err := e.Filter(docs, "2024-11-05", ModeInference)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}

	want := []string{"after-start", "mid", "at-end"}
	if len(got) != len(want) {
		t.Fatalf("got %d docs, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].NaturalID != id {
			t.Errorf("doc[%d] = %s, want %s", i, got[i].NaturalID, id)
		}
	}
}

func TestEnforcer_Filter_TrainingSafetyLag(t *testing.T) {
	// Cutoff at the day boundary with a 30-minute safety lag.
	e := newTestEnforcer(t, Config{
		Timezone:  "UTC",
		SafetyLag: 30 * time.Minute,
	})

	end := time.Date(2024, 11, 6, 0, 0, 0, 0, time.UTC)

	// Published 10 minutes before cutoff: inside the raw window, inside
	// the safety lag.
	late := docAt("late", end.Add(-10*time.Minute))
	early := docAt("early", end.Add(-2*time.Hour))

	training, err := e.Filter([]model.RawDocument{late, early}, "2024-11-06", ModeTraining)
	if err != nil {
		t.Fatalf("Filter training: %v", err)
	}
	if len(training) != 1 || training[0].NaturalID != "early" {
		t.Errorf("training mode kept %v, want only early", ids(training))
	}

	inference, err := e.Filter([]model.RawDocument{late, early}, "2024-11-06", ModeInference)
	if err != nil {
		t.Fatalf("Filter inference: %v", err)
	}
	if len(inference) != 2 {
		t.Errorf("inference mode kept %v, want both", ids(inference))
	}
}

func TestEnforcer_ValidateCompliance(t *testing.T) {
	e := newTestEnforcer(t, Config{Timezone: "America/New_York", CutoffHour: 15, CutoffMin: 30})

	end := time.Date(2024, 11, 5, 20, 30, 0, 0, time.UTC)
	docs := []model.RawDocument{
		docAt("in", end.Add(-time.Hour)),
		docAt("leak", end.Add(time.Hour)),
	}

	out, err := e.ValidateCompliance(docs, "2024-11-05")
	if err != nil {
		t.Fatalf("ValidateCompliance: %v", err)
	}
	if out != 1 {
		t.Errorf("outOfWindow = %d, want 1", out)
	}
}

func TestNew_BadTimezone(t *testing.T) {
	if _, err := New(Config{Timezone: "Mars/Olympus"}); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func ids(docs []model.RawDocument) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.NaturalID
	}
	return out
}
