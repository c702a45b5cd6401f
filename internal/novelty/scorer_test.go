package novelty

import (
	"testing"
	"time"

	"github.com/quantfeed/corpus-data/internal/model"
)

func doc(id, headline string) model.RawDocument {
	return model.RawDocument{
		NaturalID:   id,
		Headline:    headline,
		PublishedAt: time.Date(2024, 11, 5, 12, 0, 0, 0, time.UTC),
	}
}

func TestScorer_EmptyReferenceIsFullyNovel(t *testing.T) {
	s := NewScorer(nil, time.Time{}, time.Time{})

	rec := s.Score(doc("a", "Completely new story about markets"))
	if rec.Novelty != 1.0 {
		t.Errorf("novelty = %f, want 1.0 with empty reference", rec.Novelty)
	}
}

func TestScorer_RepeatedStoryScoresLow(t *testing.T) {
	refStart := time.Date(2024, 10, 29, 0, 0, 0, 0, time.UTC)
	refEnd := time.Date(2024, 11, 5, 0, 0, 0, 0, time.UTC)

	reference := []model.RawDocument{
		doc("r1", "Federal Reserve signals patience on interest rate cuts this year"),
		doc("r2", "Major airline cancels hundreds of flights ahead of winter storm"),
	}
	s := NewScorer(reference, refStart, refEnd)

	repeat := s.Score(doc("c1", "Federal Reserve signals patience on interest rate cuts this year"))
	fresh := s.Score(doc("c2", "Biotech startup reports breakthrough in early trial results"))

	if repeat.Novelty != 0.0 {
		t.Errorf("identical repeat novelty = %f, want 0.0", repeat.Novelty)
	}
	if fresh.Novelty <= repeat.Novelty {
		t.Errorf("fresh story novelty %f not above repeat %f", fresh.Novelty, repeat.Novelty)
	}
	if repeat.RefStart != refStart || repeat.RefEnd != refEnd {
		t.Error("reference window bounds not recorded on the novelty record")
	}
}

func TestScorer_NoveltyAlwaysInRange(t *testing.T) {
	reference := []model.RawDocument{
		doc("r1", "alpha beta gamma delta"),
	}
	s := NewScorer(reference, time.Time{}, time.Time{})

	inputs := []string{
		"",
		"alpha beta gamma delta",
		"completely unrelated text about sports scores and weather",
		"x",
	}

	for _, text := range inputs {
		rec := s.Score(doc("c", text))
		if rec.Novelty < 0 || rec.Novelty > 1 {
			t.Errorf("novelty %f for %q outside [0,1]", rec.Novelty, text)
		}
	}
}

func TestScorer_ScoreAll(t *testing.T) {
	s := NewScorer(nil, time.Time{}, time.Time{})
	recs := s.ScoreAll([]model.RawDocument{doc("a", "one"), doc("b", "two")})

	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].NaturalID != "a" || recs[1].NaturalID != "b" {
		t.Error("records out of order")
	}
}
