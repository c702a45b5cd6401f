package model

import (
	"testing"
	"time"
)

func TestRawDocument_PartitionDay(t *testing.T) {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	// 01:30 UTC on Nov 6 is still Nov 5 in New York.
	doc := RawDocument{
		PublishedAt: time.Date(2024, 11, 6, 1, 30, 0, 0, time.UTC),
	}

	if got := doc.PartitionDay(et); got != "2024-11-05" {
		t.Errorf("PartitionDay = %s, want 2024-11-05", got)
	}
	if got := doc.PartitionDay(time.UTC); got != "2024-11-06" {
		t.Errorf("PartitionDay UTC = %s, want 2024-11-06", got)
	}
}

func TestRawDocument_ClockSkewed(t *testing.T) {
	received := time.Date(2024, 11, 5, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		publishedAt time.Time
		want        bool
	}{
		{"published before received", received.Add(-time.Minute), false},
		{"published equal", received, false},
		{"within tolerance", received.Add(20 * time.Second), false},
		{"beyond tolerance", received.Add(45 * time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := RawDocument{PublishedAt: tt.publishedAt, ReceivedAt: received}
			if got := doc.ClockSkewed(); got != tt.want {
				t.Errorf("ClockSkewed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFallbackNaturalID_Deterministic(t *testing.T) {
	at := time.Date(2024, 11, 5, 9, 0, 0, 0, time.UTC)

	a := FallbackNaturalID("Fed holds rates", "benzinga", at)
	b := FallbackNaturalID("Fed holds rates", "benzinga", at)
	c := FallbackNaturalID("Fed holds rates", "reuters", at)

	if a != b {
		t.Errorf("same inputs produced different ids: %s vs %s", a, b)
	}
	if a == c {
		t.Error("different sources produced the same id")
	}
	if len(a) != 40 {
		t.Errorf("id length = %d, want 40 hex chars", len(a))
	}
}

func TestRawDocument_Text(t *testing.T) {
	doc := RawDocument{Headline: "Headline only"}
	if got := doc.Text(); got != "Headline only" {
		t.Errorf("Text() = %q", got)
	}

	doc.Summary = "with summary"
	if got := doc.Text(); got != "Headline only with summary" {
		t.Errorf("Text() = %q", got)
	}
}
