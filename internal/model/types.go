package model

import (
	"crypto/sha1"
	"encoding/hex"
	"time"
)

// DayFormat is the layout for logical calendar dates used as partition keys.
const DayFormat = "2006-01-02"

// ClockSkewTolerance is the allowed margin by which published_at may
// exceed received_at before a document is flagged as skewed.
const ClockSkewTolerance = 30 * time.Second

// -----------------------------------------------------------------------------
// Documents
// -----------------------------------------------------------------------------

// RawDocument is a single time-stamped feed item (news article, social
// post) as acquired from a provider. Immutable once persisted.
type RawDocument struct {
	NaturalID   string    // Provider-assigned idempotency key (unique per day/source partition)
	PublishedAt time.Time // Provider publish instant (UTC)
	ReceivedAt  time.Time // Local receive instant (UTC)
	Source      string    // Provider name (e.g. "alpaca", "reddit")
	Symbols     []string  // Tagged symbols/topics
	Headline    string    // Title text
	Summary     string    // Body/summary text (may be empty)
	URL         string    // Canonical link (may be empty)
	Raw         []byte    // Original provider payload, kept for audit
	RunID       string    // Ingestion run identifier
}

// Text returns the content used for fingerprinting: headline plus summary.
func (d RawDocument) Text() string {
	if d.Summary == "" {
		return d.Headline
	}
	return d.Headline + " " + d.Summary
}

// PartitionDay returns the logical calendar date of the document in the
// given business timezone.
func (d RawDocument) PartitionDay(loc *time.Location) string {
	return d.PublishedAt.In(loc).Format(DayFormat)
}

// ClockSkewed reports whether published_at exceeds received_at by more
// than the skew tolerance. Skewed documents are flagged, never dropped.
func (d RawDocument) ClockSkewed() bool {
	return d.PublishedAt.After(d.ReceivedAt.Add(ClockSkewTolerance))
}

// FallbackNaturalID derives an idempotency key for documents whose
// provider omits an id: SHA-1 over headline, source, and publish instant.
func FallbackNaturalID(headline, source string, publishedAt time.Time) string {
	h := sha1.Sum([]byte(headline + source + publishedAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h[:])
}

// CuratedDocument is a RawDocument after window filtering, clustering,
// and novelty scoring.
type CuratedDocument struct {
	RawDocument

	IsDupe      bool      // True for every cluster member except the leader
	ClusterID   string    // Leader's natural_id (= own id for singletons and leaders)
	Novelty     float64   // In [0,1]; meaningful only when IsDupe is false
	WindowStart time.Time // Membership window lower bound (exclusive), UTC
	WindowEnd   time.Time // Membership window upper bound (inclusive), UTC
}

// -----------------------------------------------------------------------------
// Price bars
// -----------------------------------------------------------------------------

// PriceBar is a daily OHLCV bar. Bars follow a simpler
// overwrite-on-refresh path and are not subject to dedup or novelty.
type PriceBar struct {
	Day    string  // Logical date (DayFormat)
	Symbol string  // Instrument symbol
	Open   float64 // Opening price
	High   float64 // Session high
	Low    float64 // Session low
	Close  float64 // Closing price
	Volume int64   // Share/contract volume
}

// -----------------------------------------------------------------------------
// Backfill checkpoints
// -----------------------------------------------------------------------------

// Checkpoint is the resumable state of a backfill run. It is persisted
// every K requests and deleted on full-range success.
type Checkpoint struct {
	RunID            string   `json:"run_id"`
	CurrentDay       string   `json:"current_day"`       // Day being fetched (DayFormat)
	Cursor           string   `json:"cursor"`            // Pagination token within CurrentDay ("" = first page)
	DocumentsFetched int64    `json:"documents_fetched"` // Running total for the run
	RequestsMade     int64    `json:"requests_made"`     // Running total for the run
	Symbols          []string `json:"symbols"`           // Topic set the run was started with
	DaysFailed       []string `json:"days_failed,omitempty"` // Days abandoned after retries, re-attempted on resume
}

// -----------------------------------------------------------------------------
// Curation outputs
// -----------------------------------------------------------------------------

// Cluster groups same-day near-duplicate documents. The cluster id is
// the leader's natural_id; the leader is the member with the minimum
// published_at.
type Cluster struct {
	ID      string   // Leader natural_id
	Day     string   // Logical date (DayFormat)
	Members []string // All member natural_ids, leader included
}

// NoveltyRecord is the novelty score of a non-duplicate document
// against a rolling reference window of prior days.
type NoveltyRecord struct {
	NaturalID string
	Novelty   float64   // In [0,1]; 1 when the reference window is empty
	RefStart  time.Time // Reference window lower bound (UTC)
	RefEnd    time.Time // Reference window upper bound (UTC, exclusive)
}
