// Package store persists raw and curated documents partitioned by
// logical date and source.
//
// Appends are idempotent: within a (day, source) partition the
// natural_id is the sole identity key, so overlapping writes from the
// streaming session and the backfill fetcher converge to one row per
// document. Raw rows are immutable once written; curated rows are
// replaced wholesale when a day is re-curated.
package store
