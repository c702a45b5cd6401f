// Package curate runs the per-day curation pipeline: window filtering,
// near-duplicate clustering, and novelty scoring, writing the result
// back as the day's curated partition.
//
// Independent days run in parallel; each day is read, curated, and
// marked complete as a unit, so a re-run of any day is idempotent.
package curate
