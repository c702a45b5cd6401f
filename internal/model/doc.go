// Package model defines the core value types shared across acquisition
// and curation: raw feed documents, price bars, backfill checkpoints,
// duplicate clusters, and novelty records.
//
// All timestamps are UTC instants. Partitioning uses the logical
// calendar date of published_at in the business timezone, formatted as
// DayFormat ("YYYY-MM-DD").
package model
