// Package novelty scores non-duplicate documents against a rolling
// reference window of prior days.
//
// Novelty is 1 minus the maximum content similarity between a document
// and any reference item, clipped to [0,1]; an empty reference window
// yields novelty 1. Similarity uses the same fingerprint measure as the
// dedupe package. The reference set is built strictly from days before
// the scored day's window and is assembled only after window filtering.
package novelty
