// Package dedupe detects near-duplicate documents within a single
// logical day and groups them into clusters with a leader.
//
// Text is normalized and reduced to a 64-bit SimHash over 3-gram
// shingles; two documents are near-duplicates when the Hamming distance
// between their fingerprints is at or below a threshold. Near-duplicate
// pairs form an undirected same-day graph whose connected components
// are clusters; the earliest-published member leads each cluster and
// every other member is flagged a duplicate.
//
// Similarity is abstracted behind the Oracle interface so a banding or
// LSH index can replace the naive pairwise scan without changing
// cluster or leader semantics.
package dedupe
