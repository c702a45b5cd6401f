// Package bars periodically refreshes daily OHLCV price bars from the
// provider's REST endpoint and upserts them into the document store.
// Bars are overwrite-on-refresh and bypass the curation pipeline.
package bars
