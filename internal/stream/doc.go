// Package stream maintains a resilient WebSocket ingest session
// against a document feed provider.
//
// The session owns the connect/authenticate/subscribe lifecycle,
// reconnects with jittered exponential backoff, buffers documents
// deduplicated by natural_id, and hands flushed batches to the store
// through an in-process queue so the read loop never blocks on
// persistence. Malformed frames land in a rejects sink instead of
// killing the session.
package stream
