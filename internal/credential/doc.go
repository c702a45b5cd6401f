// Package credential manages a pool of rate-limited provider
// credentials shared by streaming sessions and backfill workers.
//
// The pool rotates credentials round-robin or least-used, tracks daily
// usage per credential, and places a credential in cooldown until the
// provider's daily reset boundary after a quota-exhaustion report.
// Acquisition failures are always transient: callers wait or defer,
// they never treat the pool as permanently failed.
//
// Synchronization is per credential. The pool-level lock covers only
// rotation bookkeeping and is never held across I/O.
package credential
