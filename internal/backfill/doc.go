// Package backfill fetches historical documents day by day through a
// paginated provider API.
//
// The fetcher walks a calendar range, pulls pages with a cursor, and
// appends each page to the store. Progress is checkpointed every K
// requests so an interrupted run resumes from the exact cursor; the
// natural_id anti-join in the store makes the overlap harmless. Days
// already present in the store are skipped, and days abandoned after
// retries are recorded in the checkpoint and re-attempted on resume.
// Quota exhaustion rotates to another credential before it costs a
// retry attempt.
//
// Two page clients implement the PageClient interface: HTTPPageClient
// for the authenticated news wire, and SocialPageClient for the public
// forum archive.
package backfill
