// Package database provides connection pool management for PostgreSQL.
//
// A single pool backs the document store: raw_documents, curated_documents,
// price_bars, and curation_runs all live in one database.
package database
