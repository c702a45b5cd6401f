package store

import (
	"context"
	"errors"

	"github.com/quantfeed/corpus-data/internal/model"
)

// ErrNotFound is returned when a requested partition has no rows.
var ErrNotFound = errors.New("store: not found")

// Store is the document persistence interface shared by the streaming
// session, the backfill fetcher, and the curator.
type Store interface {
	// Append inserts raw documents, skipping any whose natural_id already
	// exists in its (day, source) partition. Returns the number of rows
	// actually inserted. Re-appending an overlapping batch is a no-op for
	// the overlap.
	Append(ctx context.Context, docs []model.RawDocument) (int, error)

	// Read returns the raw documents of one (day, source) partition
	// ordered by published_at ascending, natural_id as tiebreak.
	Read(ctx context.Context, day, source string) ([]model.RawDocument, error)

	// Days lists the logical dates that have at least one raw document
	// for the source, ascending.
	Days(ctx context.Context, source string) ([]string, error)

	// HasDay reports whether the (day, source) raw partition is non-empty.
	HasDay(ctx context.Context, day, source string) (bool, error)

	// WriteCurated replaces the curated rows of a (day, source) partition.
	WriteCurated(ctx context.Context, day, source string, docs []model.CuratedDocument) error

	// ReadCurated returns the curated documents of one (day, source)
	// partition ordered by published_at ascending.
	ReadCurated(ctx context.Context, day, source string) ([]model.CuratedDocument, error)

	// ReadCuratedLeaders returns non-duplicate curated documents for the
	// source across [fromDay, toDay] inclusive, ordered by published_at.
	// This is the novelty reference corpus.
	ReadCuratedLeaders(ctx context.Context, source, fromDay, toDay string) ([]model.RawDocument, error)

	// MarkCurationComplete records that a (day, source) partition has been
	// fully curated by the given run.
	MarkCurationComplete(ctx context.Context, day, source, runID string) error

	// CurationComplete reports whether a (day, source) partition has a
	// completion record.
	CurationComplete(ctx context.Context, day, source string) (bool, error)

	// UpsertPriceBars writes daily bars, overwriting existing rows for the
	// same (day, symbol).
	UpsertPriceBars(ctx context.Context, bars []model.PriceBar) error
}
