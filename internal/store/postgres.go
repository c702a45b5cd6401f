package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfeed/corpus-data/internal/model"
)

// serializationFailure is the Postgres SQLSTATE for tx conflicts under
// SERIALIZABLE/REPEATABLE READ.
const serializationFailure = "40001"

const appendRetries = 3

// Postgres is the production Store backed by a pgx connection pool.
type Postgres struct {
	db  *pgxpool.Pool
	loc *time.Location
}

// NewPostgres wraps a pool. Partition days are derived from published_at
// in the given business timezone; nil means UTC.
func NewPostgres(db *pgxpool.Pool, loc *time.Location) *Postgres {
	if loc == nil {
		loc = time.UTC
	}
	return &Postgres{db: db, loc: loc}
}

// EnsureSchema creates the document store tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS raw_documents (
			day          date        NOT NULL,
			source       text        NOT NULL,
			natural_id   text        NOT NULL,
			published_at timestamptz NOT NULL,
			received_at  timestamptz NOT NULL,
			symbols      text[],
			headline     text        NOT NULL,
			summary      text,
			url          text,
			raw          bytea,
			run_id       text,
			PRIMARY KEY (day, source, natural_id)
		)`,
		`CREATE TABLE IF NOT EXISTS curated_documents (
			day          date             NOT NULL,
			source       text             NOT NULL,
			natural_id   text             NOT NULL,
			published_at timestamptz      NOT NULL,
			received_at  timestamptz      NOT NULL,
			symbols      text[],
			headline     text             NOT NULL,
			summary      text,
			url          text,
			run_id       text,
			is_dupe      boolean          NOT NULL,
			cluster_id   text             NOT NULL,
			novelty      double precision NOT NULL,
			window_start timestamptz      NOT NULL,
			window_end   timestamptz      NOT NULL,
			PRIMARY KEY (day, source, natural_id)
		)`,
		`CREATE TABLE IF NOT EXISTS curation_runs (
			day          date        NOT NULL,
			source       text        NOT NULL,
			run_id       text        NOT NULL,
			completed_at timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (day, source)
		)`,
		`CREATE TABLE IF NOT EXISTS price_bars (
			day    date             NOT NULL,
			symbol text             NOT NULL,
			open   double precision NOT NULL,
			high   double precision NOT NULL,
			low    double precision NOT NULL,
			close  double precision NOT NULL,
			volume bigint           NOT NULL,
			PRIMARY KEY (day, symbol)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) Append(ctx context.Context, docs []model.RawDocument) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	var inserted int
	var err error
	for attempt := 0; attempt < appendRetries; attempt++ {
		inserted, err = p.appendOnce(ctx, docs)
		if err == nil || !isSerializationFailure(err) {
			return inserted, err
		}
	}
	return 0, fmt.Errorf("append after %d attempts: %w", appendRetries, err)
}

func (p *Postgres) appendOnce(ctx context.Context, docs []model.RawDocument) (int, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, d := range docs {
		batch.Queue(`
			INSERT INTO raw_documents
				(day, source, natural_id, published_at, received_at, symbols, headline, summary, url, raw, run_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (day, source, natural_id) DO NOTHING
		`, d.PartitionDay(p.loc), d.Source, d.NaturalID, d.PublishedAt, d.ReceivedAt,
			d.Symbols, d.Headline, d.Summary, d.URL, d.Raw, d.RunID)
	}

	results := tx.SendBatch(ctx, batch)
	inserted := 0
	for range docs {
		ct, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, fmt.Errorf("insert raw document: %w", err)
		}
		inserted += int(ct.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

func (p *Postgres) Read(ctx context.Context, day, source string) ([]model.RawDocument, error) {
	rows, err := p.db.Query(ctx, `
		SELECT natural_id, published_at, received_at, source, symbols, headline,
		       COALESCE(summary, ''), COALESCE(url, ''), raw, COALESCE(run_id, '')
		FROM raw_documents
		WHERE day = $1 AND source = $2
		ORDER BY published_at, natural_id
	`, day, source)
	if err != nil {
		return nil, fmt.Errorf("read partition: %w", err)
	}
	defer rows.Close()

	var out []model.RawDocument
	for rows.Next() {
		var d model.RawDocument
		if err := rows.Scan(&d.NaturalID, &d.PublishedAt, &d.ReceivedAt, &d.Source,
			&d.Symbols, &d.Headline, &d.Summary, &d.URL, &d.Raw, &d.RunID); err != nil {
			return nil, fmt.Errorf("scan raw document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) Days(ctx context.Context, source string) ([]string, error) {
	rows, err := p.db.Query(ctx, `
		SELECT DISTINCT to_char(day, 'YYYY-MM-DD')
		FROM raw_documents
		WHERE source = $1
		ORDER BY 1
	`, source)
	if err != nil {
		return nil, fmt.Errorf("list days: %w", err)
	}
	defer rows.Close()

	var days []string
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("scan day: %w", err)
		}
		days = append(days, day)
	}
	return days, rows.Err()
}

func (p *Postgres) HasDay(ctx context.Context, day, source string) (bool, error) {
	var exists bool
	err := p.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM raw_documents WHERE day = $1 AND source = $2)
	`, day, source).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check day: %w", err)
	}
	return exists, nil
}

func (p *Postgres) WriteCurated(ctx context.Context, day, source string, docs []model.CuratedDocument) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Re-curation replaces the whole partition.
	if _, err := tx.Exec(ctx, `
		DELETE FROM curated_documents WHERE day = $1 AND source = $2
	`, day, source); err != nil {
		return fmt.Errorf("clear curated partition: %w", err)
	}

	batch := &pgx.Batch{}
	for _, d := range docs {
		batch.Queue(`
			INSERT INTO curated_documents
				(day, source, natural_id, published_at, received_at, symbols, headline,
				 summary, url, run_id, is_dupe, cluster_id, novelty, window_start, window_end)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`, day, source, d.NaturalID, d.PublishedAt, d.ReceivedAt, d.Symbols, d.Headline,
			d.Summary, d.URL, d.RunID, d.IsDupe, d.ClusterID, d.Novelty, d.WindowStart, d.WindowEnd)
	}

	results := tx.SendBatch(ctx, batch)
	for range docs {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("insert curated document: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	return tx.Commit(ctx)
}

func (p *Postgres) ReadCurated(ctx context.Context, day, source string) ([]model.CuratedDocument, error) {
	rows, err := p.db.Query(ctx, `
		SELECT natural_id, published_at, received_at, symbols, headline,
		       COALESCE(summary, ''), COALESCE(url, ''), COALESCE(run_id, ''),
		       is_dupe, cluster_id, novelty, window_start, window_end
		FROM curated_documents
		WHERE day = $1 AND source = $2
		ORDER BY published_at, natural_id
	`, day, source)
	if err != nil {
		return nil, fmt.Errorf("read curated partition: %w", err)
	}
	defer rows.Close()

	var out []model.CuratedDocument
	for rows.Next() {
		d := model.CuratedDocument{RawDocument: model.RawDocument{Source: source}}
		if err := rows.Scan(&d.NaturalID, &d.PublishedAt, &d.ReceivedAt, &d.Symbols, &d.Headline,
			&d.Summary, &d.URL, &d.RunID,
			&d.IsDupe, &d.ClusterID, &d.Novelty, &d.WindowStart, &d.WindowEnd); err != nil {
			return nil, fmt.Errorf("scan curated document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) ReadCuratedLeaders(ctx context.Context, source, fromDay, toDay string) ([]model.RawDocument, error) {
	rows, err := p.db.Query(ctx, `
		SELECT natural_id, published_at, received_at, symbols, headline,
		       COALESCE(summary, ''), COALESCE(url, ''), COALESCE(run_id, '')
		FROM curated_documents
		WHERE source = $1 AND day BETWEEN $2 AND $3 AND NOT is_dupe
		ORDER BY published_at, natural_id
	`, source, fromDay, toDay)
	if err != nil {
		return nil, fmt.Errorf("read curated leaders: %w", err)
	}
	defer rows.Close()

	var out []model.RawDocument
	for rows.Next() {
		d := model.RawDocument{Source: source}
		if err := rows.Scan(&d.NaturalID, &d.PublishedAt, &d.ReceivedAt, &d.Symbols,
			&d.Headline, &d.Summary, &d.URL, &d.RunID); err != nil {
			return nil, fmt.Errorf("scan curated leader: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkCurationComplete(ctx context.Context, day, source, runID string) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO curation_runs (day, source, run_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (day, source) DO UPDATE
		SET run_id = EXCLUDED.run_id, completed_at = now()
	`, day, source, runID)
	if err != nil {
		return fmt.Errorf("mark curation complete: %w", err)
	}
	return nil
}

func (p *Postgres) CurationComplete(ctx context.Context, day, source string) (bool, error) {
	var exists bool
	err := p.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM curation_runs WHERE day = $1 AND source = $2)
	`, day, source).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check curation run: %w", err)
	}
	return exists, nil
}

func (p *Postgres) UpsertPriceBars(ctx context.Context, bars []model.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, b := range bars {
		batch.Queue(`
			INSERT INTO price_bars (day, symbol, open, high, low, close, volume)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (day, symbol) DO UPDATE
			SET open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			    close = EXCLUDED.close, volume = EXCLUDED.volume
		`, b.Day, b.Symbol, b.Open, b.High, b.Low, b.Close, b.Volume)
	}

	results := p.db.SendBatch(ctx, batch)
	defer results.Close()

	for range bars {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert price bar: %w", err)
		}
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == serializationFailure
}
