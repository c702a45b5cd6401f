package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/quantfeed/corpus-data/internal/model"
)

type partitionKey struct {
	day    string
	source string
}

// Memory is an in-memory Store used in tests and local runs.
type Memory struct {
	mu       sync.RWMutex
	loc      *time.Location
	raw      map[partitionKey]map[string]model.RawDocument
	curated  map[partitionKey][]model.CuratedDocument
	complete map[partitionKey]string
	bars     map[partitionKey]model.PriceBar // day/symbol reuses the key shape
}

// NewMemory creates an empty in-memory store. Partition days are derived
// from published_at in the given business timezone; nil means UTC.
func NewMemory(loc *time.Location) *Memory {
	if loc == nil {
		loc = time.UTC
	}
	return &Memory{
		loc:      loc,
		raw:      make(map[partitionKey]map[string]model.RawDocument),
		curated:  make(map[partitionKey][]model.CuratedDocument),
		complete: make(map[partitionKey]string),
		bars:     make(map[partitionKey]model.PriceBar),
	}
}

func (m *Memory) Append(ctx context.Context, docs []model.RawDocument) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, d := range docs {
		key := partitionKey{day: d.PartitionDay(m.loc), source: d.Source}
		part, ok := m.raw[key]
		if !ok {
			part = make(map[string]model.RawDocument)
			m.raw[key] = part
		}
		if _, exists := part[d.NaturalID]; exists {
			continue
		}
		part[d.NaturalID] = d
		inserted++
	}
	return inserted, nil
}

func (m *Memory) Read(ctx context.Context, day, source string) ([]model.RawDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	part := m.raw[partitionKey{day: day, source: source}]
	out := make([]model.RawDocument, 0, len(part))
	for _, d := range part {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].PublishedAt.Before(out[j].PublishedAt)
		}
		return out[i].NaturalID < out[j].NaturalID
	})
	return out, nil
}

func (m *Memory) Days(ctx context.Context, source string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var days []string
	for key, part := range m.raw {
		if key.source == source && len(part) > 0 {
			days = append(days, key.day)
		}
	}
	sort.Strings(days)
	return days, nil
}

func (m *Memory) HasDay(ctx context.Context, day, source string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.raw[partitionKey{day: day, source: source}]) > 0, nil
}

func (m *Memory) WriteCurated(ctx context.Context, day, source string, docs []model.CuratedDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.CuratedDocument, len(docs))
	copy(out, docs)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].PublishedAt.Before(out[j].PublishedAt)
		}
		return out[i].NaturalID < out[j].NaturalID
	})
	m.curated[partitionKey{day: day, source: source}] = out
	return nil
}

func (m *Memory) ReadCurated(ctx context.Context, day, source string) ([]model.CuratedDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	part := m.curated[partitionKey{day: day, source: source}]
	out := make([]model.CuratedDocument, len(part))
	copy(out, part)
	return out, nil
}

func (m *Memory) ReadCuratedLeaders(ctx context.Context, source, fromDay, toDay string) ([]model.RawDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.RawDocument
	for key, part := range m.curated {
		if key.source != source || key.day < fromDay || key.day > toDay {
			continue
		}
		for _, d := range part {
			if !d.IsDupe {
				out = append(out, d.RawDocument)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].PublishedAt.Before(out[j].PublishedAt)
		}
		return out[i].NaturalID < out[j].NaturalID
	})
	return out, nil
}

func (m *Memory) MarkCurationComplete(ctx context.Context, day, source, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.complete[partitionKey{day: day, source: source}] = runID
	return nil
}

func (m *Memory) CurationComplete(ctx context.Context, day, source string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.complete[partitionKey{day: day, source: source}]
	return ok, nil
}

func (m *Memory) UpsertPriceBars(ctx context.Context, bars []model.PriceBar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range bars {
		m.bars[partitionKey{day: b.Day, source: b.Symbol}] = b
	}
	return nil
}

// PriceBar returns a stored bar, or ErrNotFound.
func (m *Memory) PriceBar(day, symbol string) (model.PriceBar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bars[partitionKey{day: day, source: symbol}]
	if !ok {
		return model.PriceBar{}, ErrNotFound
	}
	return b, nil
}
