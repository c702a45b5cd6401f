package novelty

import (
	"time"

	"github.com/quantfeed/corpus-data/internal/dedupe"
	"github.com/quantfeed/corpus-data/internal/model"
)

// DefaultWindowDays is the default reference window length.
const DefaultWindowDays = 7

// Scorer computes novelty against a fingerprinted reference corpus.
type Scorer struct {
	reference []uint64
	refStart  time.Time
	refEnd    time.Time
}

// NewScorer builds a scorer over the given reference documents. The
// reference must contain only non-duplicate items from days strictly
// before the scored day's window; refStart/refEnd record the bounds for
// audit.
func NewScorer(reference []model.RawDocument, refStart, refEnd time.Time) *Scorer {
	fps := make([]uint64, 0, len(reference))
	for _, d := range reference {
		fps = append(fps, dedupe.Fingerprint(d))
	}
	return &Scorer{
		reference: fps,
		refStart:  refStart,
		refEnd:    refEnd,
	}
}

// ReferenceSize returns the number of reference items.
func (s *Scorer) ReferenceSize() int {
	return len(s.reference)
}

// Score returns the novelty record for a single document: 1 minus the
// maximum similarity to any reference item, clipped to [0,1]. With an
// empty reference set every document is fully novel.
func (s *Scorer) Score(doc model.RawDocument) model.NoveltyRecord {
	rec := model.NoveltyRecord{
		NaturalID: doc.NaturalID,
		Novelty:   1.0,
		RefStart:  s.refStart,
		RefEnd:    s.refEnd,
	}

	if len(s.reference) == 0 {
		return rec
	}

	fp := dedupe.Fingerprint(doc)
	maxSim := 0.0
	for _, ref := range s.reference {
		if sim := dedupe.Similarity(fp, ref); sim > maxSim {
			maxSim = sim
			if maxSim == 1.0 {
				break
			}
		}
	}

	rec.Novelty = clip(1.0 - maxSim)
	return rec
}

// ScoreAll scores every document in order.
func (s *Scorer) ScoreAll(docs []model.RawDocument) []model.NoveltyRecord {
	out := make([]model.NoveltyRecord, len(docs))
	for i, d := range docs {
		out[i] = s.Score(d)
	}
	return out
}

func clip(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
