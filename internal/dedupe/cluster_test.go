package dedupe

import (
	"testing"
	"time"

	"github.com/quantfeed/corpus-data/internal/model"
)

func newsDoc(id, headline string, published time.Time) model.RawDocument {
	return model.RawDocument{
		NaturalID:   id,
		Headline:    headline,
		PublishedAt: published,
		ReceivedAt:  published,
	}
}

func TestEngine_Cluster_IdenticalContentSameDay(t *testing.T) {
	base := time.Date(2024, 11, 5, 13, 0, 0, 0, time.UTC)

	// Identical content published 3 minutes apart: same cluster, the
	// earlier one leads.
	docs := []model.RawDocument{
		newsDoc("later", "Fed holds interest rates steady in November meeting", base.Add(3*time.Minute)),
		newsDoc("earlier", "Fed holds interest rates steady in November meeting", base),
		newsDoc("other", "Oil prices tumble as supply concerns ease across markets", base.Add(time.Minute)),
	}

	engine := NewEngine(nil)
	assignments, clusters := engine.Cluster("2024-11-05", docs)

	byID := make(map[string]Assignment)
	for _, a := range assignments {
		byID[a.NaturalID] = a
	}

	if byID["later"].ClusterID != "earlier" {
		t.Errorf("later.ClusterID = %s, want earlier", byID["later"].ClusterID)
	}
	if !byID["later"].IsDupe {
		t.Error("later.IsDupe = false, want true")
	}
	if byID["earlier"].IsDupe {
		t.Error("earlier.IsDupe = true, want false (leader)")
	}
	if byID["earlier"].ClusterID != "earlier" {
		t.Errorf("earlier.ClusterID = %s, want earlier", byID["earlier"].ClusterID)
	}
	if byID["other"].IsDupe || byID["other"].ClusterID != "other" {
		t.Errorf("singleton assignment = %+v, want self-led", byID["other"])
	}

	if len(clusters) != 2 {
		t.Fatalf("cluster count = %d, want 2", len(clusters))
	}
}

func TestEngine_Cluster_ExactlyOneLeaderPerCluster(t *testing.T) {
	base := time.Date(2024, 11, 5, 9, 0, 0, 0, time.UTC)

	docs := []model.RawDocument{
		newsDoc("a", "Apple unveils new device lineup at annual fall event", base.Add(2*time.Hour)),
		newsDoc("b", "Apple unveils new device lineup at annual fall event", base),
		newsDoc("c", "Apple unveils new device lineup at annual fall event", base.Add(time.Hour)),
		newsDoc("d", "Treasury yields climb after stronger than expected jobs data", base),
	}

	engine := NewEngine(PairwiseOracle{Threshold: 3})
	assignments, clusters := engine.Cluster("2024-11-05", docs)

	leadersByCluster := make(map[string]int)
	published := make(map[string]time.Time)
	for _, doc := range docs {
		published[doc.NaturalID] = doc.PublishedAt
	}

	for _, a := range assignments {
		if !a.IsDupe {
			leadersByCluster[a.ClusterID]++
		}
	}

	for _, c := range clusters {
		if leadersByCluster[c.ID] != 1 {
			t.Errorf("cluster %s has %d leaders, want exactly 1", c.ID, leadersByCluster[c.ID])
		}
		// Leader publishes no later than any member.
		for _, m := range c.Members {
			if published[c.ID].After(published[m]) {
				t.Errorf("leader %s published after member %s", c.ID, m)
			}
		}
	}
}

func TestEngine_Cluster_TransitiveComponents(t *testing.T) {
	base := time.Date(2024, 11, 5, 9, 0, 0, 0, time.UTC)

	// A fake oracle linking 0-1 and 1-2: all three must land in one
	// cluster even though 0 and 2 were never directly paired.
	oracle := fakeOracle{pairs: [][2]int{{0, 1}, {1, 2}}}

	docs := []model.RawDocument{
		newsDoc("x", "one", base.Add(time.Minute)),
		newsDoc("y", "two", base),
		newsDoc("z", "three", base.Add(2*time.Minute)),
	}

	assignments, clusters := NewEngine(oracle).Cluster("2024-11-05", docs)

	if len(clusters) != 1 {
		t.Fatalf("cluster count = %d, want 1", len(clusters))
	}
	if clusters[0].ID != "y" {
		t.Errorf("leader = %s, want earliest-published y", clusters[0].ID)
	}
	for _, a := range assignments {
		if a.ClusterID != "y" {
			t.Errorf("%s.ClusterID = %s, want y", a.NaturalID, a.ClusterID)
		}
	}
}

func TestEngine_Cluster_OracleEquivalence(t *testing.T) {
	// A substituted oracle that reports the same pairs must produce the
	// same clusters and leaders as the naive scan.
	base := time.Date(2024, 11, 5, 9, 0, 0, 0, time.UTC)
	docs := []model.RawDocument{
		newsDoc("n1", "Bank of Japan keeps ultra low rates unchanged again", base),
		newsDoc("n2", "Bank of Japan keeps ultra low rates unchanged again today", base.Add(time.Minute)),
		newsDoc("n3", "Gold futures edge higher ahead of inflation report", base.Add(2*time.Minute)),
	}

	naive := PairwiseOracle{Threshold: 8}
	fps := make([]uint64, len(docs))
	for i, d := range docs {
		fps[i] = Fingerprint(d)
	}
	replay := fakeOracle{pairs: naive.Pairs(fps)}

	a1, c1 := NewEngine(naive).Cluster("2024-11-05", docs)
	a2, c2 := NewEngine(replay).Cluster("2024-11-05", docs)

	if len(c1) != len(c2) {
		t.Fatalf("cluster counts differ: %d vs %d", len(c1), len(c2))
	}
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Errorf("assignment %d differs: %+v vs %+v", i, a1[i], a2[i])
		}
	}
}

func TestEngine_Cluster_Empty(t *testing.T) {
	assignments, clusters := NewEngine(nil).Cluster("2024-11-05", nil)
	if assignments != nil || clusters != nil {
		t.Error("empty input should produce no assignments or clusters")
	}
}

type fakeOracle struct {
	pairs [][2]int
}

func (f fakeOracle) Pairs([]uint64) [][2]int { return f.pairs }
