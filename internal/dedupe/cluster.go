package dedupe

import (
	"sort"

	"github.com/quantfeed/corpus-data/internal/model"
)

// DefaultThreshold is the maximum Hamming distance at which a pair is
// considered a near-duplicate.
const DefaultThreshold = 3

// Oracle reports near-duplicate pairs among a set of fingerprints. A
// banding/LSH index can be substituted here without changing cluster or
// leader semantics.
type Oracle interface {
	// Pairs returns index pairs (i < j) that are near-duplicates.
	Pairs(fingerprints []uint64) [][2]int
}

// PairwiseOracle compares every pair of fingerprints. Quadratic, which
// is acceptable at typical daily volumes (hundreds to low thousands).
type PairwiseOracle struct {
	Threshold int // Maximum Hamming distance (default: DefaultThreshold)
}

// Pairs implements Oracle.
func (o PairwiseOracle) Pairs(fps []uint64) [][2]int {
	threshold := o.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	var pairs [][2]int
	for i := 0; i < len(fps); i++ {
		for j := i + 1; j < len(fps); j++ {
			if HammingDistance(fps[i], fps[j]) <= threshold {
				pairs = append(pairs, [2]int{i, j})
			}
		}
	}
	return pairs
}

// Assignment is the clustering verdict for a single document.
type Assignment struct {
	NaturalID string
	ClusterID string // Leader's natural_id (own id for leaders and singletons)
	IsDupe    bool   // False only for the cluster leader
}

// Engine clusters same-day documents by fingerprint similarity.
type Engine struct {
	oracle Oracle
}

// NewEngine creates a clustering engine over the given similarity
// oracle. A nil oracle gets the default pairwise scan.
func NewEngine(oracle Oracle) *Engine {
	if oracle == nil {
		oracle = PairwiseOracle{Threshold: DefaultThreshold}
	}
	return &Engine{oracle: oracle}
}

// Fingerprint returns the document's content fingerprint.
func Fingerprint(d model.RawDocument) uint64 {
	return Simhash(Normalize(d.Text()))
}

// Cluster groups the given same-day documents into near-duplicate
// clusters. The leader of each cluster is the member with the minimum
// published_at (natural_id breaks ties deterministically); every other
// member is flagged a duplicate. Every document receives exactly one
// assignment; singletons lead their own cluster.
func (e *Engine) Cluster(day string, docs []model.RawDocument) ([]Assignment, []model.Cluster) {
	if len(docs) == 0 {
		return nil, nil
	}

	fps := make([]uint64, len(docs))
	for i, d := range docs {
		fps[i] = Fingerprint(d)
	}

	// Union connected components over near-duplicate edges.
	parent := make([]int, len(docs))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for _, p := range e.oracle.Pairs(fps) {
		ri, rj := find(p[0]), find(p[1])
		if ri != rj {
			parent[ri] = rj
		}
	}

	// Elect the earliest-published member of each component as leader.
	leaders := make(map[int]int) // component root -> leader index
	for i := range docs {
		root := find(i)
		cur, ok := leaders[root]
		if !ok || earlier(docs[i], docs[cur]) {
			leaders[root] = i
		}
	}

	assignments := make([]Assignment, len(docs))
	members := make(map[int][]string)
	for i, d := range docs {
		leader := leaders[find(i)]
		assignments[i] = Assignment{
			NaturalID: d.NaturalID,
			ClusterID: docs[leader].NaturalID,
			IsDupe:    i != leader,
		}
		members[leader] = append(members[leader], d.NaturalID)
	}

	clusters := make([]model.Cluster, 0, len(members))
	for leader, ids := range members {
		sort.Strings(ids)
		clusters = append(clusters, model.Cluster{
			ID:      docs[leader].NaturalID,
			Day:     day,
			Members: ids,
		})
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ID < clusters[j].ID })

	return assignments, clusters
}

// earlier reports whether a should lead over b: strictly earlier
// published_at, or equal timestamps with the smaller natural_id.
func earlier(a, b model.RawDocument) bool {
	if a.PublishedAt.Equal(b.PublishedAt) {
		return a.NaturalID < b.NaturalID
	}
	return a.PublishedAt.Before(b.PublishedAt)
}
