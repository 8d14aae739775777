package matcher

import (
	"sync"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/familiar-faces/internal/constants"
	"github.com/kozaktomas/familiar-faces/internal/embedding"
	"github.com/kozaktomas/familiar-faces/internal/person"
)

// Indexed narrows the candidate persons with an HNSW graph over all enrolled
// embeddings, then rescores the candidates exactly. The graph is rebuilt
// lazily whenever a different snapshot is queried.
//
// Small databases are matched exhaustively, because the approximate search
// can only lose recall there.
type Indexed struct {
	exact      *Exact
	candidates int

	mu     sync.Mutex
	snap   *person.Snapshot // snapshot the graph was built from
	graph  *hnsw.Graph[int]
	owners []string // node key -> person ID
	total  int
}

// NewIndexed creates an HNSW-backed matcher.
func NewIndexed(threshold float64) *Indexed {
	return &Indexed{
		exact:      NewExact(threshold),
		candidates: constants.HNSWCandidates,
	}
}

// Threshold implements Resolver.
func (m *Indexed) Threshold() float64 {
	return m.exact.threshold
}

// Resolve implements Resolver. The threshold is inclusive.
func (m *Indexed) Resolve(query embedding.Vector, snap *person.Snapshot) (Match, bool) {
	return applyThreshold(m.exact.threshold)(m.Best(query, snap))
}

// Best implements Resolver.
func (m *Indexed) Best(query embedding.Vector, snap *person.Snapshot) (Match, bool) {
	g, owners, total := m.graphFor(snap)
	if g == nil || total <= m.candidates {
		return m.exact.Best(query, snap)
	}

	neighbors := g.Search([]float32(query), m.candidates)
	ids := make(map[string]struct{}, len(neighbors))
	for _, n := range neighbors {
		ids[owners[n.Key]] = struct{}{}
	}

	var best Match
	found := false
	snap.Range(func(r *person.Record) bool {
		if _, ok := ids[r.ID]; !ok {
			return true
		}
		score, ok := personSimilarity(query, r.Embeddings)
		if ok && (!found || score > best.Similarity) {
			best = Match{PersonID: r.ID, Similarity: score}
			found = true
		}
		return true
	})
	return best, found
}

// graphFor returns the graph for snap, rebuilding it if the cached one was
// built from a different snapshot.
func (m *Indexed) graphFor(snap *person.Snapshot) (*hnsw.Graph[int], []string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.snap == snap {
		return m.graph, m.owners, m.total
	}

	total := 0
	snap.Range(func(r *person.Record) bool {
		total += len(r.Embeddings)
		return true
	})

	m.snap = snap
	m.total = total
	m.graph = nil
	m.owners = nil
	if total <= m.candidates {
		return nil, nil, total
	}

	g := hnsw.NewGraph[int]()
	g.M = constants.HNSWMaxNeighbors
	g.Ml = 1.0 / float64(constants.HNSWMaxNeighbors)
	g.EfSearch = constants.HNSWEfSearch
	g.Distance = hnsw.CosineDistance

	owners := make([]string, 0, total)
	snap.Range(func(r *person.Record) bool {
		for _, e := range r.Embeddings {
			g.Add(hnsw.MakeNode(len(owners), []float32(e)))
			owners = append(owners, r.ID)
		}
		return true
	})

	m.graph = g
	m.owners = owners
	return g, owners, total
}
