package embedding

import (
	"math"
	"sort"
	"time"

	"github.com/developer-mesh/hubspot-mcp/pkg/models"
)

// IndexAlgorithm selects the nearest-neighbour structure backing an index.
type IndexAlgorithm string

const (
	// AlgorithmFlat scans every vector; exact but linear in index size.
	AlgorithmFlat IndexAlgorithm = "flat"
	// AlgorithmPartitioned probes the nearest k-means cells only.
	AlgorithmPartitioned IndexAlgorithm = "partitioned"
	// AlgorithmAuto picks partitioned for large indices, flat otherwise.
	AlgorithmAuto IndexAlgorithm = ""
)

const (
	// partitionThreshold is the index size at which auto selection switches
	// from flat to partitioned.
	partitionThreshold = 10000

	kmeansIterations = 10
	maxProbes        = 8
)

// ParseAlgorithm validates a user-supplied index type.
func ParseAlgorithm(s string) (IndexAlgorithm, bool) {
	switch IndexAlgorithm(s) {
	case AlgorithmFlat, AlgorithmPartitioned, AlgorithmAuto:
		return IndexAlgorithm(s), true
	case "auto":
		return AlgorithmAuto, true
	default:
		return AlgorithmAuto, false
	}
}

// IndexedText pairs a vector position with the record it was built from.
type IndexedText struct {
	ID   string            `json:"id"`
	Kind models.EntityKind `json:"kind"`
	Text string            `json:"text"`
}

// snapshot is one immutable index state. Rebuilds produce a new snapshot and
// swap it in atomically; readers keep scanning the one they loaded.
type snapshot struct {
	vectors   [][]float32
	entries   []IndexedText
	algorithm IndexAlgorithm
	builtAt   time.Time
	dimension int

	// Coarse quantizer state; nil for flat indices.
	coarse *coarseQuantizer
	lists  [][]int
}

type scoredEntry struct {
	position int
	score    float64
}

// newSnapshot builds an index over L2-normalized vectors. For partitioned
// indices a previously trained quantizer may be supplied so rebuilds keep
// their cell layout; otherwise one is trained on the vectors.
func newSnapshot(vectors [][]float32, entries []IndexedText, algorithm IndexAlgorithm, trained *coarseQuantizer) *snapshot {
	s := &snapshot{
		vectors:   vectors,
		entries:   entries,
		algorithm: algorithm,
		builtAt:   time.Now().UTC(),
	}
	if len(vectors) > 0 {
		s.dimension = len(vectors[0])
	}
	if algorithm == AlgorithmPartitioned && len(vectors) > 0 {
		s.coarse = trained
		if s.coarse == nil {
			s.coarse = trainCoarseQuantizer(vectors, nlistFor(len(vectors)), kmeansIterations)
		}
		s.lists = make([][]int, len(s.coarse.centroids))
		for i, vec := range vectors {
			cell := s.coarse.assign(vec)
			s.lists[cell] = append(s.lists[cell], i)
		}
	}
	return s
}

// search returns the top k entries scoring at least minScore against the
// query vector. Scores are inner products, which equal cosine similarity
// because every stored vector is L2-normalized.
func (s *snapshot) search(query []float32, k int, minScore float64) []scoredEntry {
	if s == nil || len(s.vectors) == 0 || k <= 0 {
		return nil
	}

	var hits []scoredEntry
	collect := func(position int) {
		score := float64(dotProduct(query, s.vectors[position]))
		if score >= minScore {
			hits = append(hits, scoredEntry{position: position, score: score})
		}
	}

	if s.algorithm == AlgorithmPartitioned && s.coarse != nil {
		probes := maxProbes
		if probes > len(s.coarse.centroids) {
			probes = len(s.coarse.centroids)
		}
		for _, cell := range s.coarse.nearest(query, probes) {
			for _, position := range s.lists[cell] {
				collect(position)
			}
		}
	} else {
		for position := range s.vectors {
			collect(position)
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return s.entries[hits[i].position].ID < s.entries[hits[j].position].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// nlistFor sizes the coarse quantizer as the square root of the index size.
func nlistFor(n int) int {
	nlist := int(math.Sqrt(float64(n)))
	if nlist < 1 {
		nlist = 1
	}
	return nlist
}

// chooseAlgorithm resolves auto selection against the index size.
func chooseAlgorithm(requested IndexAlgorithm, n int) IndexAlgorithm {
	if requested == AlgorithmFlat || requested == AlgorithmPartitioned {
		return requested
	}
	if n >= partitionThreshold {
		return AlgorithmPartitioned
	}
	return AlgorithmFlat
}

// coarseQuantizer holds k-means centroids used to route queries to cells.
type coarseQuantizer struct {
	centroids [][]float32
}

// trainCoarseQuantizer runs Lloyd's algorithm with deterministic
// initialization: centroids start at evenly spaced input vectors.
func trainCoarseQuantizer(vectors [][]float32, nlist, iterations int) *coarseQuantizer {
	if nlist > len(vectors) {
		nlist = len(vectors)
	}
	if nlist < 1 {
		nlist = 1
	}
	dim := len(vectors[0])

	centroids := make([][]float32, nlist)
	for i := range centroids {
		centroids[i] = append([]float32(nil), vectors[i*len(vectors)/nlist]...)
	}
	q := &coarseQuantizer{centroids: centroids}

	assignments := make([]int, len(vectors))
	for iter := 0; iter < iterations; iter++ {
		changed := false
		for i, vec := range vectors {
			cell := q.assign(vec)
			if assignments[i] != cell {
				assignments[i] = cell
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		sums := make([][]float64, nlist)
		counts := make([]int, nlist)
		for i := range sums {
			sums[i] = make([]float64, dim)
		}
		for i, vec := range vectors {
			cell := assignments[i]
			counts[cell]++
			for d, x := range vec {
				sums[cell][d] += float64(x)
			}
		}
		for cell := range centroids {
			if counts[cell] == 0 {
				continue // keep the previous centroid for empty cells
			}
			for d := range centroids[cell] {
				centroids[cell][d] = float32(sums[cell][d] / float64(counts[cell]))
			}
		}
	}
	return q
}

// assign returns the index of the nearest centroid by Euclidean distance.
func (q *coarseQuantizer) assign(vec []float32) int {
	best, bestDist := 0, math.MaxFloat64
	for i, c := range q.centroids {
		if d := squaredDistance(vec, c); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// nearest returns the n closest centroid indices, nearest first.
func (q *coarseQuantizer) nearest(vec []float32, n int) []int {
	type cell struct {
		index int
		dist  float64
	}
	cells := make([]cell, len(q.centroids))
	for i, c := range q.centroids {
		cells[i] = cell{index: i, dist: squaredDistance(vec, c)}
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].dist != cells[j].dist {
			return cells[i].dist < cells[j].dist
		}
		return cells[i].index < cells[j].index
	})
	if n > len(cells) {
		n = len(cells)
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = cells[i].index
	}
	return out
}

// normalizeL2 scales a vector to unit length. Near-zero vectors are returned
// unchanged to avoid dividing by zero.
func normalizeL2(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm < 1e-10 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dotProduct(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func squaredDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
