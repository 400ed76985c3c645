package lsh

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
)

// hasher projects vectors onto a fixed set of random hyperplanes. Each
// hyperplane contributes one signature bit; bits are grouped into bands so
// vectors colliding on any whole band become candidates for each other.
//
// The hyperplanes are derived deterministically from the namespace seed:
// every process sharing a key prefix computes identical signatures, so the
// bucket store can be written from ingestion jobs and read from query
// paths without coordination.
type hasher struct {
	dim    int
	bands  int
	rows   int
	planes [][]float32
}

func newHasher(dim, numPerm, bands int, namespace string) (*hasher, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	if numPerm <= 0 || bands <= 0 {
		return nil, fmt.Errorf("num_perm and bands must be positive, got %d and %d", numPerm, bands)
	}
	if numPerm%bands != 0 {
		return nil, fmt.Errorf("num_perm %d must be divisible by bands %d", numPerm, bands)
	}
	rows := numPerm / bands
	if rows > 64 {
		return nil, fmt.Errorf("rows per band %d exceeds 64", rows)
	}

	seed := fnv.New64a()
	seed.Write([]byte(namespace))
	rng := rand.New(rand.NewSource(int64(seed.Sum64())))

	planes := make([][]float32, numPerm)
	for i := range planes {
		p := make([]float32, dim)
		for j := range p {
			p[j] = float32(rng.NormFloat64())
		}
		planes[i] = p
	}

	return &hasher{
		dim:    dim,
		bands:  bands,
		rows:   rows,
		planes: planes,
	}, nil
}

// bandValues returns one packed bit-pattern per band for the vector.
func (h *hasher) bandValues(vector []float32) ([]uint64, error) {
	if len(vector) != h.dim {
		return nil, fmt.Errorf("vector has dimension %d, want %d", len(vector), h.dim)
	}

	values := make([]uint64, h.bands)
	for band := 0; band < h.bands; band++ {
		var bits uint64
		for row := 0; row < h.rows; row++ {
			plane := h.planes[band*h.rows+row]
			var dot float32
			for i, x := range vector {
				dot += x * plane[i]
			}
			bits <<= 1
			if dot >= 0 {
				bits |= 1
			}
		}
		values[band] = bits
	}

	return values, nil
}

// Cosine is the exact similarity used for reranking bucket candidates.
// Zero vectors compare as 0.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
