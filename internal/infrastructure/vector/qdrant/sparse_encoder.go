package qdrant

import (
	"hash/fnv"
	"math"
	"sort"
	"strings"
)

// Lexical chunks are encoded as sparse vectors: tokens hash into a fixed
// 32-bit index space and carry a saturating BM25-style term-frequency weight.
// The encoding is stateless, so identical text always produces the identical
// vector regardless of what else is in the collection.

type sparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

const (
	bm25Saturation = 1.2
	filenameWeight = 1.5
	sparseTermCap  = 256
)

func encodeSparseDocument(text, filename string) sparseVector {
	counts := countTerms(text, 1.0)
	// Filename tokens rank a chunk for queries that name the document.
	for idx, w := range countTerms(filename, filenameWeight) {
		counts[idx] += w
	}
	return sparsify(counts)
}

func encodeSparseQuery(query string) sparseVector {
	return sparsify(countTerms(query, 1.0))
}

func countTerms(s string, weight float64) map[uint32]float64 {
	counts := make(map[uint32]float64, 32)
	for _, token := range tokenizeAlphaNum(s) {
		counts[hashToken(token)] += weight
	}
	return counts
}

func sparsify(counts map[uint32]float64) sparseVector {
	if len(counts) == 0 {
		return sparseVector{}
	}

	indices := make([]uint32, 0, len(counts))
	for idx := range counts {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	if len(indices) > sparseTermCap {
		indices = indices[:sparseTermCap]
	}

	values := make([]float32, len(indices))
	for i, idx := range indices {
		tf := counts[idx]
		w := tf * (bm25Saturation + 1) / (tf + bm25Saturation)
		if math.IsNaN(w) || math.IsInf(w, 0) {
			w = 0
		}
		values[i] = float32(w)
	}
	return sparseVector{Indices: indices, Values: values}
}

func hashToken(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	// Index 0 is reserved so an empty vector is distinguishable.
	if sum := h.Sum32(); sum != 0 {
		return sum
	}
	return 1
}

func tokenizeAlphaNum(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		isAlpha := r >= 'a' && r <= 'z'
		isDigit := r >= '0' && r <= '9'
		return !isAlpha && !isDigit
	})
}
