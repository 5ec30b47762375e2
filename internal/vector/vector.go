// Package vector provides the similarity primitives used by the memory
// store: cosine similarity, fixed-width binary vector encoding, and
// threshold/top-K ranking.
package vector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrDimensionMismatch is returned when two vectors of different lengths
// are compared. Comparing mismatched vectors would produce a meaningless
// score, so it fails fast instead.
var ErrDimensionMismatch = errors.New("vector dimensions do not match")

// CosineSimilarity returns dot(a,b)/(|a|·|b|) in [-1, 1].
// Returns 0 (not an error) when either vector has zero magnitude.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	magnitude := math.Sqrt(normA) * math.Sqrt(normB)
	if magnitude == 0 {
		return 0, nil
	}

	return dot / magnitude, nil
}

// Encode serializes a vector as little-endian float32 words for BLOB
// storage. Round-trips through Decode within float32 precision.
func Encode(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Decode deserializes a vector previously produced by Encode.
// The buffer length must be a multiple of 4 bytes.
func Decode(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vector: buffer length %d is not a multiple of 4", len(buf))
	}

	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v, nil
}

// Match pairs an item index with its similarity to the query.
type Match struct {
	Index      int
	Similarity float64
}

// FindSimilar ranks items against the query vector. Items whose similarity
// is below threshold are dropped; the rest are sorted by descending
// similarity (stable, so ties keep input order) and truncated to topK.
// An item with mismatched dimensions fails the whole call.
func FindSimilar(query []float32, items [][]float32, topK int, threshold float64) ([]Match, error) {
	matches := make([]Match, 0, len(items))
	for i, item := range items {
		sim, err := CosineSimilarity(query, item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if sim >= threshold {
			matches = append(matches, Match{Index: i, Similarity: sim})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})

	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}
