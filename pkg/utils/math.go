package utils

import "math"

// NormalizeL2 scales an embedding in place to unit length so that the dot product
// of two normalized embeddings is their cosine similarity. Zero vectors and vectors
// whose norm overflows are left as they are.
func NormalizeL2(vec []float32) {
	var sq float64
	for _, v := range vec {
		sq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sq)
	if norm == 0 || math.IsInf(norm, 0) || math.IsNaN(norm) {
		return
	}
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
}
