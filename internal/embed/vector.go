package embed

import (
	"fmt"
	"math"
)

// ValidateVectors checks that a model reply is usable: every vector
// carries the same non-zero dimension and only finite values.
func ValidateVectors(vs [][]float32) error {
	if len(vs) == 0 {
		return nil
	}
	dim := len(vs[0])
	if dim == 0 {
		return fmt.Errorf("%w: zero-dimension vector", ErrEmbedding)
	}
	for i, v := range vs {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrEmbedding, i, len(v), dim)
		}
		for _, x := range v {
			if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
				return fmt.Errorf("%w: vector %d contains a non-finite value", ErrEmbedding, i)
			}
		}
	}
	return nil
}

// L2Normalize scales v to unit length. A zero-norm vector is returned
// unchanged rather than divided by zero; a unit vector round-trips
// unchanged up to float32 rounding.
func L2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// MeanVector returns the element-wise mean of vs. Vectors shorter than
// the first are zero-padded; nil input yields nil.
func MeanVector(vs [][]float32) []float32 {
	if len(vs) == 0 {
		return nil
	}
	dim := len(vs[0])
	acc := make([]float64, dim)
	for _, v := range vs {
		for i := 0; i < dim && i < len(v); i++ {
			acc[i] += float64(v[i])
		}
	}
	out := make([]float32, dim)
	n := float64(len(vs))
	for i, x := range acc {
		out[i] = float32(x / n)
	}
	return out
}

// DocumentVector combines per-chunk vectors into the document-level
// vector: the L2-normalised mean of L2-normalised chunk vectors.
func DocumentVector(chunks [][]float32) []float32 {
	if len(chunks) == 0 {
		return nil
	}
	normed := make([][]float32, len(chunks))
	for i, c := range chunks {
		normed[i] = L2Normalize(c)
	}
	return L2Normalize(MeanVector(normed))
}

// CosineSimilarity returns the cosine of the angle between a and b, or
// 0 when either has zero norm.
func CosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	var na, nb float64
	for _, x := range a {
		na += float64(x) * float64(x)
	}
	for _, x := range b {
		nb += float64(x) * float64(x)
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
