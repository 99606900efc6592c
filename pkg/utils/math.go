package utils

import "math"

// unitTolerance is how far a norm may drift from 1 before a vector is
// considered non-normalized.
const unitTolerance = 1e-3

// Dot returns the inner product of two vectors (for normalized vectors equals
// cosine similarity). Mismatched or empty inputs yield 0.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// EuclideanDistance returns the L2 distance between two vectors.
// Mismatched or empty inputs yield +Inf so they never rank as a match.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// IsUnit reports whether v is unit-L2-normalized within tolerance.
func IsUnit(v []float32) bool {
	n := L2Norm(v)
	return math.Abs(n-1) <= unitTolerance
}

// Normalize scales v to unit length in place and returns it.
// Zero vectors are returned unchanged.
func Normalize(v []float32) []float32 {
	n := L2Norm(v)
	if n == 0 {
		return v
	}
	inv := 1 / n
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// EnsureUnit returns v itself when already normalized, otherwise a normalized
// copy. Scoring assumes unit inputs; exported model outputs can drift slightly
// from unit length.
func EnsureUnit(v []float32) []float32 {
	if IsUnit(v) {
		return v
	}
	c := make([]float32, len(v))
	copy(c, v)
	return Normalize(c)
}
