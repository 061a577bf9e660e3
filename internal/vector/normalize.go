package vector

import "math"

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// IsNormalized reports whether v has unit length within tol. Inner product
// ranking is only equivalent to cosine ranking for normalized vectors.
func IsNormalized(v []float32, tol float64) bool {
	if len(v) == 0 {
		return false
	}
	return math.Abs(Norm(v)-1) <= tol
}
