package mathutil

import "math"

// L1Distance computes the Manhattan distance between two vectors.
// Vectors of different length are infinitely far apart.
func L1Distance(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		sum += math.Abs(a[i] - b[i])
	}
	return sum
}

// UnpackBits expands the low n bits of v into a 0/1 vector, most
// significant bit first.
func UnpackBits(v uint64, n int) []float64 {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		if v&(1<<uint(n-1-i)) != 0 {
			out[i] = 1
		}
	}
	return out
}
