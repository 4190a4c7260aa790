package speaker

import "math"

// Normalize returns v scaled to unit L2 norm. A zero vector is returned
// unchanged. The input is not modified.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// MeanNormalized L2-normalizes each input vector, averages them, and
// normalizes the result. All vectors must share the same dimension. Returns
// nil for an empty input.
func MeanNormalized(vs [][]float32) []float32 {
	if len(vs) == 0 {
		return nil
	}
	acc := make([]float64, len(vs[0]))
	for _, v := range vs {
		for i, x := range Normalize(v) {
			acc[i] += float64(x)
		}
	}
	mean := make([]float32, len(acc))
	for i, x := range acc {
		mean[i] = float32(x / float64(len(vs)))
	}
	return Normalize(mean)
}

// Cosine returns the cosine similarity of a and b, or 0 when either has a
// zero norm.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
