package mirix

import "math"

// MaxEmbeddingDim is the fixed storage dimension for embedding vectors.
// Provider vectors of lower dimension are zero-padded before storage and
// before ranking, so distances stay comparable across providers.
const MaxEmbeddingDim = 4096

// PadEmbedding zero-pads v to dim. Vectors already at or above dim are
// returned unchanged.
func PadEmbedding(v []float32, dim int) []float32 {
	if len(v) >= dim {
		return v
	}
	out := make([]float32, dim)
	copy(out, v)
	return out
}

// CosineDistance returns 1 - cosine similarity of a and b. Mismatched
// lengths compare over the shorter prefix; a zero vector yields distance 1.
func CosineDistance(a, b []float32) float64 {
	return 1 - cosineSimilarity(a, b)
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
