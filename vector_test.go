package mirix

import (
	"math"
	"testing"
)

func TestPadEmbedding(t *testing.T) {
	v := []float32{1, 2, 3}
	padded := PadEmbedding(v, 8)
	if len(padded) != 8 {
		t.Fatalf("len = %d, want 8", len(padded))
	}
	for i, want := range []float32{1, 2, 3, 0, 0, 0, 0, 0} {
		if padded[i] != want {
			t.Errorf("padded[%d] = %v, want %v", i, padded[i], want)
		}
	}
}

func TestPadEmbeddingAlreadyAtDim(t *testing.T) {
	v := []float32{1, 2, 3}
	if got := PadEmbedding(v, 3); &got[0] != &v[0] {
		t.Error("vector at target dim should be returned as-is")
	}
	if got := PadEmbedding(v, 2); len(got) != 3 {
		t.Errorf("oversized vector truncated to %d elements", len(got))
	}
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 1},
		{"both zero", []float32{0, 0}, []float32{0, 0}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineDistance(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineDistance(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestCosineDistanceMismatchedLengths(t *testing.T) {
	// Comparison runs over the shorter prefix.
	a := []float32{1, 0}
	b := []float32{1, 0, 0, 0, 0}
	if got := CosineDistance(a, b); math.Abs(got) > 1e-9 {
		t.Errorf("prefix-identical vectors: distance = %v, want 0", got)
	}
}

func TestCosineDistancePaddingInvariant(t *testing.T) {
	// Zero padding must not change distances.
	a := []float32{0.3, 0.7, 0.1}
	b := []float32{0.5, 0.2, 0.9}
	plain := CosineDistance(a, b)
	padded := CosineDistance(PadEmbedding(a, 64), PadEmbedding(b, 64))
	if math.Abs(plain-padded) > 1e-6 {
		t.Errorf("distance changed under padding: %v vs %v", plain, padded)
	}
}
