package embed

import (
	"math"
	"testing"
)

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestL2NormalizeUnitNorm(t *testing.T) {
	v := []float32{3, 4}
	out := L2Normalize(v)
	if math.Abs(norm(out)-1) > 1e-6 {
		t.Errorf("Expected unit norm, got %v", norm(out))
	}
	if math.Abs(float64(out[0])-0.6) > 1e-6 || math.Abs(float64(out[1])-0.8) > 1e-6 {
		t.Errorf("Expected [0.6 0.8], got %v", out)
	}
	if v[0] != 3 || v[1] != 4 {
		t.Errorf("Input must not be mutated, got %v", v)
	}
}

func TestL2NormalizeZeroVectorUnchanged(t *testing.T) {
	v := []float32{0, 0, 0}
	out := L2Normalize(v)
	for i, x := range out {
		if x != 0 {
			t.Errorf("Zero vector index %d changed to %v", i, x)
		}
	}
}

func TestMeanVector(t *testing.T) {
	if got := MeanVector(nil); got != nil {
		t.Errorf("Mean of no vectors should be nil, got %v", got)
	}
	got := MeanVector([][]float32{{1, 0}, {0, 1}})
	if len(got) != 2 || math.Abs(float64(got[0])-0.5) > 1e-6 || math.Abs(float64(got[1])-0.5) > 1e-6 {
		t.Errorf("Expected [0.5 0.5], got %v", got)
	}
}

func TestDocumentVector(t *testing.T) {
	// Orthogonal unit chunks average to the diagonal, renormalised.
	got := DocumentVector([][]float32{{1, 0}, {0, 1}})
	want := 1 / math.Sqrt(2)
	if len(got) != 2 {
		t.Fatalf("Expected dim 2, got %d", len(got))
	}
	if math.Abs(float64(got[0])-want) > 1e-6 || math.Abs(float64(got[1])-want) > 1e-6 {
		t.Errorf("Expected [%v %v], got %v", want, want, got)
	}
	if math.Abs(norm(got)-1) > 1e-6 {
		t.Errorf("Document vector should be unit norm, got %v", norm(got))
	}
}

func TestDocumentVectorSingleChunk(t *testing.T) {
	got := DocumentVector([][]float32{{0, 5}})
	if len(got) != 2 || got[0] != 0 || math.Abs(float64(got[1])-1) > 1e-6 {
		t.Errorf("Expected [0 1], got %v", got)
	}
}

func TestDocumentVectorEmpty(t *testing.T) {
	if got := DocumentVector(nil); got != nil {
		t.Errorf("Expected nil for no chunks, got %v", got)
	}
}

func TestValidateVectors(t *testing.T) {
	valid := [][]float32{{1, 0}, {0.5, -0.5}}
	if err := ValidateVectors(valid); err != nil {
		t.Errorf("Expected valid vectors to pass, got %v", err)
	}
	if err := ValidateVectors(nil); err != nil {
		t.Errorf("Expected empty reply to pass, got %v", err)
	}

	tests := []struct {
		name string
		vs   [][]float32
	}{
		{"nan", [][]float32{{1, float32(math.NaN())}}},
		{"positive inf", [][]float32{{float32(math.Inf(1)), 0}}},
		{"negative inf", [][]float32{{float32(math.Inf(-1)), 0}}},
		{"ragged dimensions", [][]float32{{1, 0}, {1, 0, 0}}},
		{"zero dimension", [][]float32{{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateVectors(tt.vs); err == nil {
				t.Error("Expected a validation error")
			}
		})
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero norm", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
