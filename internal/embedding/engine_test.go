package embedding

import "testing"

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	sim, err := CosineSimilarity(a, b)
	if err != nil {
		t.Fatalf("CosineSimilarity: %v", err)
	}
	if sim < 0.999 {
		t.Errorf("identical vectors similarity = %v, want ~1", sim)
	}

	c := []float32{0, 1, 0}
	sim, _ = CosineSimilarity(a, c)
	if sim != 0 {
		t.Errorf("orthogonal vectors similarity = %v, want 0", sim)
	}

	if _, err := CosineSimilarity(a, []float32{1, 0}); err == nil {
		t.Error("dimension mismatch should error")
	}

	if sim, _ := CosineSimilarity([]float32{0, 0}, []float32{0, 0}); sim != 0 {
		t.Errorf("zero vectors similarity = %v, want 0", sim)
	}
}

func TestFindTopK(t *testing.T) {
	query := []float32{1, 0}
	corpus := [][]float32{
		{0, 1},       // orthogonal
		{1, 0},       // identical
		{0.7, 0.7},   // diagonal
		{1, 0, 0, 0}, // wrong dimensions, skipped
	}

	results := FindTopK(query, corpus, 2)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Index != 1 {
		t.Errorf("best match index = %d, want 1", results[0].Index)
	}
	if results[1].Index != 2 {
		t.Errorf("second match index = %d, want 2", results[1].Index)
	}
}

func TestNewEngine_UnknownProvider(t *testing.T) {
	if _, err := NewEngine(Config{Provider: "carrier-pigeon"}); err == nil {
		t.Error("unknown provider should error")
	}
}
