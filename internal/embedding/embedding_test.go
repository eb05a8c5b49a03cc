package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/rcliao/agent-continuity/internal/model"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float64
		delta    float64
	}{
		{"identical", Vector{1, 0, 0}, Vector{1, 0, 0}, 1.0, 0.001},
		{"orthogonal", Vector{1, 0, 0}, Vector{0, 1, 0}, 0.0, 0.001},
		{"opposite", Vector{1, 0, 0}, Vector{-1, 0, 0}, -1.0, 0.001},
		{"similar", Vector{1, 1, 0}, Vector{1, 0, 0}, 0.707, 0.01},
		{"empty", Vector{}, Vector{}, 0.0, 0.001},
		{"different lengths", Vector{1, 0}, Vector{1, 0, 0}, 0.0, 0.001},
		{"zero vector", Vector{0, 0, 0}, Vector{1, 0, 0}, 0.0, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.expected) > tt.delta {
				t.Errorf("CosineSimilarity(%v, %v) = %f, want %f (±%f)", tt.a, tt.b, got, tt.expected, tt.delta)
			}
		})
	}
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()
	a, _ := e.Embed(ctx, "kubernetes billing service")
	b, _ := e.Embed(ctx, "service billing kubernetes")
	if len(a) != 64 || e.Dims() != 64 {
		t.Fatalf("expected 64 dims, got %d", len(a))
	}
	if got := CosineSimilarity(a, b); math.Abs(got-1) > 1e-6 {
		t.Errorf("expected identical keyword sets to score 1, got %f", got)
	}
}

func TestScorerRanksRelatedContentHigher(t *testing.T) {
	s := NewScorer(NewHashEmbedder(0))
	ctx := context.Background()
	related := &model.Entry{Content: "The user deploys the billing service on kubernetes"}
	unrelated := &model.Entry{Content: "Grandma's lasagna recipe uses ricotta"}

	hi, err := s.Similarity(ctx, "billing kubernetes deploys", related)
	if err != nil {
		t.Fatalf("similarity: %v", err)
	}
	lo, _ := s.Similarity(ctx, "billing kubernetes deploys", unrelated)
	if hi <= lo {
		t.Errorf("expected related (%f) > unrelated (%f)", hi, lo)
	}
}
