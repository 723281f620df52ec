package usecase

import (
	"math"
	"testing"
)

func TestScorer_Score(t *testing.T) {
	scorer := NewScorer(ScorerConfig{})

	t.Run("relevant candidate outscores unrelated one", func(t *testing.T) {
		milk := scorer.Score("milk", "fresh milk 2l")
		bread := scorer.Score("milk", "whole grain bread")
		if milk <= bread {
			t.Errorf("Score(milk, fresh milk 2l) = %v, want > Score(milk, bread) = %v", milk, bread)
		}
	})

	t.Run("identical strings score word fraction plus substring bonus", func(t *testing.T) {
		got := scorer.Score("organic peanut butter", "organic peanut butter")
		if got != 110 {
			t.Errorf("Score(identical) = %v, want 110", got)
		}
	})

	t.Run("substring containment earns the bonus", func(t *testing.T) {
		with := scorer.Score("peanut butter", "organic peanut butter 500g")
		without := scorer.Score("butter peanut", "organic peanut butter 500g")
		if with <= without {
			t.Errorf("substring query = %v, want > reordered query = %v", with, without)
		}
	})

	t.Run("case insensitive", func(t *testing.T) {
		lower := scorer.Score("milk", "fresh milk")
		upper := scorer.Score("MILK", "Fresh MILK")
		if lower != upper {
			t.Errorf("case difference changed score: %v vs %v", lower, upper)
		}
	})

	t.Run("empty query scores zero", func(t *testing.T) {
		got := scorer.Score("", "anything")
		if got != 0 || math.IsNaN(got) {
			t.Errorf("Score(empty) = %v, want 0", got)
		}
	})

	t.Run("no shared words scores zero", func(t *testing.T) {
		if got := scorer.Score("milk", "bread"); got != 0 {
			t.Errorf("Score(disjoint) = %v, want 0", got)
		}
	})
}

func TestScorer_Matches(t *testing.T) {
	scorer := NewScorer(ScorerConfig{SearchThreshold: 70})

	score, ok := scorer.Matches("milk", "fresh milk 2l")
	if !ok {
		t.Errorf("Matches(milk, fresh milk 2l) = %v, want match", score)
	}
	if _, ok := scorer.Matches("milk chocolate bar", "fresh milk"); ok {
		t.Error("Matches(milk chocolate bar, fresh milk) matched, want below threshold")
	}
}

func TestScorer_Defaults(t *testing.T) {
	scorer := NewScorer(ScorerConfig{})
	if got := scorer.SearchThreshold(); got != 70 {
		t.Errorf("SearchThreshold() = %v, want 70", got)
	}
	if got := scorer.RelationThreshold(); got != 0.7 {
		t.Errorf("RelationThreshold() = %v, want 0.7", got)
	}
}

func TestScorer_ProductSimilarity(t *testing.T) {
	scorer := NewScorer(ScorerConfig{})
	price := func(v float64) *float64 { return &v }

	t.Run("name only when a price is missing", func(t *testing.T) {
		got := scorer.ProductSimilarity("fresh milk", "fresh milk", price(10), nil)
		if got != 1 {
			t.Errorf("ProductSimilarity = %v, want 1", got)
		}
	})

	t.Run("price gap reduces the blended score", func(t *testing.T) {
		close := scorer.ProductSimilarity("fresh milk", "fresh milk", price(10), price(11))
		far := scorer.ProductSimilarity("fresh milk", "fresh milk", price(10), price(20))
		if close <= far {
			t.Errorf("close prices = %v, want > far prices = %v", close, far)
		}
	})

	t.Run("huge price gap pushes pair below relation threshold", func(t *testing.T) {
		got := scorer.ProductSimilarity("fresh milk", "fresh milk", price(1), price(1000))
		if got < 0 || got >= scorer.RelationThreshold() {
			t.Errorf("ProductSimilarity = %v, want in [0, %v)", got, scorer.RelationThreshold())
		}
	})

	t.Run("penalty never drives the score negative", func(t *testing.T) {
		got := scorer.ProductSimilarity("milk bread", "fresh milk", price(1), price(1000))
		if got != 0 {
			t.Errorf("ProductSimilarity = %v, want clamped to 0", got)
		}
	})

	t.Run("empty name never matches", func(t *testing.T) {
		if got := scorer.ProductSimilarity("", "fresh milk", price(10), price(10)); got != 0 {
			t.Errorf("ProductSimilarity(empty name) = %v, want 0", got)
		}
	})

	t.Run("name score above 100 clamps before blending", func(t *testing.T) {
		got := scorer.ProductSimilarity("fresh milk", "fresh milk", price(10), price(10))
		if got != 1 {
			t.Errorf("ProductSimilarity(identical) = %v, want 1", got)
		}
	})
}
