package usecase

import (
	"math"
	"strings"
)

// Scoring constants
const (
	substringBonus           = 10.0 // query is a literal substring of the candidate
	defaultSearchThreshold   = 70.0 // minimum score for a fuzzy-search match
	defaultRelationThreshold = 0.7  // minimum similarity for a cross-store relation
)

// ScorerConfig holds the tunable thresholds for the similarity scorer.
type ScorerConfig struct {
	SearchThreshold   float64
	RelationThreshold float64
}

// Scorer computes text similarity between a query and a candidate name.
// The score is asymmetric and order-dependent: a short, specific query fully
// contained in a long candidate scores highly even with few shared tokens,
// which is what search-as-you-type wants.
type Scorer struct {
	searchThreshold   float64
	relationThreshold float64
}

// NewScorer creates a scorer with the given thresholds, falling back to the
// defaults for zero or negative values.
func NewScorer(config ScorerConfig) *Scorer {
	searchThreshold := config.SearchThreshold
	if searchThreshold <= 0 {
		searchThreshold = defaultSearchThreshold
	}
	relationThreshold := config.RelationThreshold
	if relationThreshold <= 0 {
		relationThreshold = defaultRelationThreshold
	}
	return &Scorer{
		searchThreshold:   searchThreshold,
		relationThreshold: relationThreshold,
	}
}

// Score computes the match score of query against candidate in [0, 110]:
// the fraction of query words present in the candidate, scaled to 100, plus
// a flat bonus when the normalized query is a literal substring of the
// candidate. An empty query scores 0 (the denominator is floored at 1).
func (s *Scorer) Score(query, candidate string) float64 {
	query = strings.ToLower(query)
	candidate = strings.ToLower(candidate)

	queryWords := wordSet(query)
	candidateWords := wordSet(candidate)

	common := 0
	for w := range queryWords {
		if candidateWords[w] {
			common++
		}
	}

	score := float64(common) / math.Max(float64(len(queryWords)), 1) * 100
	if query != "" && strings.Contains(candidate, query) {
		score += substringBonus
	}
	return score
}

// Matches reports the score of query against candidate and whether it clears
// the search threshold.
func (s *Scorer) Matches(query, candidate string) (float64, bool) {
	score := s.Score(query, candidate)
	return score, score >= s.searchThreshold
}

// SearchThreshold returns the configured minimum fuzzy-search score.
func (s *Scorer) SearchThreshold() float64 { return s.searchThreshold }

// RelationThreshold returns the configured minimum cross-store similarity.
func (s *Scorer) RelationThreshold() float64 { return s.relationThreshold }

// ProductSimilarity scores two products in [0, 1] for cross-store matching.
// The name term reuses Score, normalized to [0, 1]. When both products have
// a known latest price, the normalized absolute price difference (relative
// to the larger amount) is subtracted: identical products across retailers
// rarely diverge enormously in price, so a name match with wildly different
// prices is penalized. A missing name on either side makes the pair
// non-matching.
func (s *Scorer) ProductSimilarity(nameA, nameB string, latestA, latestB *float64) float64 {
	if nameA == "" || nameB == "" {
		return 0
	}

	nameScore := math.Min(s.Score(nameA, nameB), 100) / 100

	if latestA == nil || latestB == nil {
		return nameScore
	}
	larger := math.Max(*latestA, *latestB)
	if larger <= 0 {
		return nameScore
	}
	blended := nameScore - math.Abs(*latestA-*latestB)/larger
	return math.Max(blended, 0)
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(s)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
