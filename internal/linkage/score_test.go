package linkage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// handTunedParams builds a model with obvious separation for the two-field
// spec, bypassing EM.
func handTunedParams() Params {
	return Params{
		Fields: []FieldParams{
			{Name: "name", M: []float64{0.05, 0.15, 0.80}, U: []float64{0.95, 0.04, 0.01}},
			{Name: "jurisdiction", M: []float64{0.05, 0.95}, U: []float64{0.90, 0.10}},
		},
		Prior: 0.01,
	}
}

func TestProbabilityOrdersAgreement(t *testing.T) {
	scorer := NewScorer(twoFieldSpec(), handTunedParams())

	full := scorer.Probability(Vector{2, 1})
	partial := scorer.Probability(Vector{1, 1})
	none := scorer.Probability(Vector{0, 0})

	assert.Greater(t, full, partial)
	assert.Greater(t, partial, none)
	assert.Greater(t, full, 0.8)
	assert.Less(t, none, 0.01)
}

func TestScorePairsFiltersAndSorts(t *testing.T) {
	spec := twoFieldSpec()
	scorer := NewScorer(spec, handTunedParams())

	sources := []Record{
		syntheticRecord("s2", "ACME", "NC"),
		syntheticRecord("s1", "ZENITH", "NC"),
	}
	targets := []Record{
		{Ref: "canonical:10", TargetID: 10, Values: map[string]string{"name": "ACME", "jurisdiction": "NC"}},
		{Ref: "canonical:20", TargetID: 20, Values: map[string]string{"name": "ZENITH", "jurisdiction": "NC"}},
	}

	rule := spec.Blocking[0]
	candidates := scorer.ScorePairs("osha", sources, targets, rule, 0.5)
	require.Len(t, candidates, 2, "cross pairs score below the floor")

	// Ordered by source id, not input order.
	assert.Equal(t, "s1", candidates[0].SourceID)
	assert.Equal(t, int64(20), candidates[0].TargetID)
	assert.Equal(t, "s2", candidates[1].SourceID)
	assert.Equal(t, int64(10), candidates[1].TargetID)

	for _, c := range candidates {
		assert.Equal(t, "fellegi_sunter_em", c.Method)
		assert.GreaterOrEqual(t, c.Score, 0.5)
		levels, ok := c.Evidence["levels"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, 2, levels["name"])
	}
}

func TestScoreWithinDedupesOrderedPairs(t *testing.T) {
	spec := twoFieldSpec()
	scorer := NewScorer(spec, handTunedParams())

	records := []Record{
		{Ref: "canonical:30", TargetID: 30, Values: map[string]string{"name": "ACME", "jurisdiction": "NC"}},
		{Ref: "canonical:10", TargetID: 10, Values: map[string]string{"name": "ACME", "jurisdiction": "NC"}},
		{Ref: "canonical:40", TargetID: 40, Values: map[string]string{"name": "ZENITH", "jurisdiction": "SC"}},
	}

	rule := spec.Blocking[0]
	pairs := scorer.ScoreWithin(records, rule, 0.5)
	require.Len(t, pairs, 1)
	assert.Equal(t, int64(10), pairs[0].LeftID, "pair ids normalized low-high")
	assert.Equal(t, int64(30), pairs[0].RightID)
	assert.Greater(t, pairs[0].Score, 0.5)
}
