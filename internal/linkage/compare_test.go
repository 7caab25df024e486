package linkage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unionresearch/orgmatch/internal/engine"
)

func TestFromSourceNormalizesName(t *testing.T) {
	rec := FromSource(engine.SourceRecord{
		SourceID:     "A1",
		Name:         "Acme Widgets, Inc.",
		Jurisdiction: "nc",
		City:         "Durham",
		Zip:          "27701",
	})
	assert.Equal(t, "ACME WIDGETS", rec.Values["name"])
	assert.Equal(t, "NC", rec.Values["jurisdiction"])
	assert.Equal(t, "DURHAM", rec.Values["city"])
}

func TestCompareFieldExact(t *testing.T) {
	f := Field{Name: "jurisdiction", Comparator: CompareExact, Levels: 2}
	assert.Equal(t, 1, compareField(f, "NC", "NC"))
	assert.Equal(t, 0, compareField(f, "NC", "SC"))
	assert.Equal(t, 0, compareField(f, "", "NC"))
}

func TestCompareFieldPrefix(t *testing.T) {
	f := Field{Name: "zip", Comparator: ComparePrefix, Levels: 3, PrefixLen: 3}
	assert.Equal(t, 2, compareField(f, "27701", "27701"))
	assert.Equal(t, 1, compareField(f, "27701", "27705"))
	assert.Equal(t, 0, compareField(f, "27701", "10001"))
}

func TestCompareFieldLevenshtein(t *testing.T) {
	f := Field{Name: "city", Comparator: CompareLevenshtein, Levels: 3, PartialThreshold: 0.75}
	assert.Equal(t, 2, compareField(f, "DURHAM", "DURHAM"))
	// One edit in six characters, similarity ~0.83.
	assert.Equal(t, 1, compareField(f, "DURHAM", "DURHAN"))
	assert.Equal(t, 0, compareField(f, "DURHAM", "RALEIGH"))
}

func TestCompareFieldTrigram(t *testing.T) {
	f := Field{Name: "name", Comparator: CompareTrigram, Levels: 3, PartialThreshold: 0.5}
	assert.Equal(t, 2, compareField(f, "ACME WIDGETS", "ACME WIDGETS"))
	level := compareField(f, "ACME WIDGETS", "ACME WIDGET")
	assert.Equal(t, 1, level)
	assert.Equal(t, 0, compareField(f, "ACME WIDGETS", "ZENITH FOUNDRY"))
}

func TestCompareBuildsVectorInFieldOrder(t *testing.T) {
	spec := DefaultFieldSpec()
	a := FromSource(engine.SourceRecord{
		SourceID: "A1", Name: "Acme Widgets Inc", Jurisdiction: "NC",
		City: "Durham", Zip: "27701", NAICS: "332710",
	})
	b := FromCanonical(engine.CanonicalOrg{
		ID: 7, NameAggressive: "ACME WIDGETS", Jurisdiction: "NC",
		City: "Durham", NAICS: "332710",
	})

	vec := Compare(spec, a, b)
	require.Len(t, vec, len(spec.Fields))
	assert.Equal(t, 2, vec[0], "name agrees exactly after normalization")
	assert.Equal(t, 1, vec[1], "jurisdiction agrees")
	assert.Equal(t, 2, vec[2], "city agrees")
	assert.Equal(t, 0, vec[3], "zip missing on canonical side")
	assert.Equal(t, 2, vec[4], "naics agrees")
	assert.Equal(t, 0, vec[5], "street missing on both sides")
}

func TestTrigramSimilarityBounds(t *testing.T) {
	assert.Equal(t, 1.0, trigramSimilarity("ACME", "ACME"))
	assert.Equal(t, 0.0, trigramSimilarity("", "ACME"))
	sim := trigramSimilarity("ACME WIDGETS", "ACME WIDGET")
	assert.Greater(t, sim, 0.4)
	assert.Less(t, sim, 1.0)
}

func TestLevenshteinSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, levenshteinSimilarity("DURHAM", "DURHAM"))
	assert.InDelta(t, 0.833, levenshteinSimilarity("DURHAM", "DURHAN"), 0.01)
	assert.Equal(t, 0.0, levenshteinSimilarity("", ""))
}
