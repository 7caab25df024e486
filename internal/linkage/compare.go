package linkage

import (
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/unionresearch/orgmatch/internal/engine"
)

// Record is one side of a comparison pair, reduced to the normalized field
// values the spec compares. Ref identifies the record inside its dataset and
// TargetID carries the canonical id when the record is a canonical entity.
type Record struct {
	Ref      string
	TargetID int64
	Values   map[string]string
}

// FromSource projects a staged source record into a linkage record. Name is
// compared in aggressive normal form so legal-suffix noise never reaches the
// model.
func FromSource(rec engine.SourceRecord) Record {
	norm := engine.Normalize(rec.Name)
	return Record{
		Ref: rec.SourceID,
		Values: map[string]string{
			"name":           norm.Aggressive,
			"jurisdiction":   strings.ToUpper(strings.TrimSpace(rec.Jurisdiction)),
			"city":           strings.ToUpper(strings.TrimSpace(rec.City)),
			"zip":            strings.TrimSpace(rec.Zip),
			"naics":          strings.TrimSpace(rec.NAICS),
			"street_address": strings.ToUpper(strings.TrimSpace(rec.StreetAddress)),
		},
	}
}

// FromCanonical projects a canonical entity into a linkage record.
func FromCanonical(org engine.CanonicalOrg) Record {
	// Canonical entities carry no zip or street address; those fields
	// compare as missing, which buckets to disagreement.
	return Record{
		Ref:      fmt.Sprintf("canonical:%d", org.ID),
		TargetID: org.ID,
		Values: map[string]string{
			"name":         org.NameAggressive,
			"jurisdiction": strings.ToUpper(strings.TrimSpace(org.Jurisdiction)),
			"city":         strings.ToUpper(strings.TrimSpace(org.City)),
			"naics":        strings.TrimSpace(org.NAICS),
		},
	}
}

// Vector is a comparison vector: one agreement level per spec field, in spec
// field order. Level 0 is disagreement (or a missing value on either side).
type Vector []int

// Compare builds the comparison vector for one pair.
func Compare(spec FieldSpec, a, b Record) Vector {
	vec := make(Vector, len(spec.Fields))
	for i, f := range spec.Fields {
		vec[i] = compareField(f, a.Values[f.Name], b.Values[f.Name])
	}
	return vec
}

// compareField buckets one field pair into a discrete agreement level.
// Missing values compare as disagreement rather than a separate level; the
// m/u estimates absorb the resulting conservatism.
func compareField(f Field, av, bv string) int {
	if av == "" || bv == "" {
		return 0
	}
	switch f.Comparator {
	case CompareExact:
		if av == bv {
			return 1
		}
		return 0
	case ComparePrefix:
		if av == bv {
			return 2
		}
		if prefixN(av, f.PrefixLen) == prefixN(bv, f.PrefixLen) {
			return 1
		}
		return 0
	case CompareLevenshtein:
		return bucketSimilarity(levenshteinSimilarity(av, bv), f.PartialThreshold)
	case CompareTrigram:
		return bucketSimilarity(trigramSimilarity(av, bv), f.PartialThreshold)
	}
	return 0
}

func bucketSimilarity(sim, partial float64) int {
	switch {
	case sim >= 1.0:
		return 2
	case sim >= partial:
		return 1
	default:
		return 0
	}
}

func prefixN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// levenshteinSimilarity maps edit distance to [0,1] scaled by the longer
// string.
func levenshteinSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	longer := len([]rune(a))
	if lb := len([]rune(b)); lb > longer {
		longer = lb
	}
	if longer == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	sim := 1.0 - float64(dist)/float64(longer)
	if sim < 0 {
		return 0
	}
	return sim
}

// trigramSimilarity mirrors the Postgres pg_trgm measure closely enough for
// in-process use: Jaccard similarity of padded letter trigrams.
func trigramSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ta := trigramSet(a)
	tb := trigramSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for t := range ta {
		if tb[t] {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	return float64(shared) / float64(union)
}

func trigramSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, word := range strings.Fields(s) {
		padded := "  " + word + " "
		for i := 0; i+3 <= len(padded); i++ {
			set[padded[i:i+3]] = true
		}
	}
	return set
}
