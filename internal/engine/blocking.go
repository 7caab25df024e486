package engine

import "strings"

// BlockKey is a cheap partition key bounding pairwise comparison. Records are
// only ever compared within a shared block; candidate-generation SQL must be
// constrained to one block and backed by an index.
type BlockKey string

const namePrefixLen = 5

// BlockKeys derives the partition keys for a record: jurisdiction alone,
// jurisdiction + 2-digit industry prefix, and jurisdiction + normalized name
// prefix. A record with no jurisdiction yields no keys and is skipped by the
// blocked matchers rather than triggering a global scan.
func BlockKeys(rec SourceRecord) []BlockKey {
	state := strings.ToUpper(strings.TrimSpace(rec.Jurisdiction))
	if state == "" {
		return nil
	}

	keys := []BlockKey{BlockKey(state)}

	if naics2 := NAICSPrefix(rec.NAICS); naics2 != "" {
		keys = append(keys, BlockKey(state+"|"+naics2))
	}

	if prefix := NamePrefix(rec.Name); prefix != "" {
		keys = append(keys, BlockKey(state+"|"+prefix))
	}

	return keys
}

// NamePrefix returns the blocking prefix of the aggressive-normalized name.
func NamePrefix(name string) string {
	agg := NormalizeAggressive(name)
	if agg == "" {
		return ""
	}
	if len(agg) > namePrefixLen {
		return agg[:namePrefixLen]
	}
	return agg
}

// NAICSPrefix returns the 2-digit sector prefix of an industry code.
func NAICSPrefix(naics string) string {
	code := strings.TrimSpace(naics)
	if len(code) < 2 {
		return ""
	}
	return code[:2]
}
