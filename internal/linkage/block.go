package linkage

import (
	"strings"

	"github.com/unionresearch/orgmatch/internal/engine"
)

// pair indexes one comparison pair: i into dataset A, j into dataset B
// (or both into A in self-dedupe mode).
type pair struct {
	i, j int
}

// blockValue extracts one blocking key attribute from a record. Returns
// false when the attribute is missing, which excludes the record from the
// block entirely rather than lumping all blanks into one giant block.
func blockValue(r Record, key string) (string, bool) {
	switch key {
	case "jurisdiction":
		v := r.Values["jurisdiction"]
		return v, v != ""
	case "name_prefix":
		// Values["name"] already carries the aggressive form, for which
		// engine.NamePrefix is idempotent.
		prefix := engine.NamePrefix(r.Values["name"])
		return prefix, prefix != ""
	case "zip_prefix":
		zip := r.Values["zip"]
		if len(zip) < 3 {
			return "", false
		}
		return zip[:3], true
	case "naics2":
		naics2 := engine.NAICSPrefix(r.Values["naics"])
		return naics2, naics2 != ""
	}
	return "", false
}

// blockKey builds the compound block key for a record under one rule.
func blockKey(rule BlockingRule, r Record) (string, bool) {
	parts := make([]string, 0, len(rule.Keys))
	for _, k := range rule.Keys {
		v, ok := blockValue(r, k)
		if !ok {
			return "", false
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, "\x00"), true
}

// pairsAcross generates all cross-dataset pairs sharing a block key.
func pairsAcross(rule BlockingRule, a, b []Record) []pair {
	byKey := make(map[string][]int)
	for j, rec := range b {
		key, ok := blockKey(rule, rec)
		if !ok {
			continue
		}
		byKey[key] = append(byKey[key], j)
	}

	var pairs []pair
	for i, rec := range a {
		key, ok := blockKey(rule, rec)
		if !ok {
			continue
		}
		for _, j := range byKey[key] {
			pairs = append(pairs, pair{i: i, j: j})
		}
	}
	return pairs
}

// pairsWithin generates unordered within-dataset pairs sharing a block key,
// for self-dedupe mode. i < j always, so no pair appears twice.
func pairsWithin(rule BlockingRule, a []Record) []pair {
	byKey := make(map[string][]int)
	for i, rec := range a {
		key, ok := blockKey(rule, rec)
		if !ok {
			continue
		}
		byKey[key] = append(byKey[key], i)
	}

	var pairs []pair
	for _, members := range byKey {
		for x := 0; x < len(members); x++ {
			for y := x + 1; y < len(members); y++ {
				pairs = append(pairs, pair{i: members[x], j: members[y]})
			}
		}
	}
	return pairs
}
