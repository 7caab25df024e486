package engine

import "fmt"

// candidateColumns is the SELECT list shared by every tier query: one best
// candidate per source record with the evidence needed downstream.
const candidateColumns = `
    r.source_id,
    c.id AS target_id,
    r.name AS source_name,
    c.display_name AS target_name`

// unmatchedFilter restricts a tier to source records with no active
// HIGH/MEDIUM ledger entry. Absence of a match is a normal state, so these
// records simply reappear on the next run.
const unmatchedFilter = `
  AND NOT EXISTS (
      SELECT 1 FROM org_match.unified_match_log l
      WHERE l.source_system = r.source_system
        AND l.source_id = r.source_id
        AND l.status = 'active'
        AND l.confidence_band IN ('HIGH', 'MEDIUM')
  )`

// Tier 1: exact aggressive-normalized name + jurisdiction. Fixed score 0.95.
func tier1ExactAggressiveSQL() string {
	return `
SELECT DISTINCT ON (r.source_id)` + candidateColumns + `,
    0.95::FLOAT8 AS score,
    1.0::FLOAT8 AS similarity
FROM org_match.source_records r
JOIN org_match.canonical_orgs c
    ON r.name_aggressive = c.name_aggressive
    AND r.jurisdiction = c.jurisdiction
WHERE r.source_system = $1
  AND r.name_aggressive != ''` + unmatchedFilter + `
ORDER BY r.source_id, c.id`
}

// Tier 2: exact standard-normalized name + jurisdiction. Slightly lower score
// because punctuation differences survive the standard form.
func tier2ExactStandardSQL() string {
	return `
SELECT DISTINCT ON (r.source_id)` + candidateColumns + `,
    0.90::FLOAT8 AS score,
    1.0::FLOAT8 AS similarity
FROM org_match.source_records r
JOIN org_match.canonical_orgs c
    ON r.name_standard = c.name_standard
    AND r.jurisdiction = c.jurisdiction
WHERE r.source_system = $1
  AND r.name_standard != ''` + unmatchedFilter + `
ORDER BY r.source_id, c.id`
}

// Tier 3: same city + jurisdiction, trigram similarity above threshold.
// The % operator keeps the join bound to the trigram GIN index; raw
// similarity() joins without it are forbidden (they degrade to full scans).
func tier3CityFuzzySQL(threshold float64) string {
	return fmt.Sprintf(`
SELECT DISTINCT ON (r.source_id)`+candidateColumns+`,
    GREATEST(%[1]v, similarity(r.name_aggressive, c.name_aggressive))::FLOAT8 AS score,
    similarity(r.name_aggressive, c.name_aggressive)::FLOAT8 AS similarity
FROM org_match.source_records r
JOIN org_match.canonical_orgs c
    ON r.name_aggressive %% c.name_aggressive
    AND r.jurisdiction = c.jurisdiction
    AND UPPER(r.city) = UPPER(c.city)
WHERE r.source_system = $1
  AND r.city != ''
  AND c.city != ''
  AND similarity(r.name_aggressive, c.name_aggressive) >= %[1]v`+unmatchedFilter+`
ORDER BY r.source_id, similarity(r.name_aggressive, c.name_aggressive) DESC, c.id`, threshold)
}

// Tier 4: jurisdiction + 2-digit industry prefix, fuzzy name. Wider geography
// tolerated only because industry constrains the search space, so the
// threshold is higher than tier 3's.
func tier4IndustryFuzzySQL(threshold float64) string {
	return fmt.Sprintf(`
SELECT DISTINCT ON (r.source_id)`+candidateColumns+`,
    similarity(r.name_aggressive, c.name_aggressive)::FLOAT8 AS score,
    similarity(r.name_aggressive, c.name_aggressive)::FLOAT8 AS similarity
FROM org_match.source_records r
JOIN org_match.canonical_orgs c
    ON r.name_aggressive %% c.name_aggressive
    AND r.jurisdiction = c.jurisdiction
    AND LEFT(r.naics, 2) = LEFT(c.naics, 2)
WHERE r.source_system = $1
  AND LENGTH(r.naics) >= 2
  AND LENGTH(c.naics) >= 2
  AND similarity(r.name_aggressive, c.name_aggressive) >= %[1]v`+unmatchedFilter+`
ORDER BY r.source_id, similarity(r.name_aggressive, c.name_aggressive) DESC, c.id`, threshold)
}

// Tier 5: alias ("doing business as" trade name) exact match + jurisdiction.
func tier5AliasExactSQL() string {
	return `
SELECT DISTINCT ON (r.source_id)` + candidateColumns + `,
    0.80::FLOAT8 AS score,
    1.0::FLOAT8 AS similarity
FROM org_match.source_records r
JOIN org_match.canonical_orgs c
    ON r.alias_aggressive = c.name_aggressive
    AND r.jurisdiction = c.jurisdiction
WHERE r.source_system = $1
  AND r.alias_aggressive != ''` + unmatchedFilter + `
ORDER BY r.source_id, c.id`
}
