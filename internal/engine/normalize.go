package engine

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizedName carries both normal forms of an employer name. Aggressive is
// used for exact-key matching and blocking; Standard keeps legal suffixes for
// tiers that are suffix-sensitive.
type NormalizedName struct {
	Aggressive string `json:"aggressive"`
	Standard   string `json:"standard"`
}

// legalSuffixes lists common legal entity suffixes to strip during aggressive
// normalization. Stripping repeats until no suffix matches, so stacked
// suffixes ("X Inc. LLC") reduce fully.
var legalSuffixes = []string{
	" LLC", " L.L.C.", " L.L.C",
	" INC", " INC.", " INCORPORATED",
	" CORP", " CORP.", " CORPORATION",
	" LTD", " LTD.", " LIMITED",
	" LP", " L.P.", " L.P",
	" LLP", " L.L.P.", " L.L.P",
	" PC", " P.C.", " P.C",
	" PA", " P.A.", " P.A",
	" CO", " CO.", " COMPANY",
	" PLC", " P.L.C.",
	" NA", " N.A.", " N.A",
	" PLLC",
}

// dbaMarkers cut the name at a "doing business as" marker; the trade name
// after it is carried separately as the record's alias.
var dbaMarkers = []string{" D/B/A ", " DBA ", " D.B.A. "}

var (
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)
	punctReplace = strings.NewReplacer(
		",", " ",
		".", " ",
		"'", "",
		"\"", "",
		"&", " AND ",
		"-", " ",
		"/", " ",
		"(", " ",
		")", " ",
		"#", " ",
	)
	foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// Normalize canonicalizes a free-text employer name into both comparison
// forms. Deterministic, pure, and total: malformed input degrades to
// best-effort, never an error. Idempotent on both forms.
func Normalize(raw string) NormalizedName {
	standard := collapseSpace(strings.ToUpper(strings.TrimSpace(raw)))
	return NormalizedName{
		Aggressive: NormalizeAggressive(raw),
		Standard:   standard,
	}
}

// NormalizeAggressive returns the suffix-stripped comparison key for a name.
func NormalizeAggressive(raw string) string {
	name := strings.TrimSpace(raw)
	if name == "" {
		return ""
	}

	name = strings.ToUpper(name)

	if folded, _, err := transform.String(foldDiacritics, name); err == nil {
		name = folded
	}

	name = cutDBATail(name)

	// Suffix stripping can expose new suffixes once punctuation collapses
	// (e.g. "X (INC)"), so iterate strip+collapse to a fixed point.
	for i := 0; i < 4; i++ {
		prev := name
		name = stripSuffixes(name)
		name = punctReplace.Replace(name)
		name = collapseSpace(name)
		if name == prev {
			break
		}
	}

	return name
}

// stripSuffixes removes trailing legal-entity suffixes, repeatedly, so
// stacked suffixes reduce fully.
func stripSuffixes(name string) string {
	for {
		stripped := false
		for _, suffix := range legalSuffixes {
			if strings.HasSuffix(name, suffix) {
				name = strings.TrimSpace(strings.TrimSuffix(name, suffix))
				stripped = true
				break
			}
		}
		if !stripped {
			return name
		}
	}
}

// cutDBATail drops a "doing business as" marker and everything after it.
func cutDBATail(name string) string {
	for _, marker := range dbaMarkers {
		if i := strings.Index(name, marker); i >= 0 {
			name = name[:i]
		}
	}
	// Trailing marker with nothing after it.
	for _, marker := range dbaMarkers {
		name = strings.TrimSuffix(name, strings.TrimRight(marker, " "))
	}
	return strings.TrimSpace(name)
}

func collapseSpace(s string) string {
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(s, " "))
}

// NormalizeAggressiveSQL returns a SQL expression applying the aggressive
// normalization to a column, for use in backfill and projection statements.
// Mirrors NormalizeAggressive minus diacritic folding (handled by unaccent
// where installed).
func NormalizeAggressiveSQL(col string) string {
	return `UPPER(TRIM(
    REGEXP_REPLACE(
        REGEXP_REPLACE(
            REGEXP_REPLACE(
                REPLACE(REPLACE(REPLACE(REPLACE(REPLACE(REPLACE(` + col + `,
                    ',', ' '), '.', ' '), '''', ''), '"', ''), '&', ' AND '), '-', ' '),
                '\s+D/?B/?A\s+.*$', '', 'i'),
            '(\s+(LLC|L\s?L\s?C|INC|INCORPORATED|CORP|CORPORATION|LTD|LIMITED|L\s?P|L\s?L\s?P|P\s?C|P\s?A|CO|COMPANY|PLC|P\s?L\s?C|N\s?A|PLLC))+\s*$',
            '', 'i'),
        '\s+', ' ', 'g')
    ))`
}
