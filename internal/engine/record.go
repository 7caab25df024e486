// Package engine implements cross-source employer entity resolution:
// normalization, blocking, the deterministic tiered matcher, and match
// arbitration.
package engine

import "time"

// SourceRecord is one employer record from an external administrative source.
// Immutable once ingested; the engine only reads it.
type SourceRecord struct {
	SourceSystem  string `json:"source_system" db:"source_system"`
	SourceID      string `json:"source_id" db:"source_id"`
	Name          string `json:"name" db:"name"`
	Jurisdiction  string `json:"jurisdiction" db:"jurisdiction"`
	City          string `json:"city,omitempty" db:"city"`
	Zip           string `json:"zip,omitempty" db:"zip"`
	NAICS         string `json:"naics,omitempty" db:"naics"`
	EIN           string `json:"ein,omitempty" db:"ein"`
	StreetAddress string `json:"street_address,omitempty" db:"street_address"`
	AliasName     string `json:"alias_name,omitempty" db:"alias_name"`
}

// CanonicalOrg is the resolved real-world employer identity. Created when the
// first record for a new entity appears; mutated only by the consolidator;
// never physically deleted; "deletion" is a merge into a survivor.
type CanonicalOrg struct {
	ID             int64     `json:"id" db:"id"`
	DisplayName    string    `json:"display_name" db:"display_name"`
	NameAggressive string    `json:"name_aggressive" db:"name_aggressive"`
	Jurisdiction   string    `json:"jurisdiction" db:"jurisdiction"`
	City           string    `json:"city,omitempty" db:"city"`
	NAICS          string    `json:"naics,omitempty" db:"naics"`
	SizeMetric     int64     `json:"size_metric" db:"size_metric"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Member links a source record into a canonical group. Exactly one member per
// group carries the representative flag used for display.
type Member struct {
	CanonicalID      int64  `json:"canonical_id" db:"canonical_id"`
	SourceSystem     string `json:"source_system" db:"source_system"`
	SourceID         string `json:"source_id" db:"source_id"`
	IsRepresentative bool   `json:"is_representative" db:"is_representative"`
}

// Tier identifies which matcher produced a candidate.
type Tier string

const (
	TierDeterministic Tier = "deterministic"
	TierProbabilistic Tier = "probabilistic"
)

// ConfidenceBand is the coarse bucket derived from a continuous score.
type ConfidenceBand string

const (
	BandHigh   ConfidenceBand = "HIGH"
	BandMedium ConfidenceBand = "MEDIUM"
	BandLow    ConfidenceBand = "LOW"
)

// MatchCandidate is an ephemeral scored pairing of one source record to one
// canonical org. Never persisted directly; consumed by the arbitrator.
type MatchCandidate struct {
	SourceSystem string         `json:"source_system"`
	SourceID     string         `json:"source_id"`
	TargetID     int64          `json:"target_id"`
	Method       string         `json:"method"`
	Tier         Tier           `json:"tier"`
	Score        float64        `json:"score"`
	Evidence     map[string]any `json:"evidence,omitempty"`
}

// OutcomeKind classifies the terminal state of one source record in a run.
// Absence of a match is a value, not an error.
type OutcomeKind int

const (
	OutcomeNoCandidate OutcomeKind = iota
	OutcomeMatched
	OutcomeRejected
)

// String returns the human-readable outcome name.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeMatched:
		return "matched"
	case OutcomeRejected:
		return "rejected"
	default:
		return "no_candidate"
	}
}

// MatchOutcome is the per-record arbitration result.
type MatchOutcome struct {
	Kind      OutcomeKind
	Candidate *MatchCandidate // nil for OutcomeNoCandidate
	Band      ConfidenceBand  // set for Matched and Rejected
}
