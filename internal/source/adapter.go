package source

import (
	"context"

	"github.com/unionresearch/orgmatch/internal/engine"
)

// Adapter is the per-source contract the engine consumes. Implementations
// own ingestion into the staging table and, transitionally, the projection
// of ledger decisions back into source-specific legacy tables.
type Adapter interface {
	// System returns the registry entry this adapter serves.
	System() System

	// LoadUnmatched returns staged records with no active HIGH/MEDIUM
	// ledger entry. A positive limit bounds the result.
	LoadUnmatched(ctx context.Context, limit int) ([]engine.SourceRecord, error)

	// LoadAll returns every staged record, for full-rematch runs.
	LoadAll(ctx context.Context, limit int) ([]engine.SourceRecord, error)

	// Stage ingests records into the staging table, computing normal
	// forms. Already-staged records are left untouched.
	Stage(ctx context.Context, records []engine.SourceRecord) (int64, error)

	// WriteLegacy projects ledger decisions into the source's legacy
	// table. No-op for sources with no legacy consumers.
	WriteLegacy(ctx context.Context, matches []LegacyMatch) (int64, error)
}

// LegacyMatch is one projected decision for a legacy consumer.
type LegacyMatch struct {
	SourceSystem string
	SourceID     string
	EmployerID   int64
	Method       string
	Score        float64
}
