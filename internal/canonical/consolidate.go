// Package canonical implements the identity consolidator: folding newly
// active ledger entries into group membership and the identifier crosswalk,
// deduplicating canonical orgs, and repairing orphaned references after
// merges. This package is the only writer of canonical state; matchers only
// ever append to the ledger.
package canonical

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/unionresearch/orgmatch/internal/db"
	"github.com/unionresearch/orgmatch/internal/source"
)

// Consolidator folds arbitration results into canonical state. Consolidation
// is single-writer: callers must not run two consolidation passes
// concurrently.
type Consolidator struct {
	pool db.Pool
	log  *zap.Logger
}

// NewConsolidator creates a consolidator.
func NewConsolidator(pool db.Pool) *Consolidator {
	return &Consolidator{
		pool: pool,
		log:  zap.L().With(zap.String("component", "canonical")),
	}
}

// ConsolidateSummary reports what one consolidation pass did, or would do
// under dry run.
type ConsolidateSummary struct {
	Entries         int
	MembersAdded    int64
	CrosswalkWrites int64
	MissingSystems  int
	NoIdentifier    int
}

// activeEntry is the slice of a ledger row consolidation needs.
type activeEntry struct {
	sourceSystem string
	sourceID     string
	targetID     int64
	tier         string
	score        float64
	ein          string
}

// Consolidate folds active HIGH/MEDIUM entries from one run into membership
// and the crosswalk. With apply false it counts the work without writing.
func (c *Consolidator) Consolidate(ctx context.Context, runID uuid.UUID, apply bool) (ConsolidateSummary, error) {
	entries, err := c.loadActiveEntries(ctx, runID)
	if err != nil {
		return ConsolidateSummary{}, err
	}

	summary := ConsolidateSummary{Entries: len(entries)}
	if len(entries) == 0 {
		return summary, nil
	}
	if !apply {
		c.log.Info("consolidation dry run", zap.Int("entries", len(entries)))
		return summary, nil
	}

	for _, e := range entries {
		added, err := c.ensureMember(ctx, e)
		if err != nil {
			return summary, err
		}
		summary.MembersAdded += added

		sys, err := source.Lookup(e.sourceSystem)
		if err != nil {
			// Ledger rows from a source no longer registered are kept
			// as members but contribute no identifiers.
			summary.MissingSystems++
			c.log.Warn("ledger entry from unregistered source",
				zap.String("source_system", e.sourceSystem))
			continue
		}

		identifier := identifierValue(sys, e)
		if sys.IdentifierColumn == "" || identifier == "" {
			summary.NoIdentifier++
			continue
		}

		wrote, err := c.upsertCrosswalk(ctx, e, sys.IdentifierColumn, identifier)
		if err != nil {
			return summary, err
		}
		summary.CrosswalkWrites += wrote
	}

	c.log.Info("consolidation complete",
		zap.String("run_id", runID.String()),
		zap.Int("entries", summary.Entries),
		zap.Int64("members_added", summary.MembersAdded),
		zap.Int64("crosswalk_writes", summary.CrosswalkWrites),
	)
	return summary, nil
}

// identifierValue picks the identifier a source contributes: its staged EIN
// or its own record id, per the registry.
func identifierValue(sys source.System, e activeEntry) string {
	if sys.IdentifierFromEIN {
		return e.ein
	}
	return e.sourceID
}

// loadActiveEntries reads the run's active HIGH/MEDIUM ledger entries joined
// to their staged identifiers.
func (c *Consolidator) loadActiveEntries(ctx context.Context, runID uuid.UUID) ([]activeEntry, error) {
	rows, err := c.pool.Query(ctx, `
SELECT l.source_system, l.source_id, l.target_id, l.match_tier, l.confidence_score,
       COALESCE(r.ein, '')
FROM org_match.unified_match_log l
LEFT JOIN org_match.source_records r
       ON r.source_system = l.source_system AND r.source_id = l.source_id
WHERE l.run_id = $1
  AND l.status = 'active'
  AND l.confidence_band IN ('HIGH', 'MEDIUM')
ORDER BY l.source_system, l.source_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "canonical: load active entries")
	}
	defer rows.Close()

	var entries []activeEntry
	for rows.Next() {
		var e activeEntry
		if err := rows.Scan(&e.sourceSystem, &e.sourceID, &e.targetID, &e.tier, &e.score, &e.ein); err != nil {
			return nil, eris.Wrap(err, "canonical: scan active entry")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "canonical: iterate active entries")
	}
	return entries, nil
}

// ensureMember links the matched record into its canonical group.
func (c *Consolidator) ensureMember(ctx context.Context, e activeEntry) (int64, error) {
	tag, err := c.pool.Exec(ctx, `
INSERT INTO org_match.canonical_members (canonical_id, source_system, source_id)
VALUES ($1, $2, $3)
ON CONFLICT (canonical_id, source_system, source_id) DO NOTHING`,
		e.targetID, e.sourceSystem, e.sourceID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "canonical: add member %s/%s", e.sourceSystem, e.sourceID)
	}
	return tag.RowsAffected(), nil
}

// upsertCrosswalk creates or updates the target's crosswalk row for one
// identifier column. An empty slot is always filled; a populated slot is
// only replaced when the new confidence is not strictly lower.
func (c *Consolidator) upsertCrosswalk(ctx context.Context, e activeEntry, column, value string) (int64, error) {
	if !source.ValidIdentifierColumn(column) {
		return 0, eris.Errorf("canonical: invalid crosswalk column %q", column)
	}

	// Column identity comes from the closed registry set, never from data.
	query := fmt.Sprintf(`
INSERT INTO org_match.corporate_identifier_crosswalk (canonical_id, %[1]s, match_tier, confidence)
VALUES ($1, $2, $3, $4)
ON CONFLICT (canonical_id) DO UPDATE SET
    %[1]s = CASE
        WHEN corporate_identifier_crosswalk.%[1]s IS NULL THEN EXCLUDED.%[1]s
        WHEN EXCLUDED.confidence >= corporate_identifier_crosswalk.confidence THEN EXCLUDED.%[1]s
        ELSE corporate_identifier_crosswalk.%[1]s
    END,
    match_tier = CASE
        WHEN EXCLUDED.confidence >= corporate_identifier_crosswalk.confidence THEN EXCLUDED.match_tier
        ELSE corporate_identifier_crosswalk.match_tier
    END,
    confidence = GREATEST(corporate_identifier_crosswalk.confidence, EXCLUDED.confidence),
    updated_at = now()`,
		column,
	)

	tag, err := c.pool.Exec(ctx, query, e.targetID, value, e.tier, e.score)
	if err != nil {
		return 0, eris.Wrapf(err, "canonical: upsert crosswalk %s for org %d", column, e.targetID)
	}
	return tag.RowsAffected(), nil
}
