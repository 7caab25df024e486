// Package ledger implements the append-only unified match ledger and the
// per-run bookkeeping around it. Matchers only ever append here; canonical
// state is mutated exclusively by the consolidator.
package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/unionresearch/orgmatch/internal/db"
	"github.com/unionresearch/orgmatch/internal/engine"
)

// Status is the ledger entry state. The only transitions are
// active -> superseded and active -> rejected; entries are never deleted.
type Status string

const (
	StatusActive     Status = "active"
	StatusRejected   Status = "rejected"
	StatusSuperseded Status = "superseded"
)

// Entry is one row of org_match.unified_match_log.
type Entry struct {
	ID              int64                 `json:"id" db:"id"`
	RunID           uuid.UUID             `json:"run_id" db:"run_id"`
	SourceSystem    string                `json:"source_system" db:"source_system"`
	SourceID        string                `json:"source_id" db:"source_id"`
	TargetID        int64                 `json:"target_id" db:"target_id"`
	Method          string                `json:"match_method" db:"match_method"`
	Tier            engine.Tier           `json:"match_tier" db:"match_tier"`
	Band            engine.ConfidenceBand `json:"confidence_band" db:"confidence_band"`
	Score           float64               `json:"confidence_score" db:"confidence_score"`
	Evidence        map[string]any        `json:"evidence,omitempty" db:"evidence"`
	Status          Status                `json:"status" db:"status"`
	CreatedAt       time.Time             `json:"created_at" db:"created_at"`
	StatusChangedAt *time.Time            `json:"status_changed_at,omitempty" db:"status_changed_at"`
}

// FromBanded converts arbitration winners into ledger entries for one run.
// HIGH and MEDIUM land as active; LOW is written for audit but rejected and
// never consolidated.
func FromBanded(runID uuid.UUID, banded []engine.BandedCandidate) []Entry {
	entries := make([]Entry, 0, len(banded))
	for _, bc := range banded {
		status := StatusActive
		if bc.Band == engine.BandLow {
			status = StatusRejected
		}
		entries = append(entries, Entry{
			RunID:        runID,
			SourceSystem: bc.SourceSystem,
			SourceID:     bc.SourceID,
			TargetID:     bc.TargetID,
			Method:       bc.Method,
			Tier:         bc.Tier,
			Band:         bc.Band,
			Score:        bc.Score,
			Evidence:     bc.Evidence,
			Status:       status,
		})
	}
	return entries
}

// Store provides read/write access to the unified match ledger.
type Store struct {
	pool db.Pool
}

// NewStore creates a ledger store backed by the given connection pool.
func NewStore(pool db.Pool) *Store {
	return &Store{pool: pool}
}

// Write appends entries for a run. Idempotent under the natural key
// (run_id, source_system, source_id, target_id): re-running the same run_id
// is a no-op on conflict. Newly active entries supersede any prior active
// HIGH/MEDIUM entry for the same source record in the same transaction, so
// the at-most-one-active invariant holds at every commit point.
func (s *Store) Write(ctx context.Context, entries []Entry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "ledger: begin tx")
	}
	defer tx.Rollback(ctx)

	var inserted int64
	for _, e := range entries {
		if e.Status == StatusActive {
			if _, err := tx.Exec(ctx, `
UPDATE org_match.unified_match_log
SET status = 'superseded', status_changed_at = now()
WHERE source_system = $1 AND source_id = $2
  AND status = 'active'
  AND confidence_band IN ('HIGH', 'MEDIUM')
  AND run_id != $3`,
				e.SourceSystem, e.SourceID, e.RunID,
			); err != nil {
				return inserted, eris.Wrapf(err, "ledger: supersede prior active for %s/%s", e.SourceSystem, e.SourceID)
			}
		}

		evidence, err := marshalEvidence(e.Evidence)
		if err != nil {
			return inserted, err
		}

		tag, err := tx.Exec(ctx, `
INSERT INTO org_match.unified_match_log
    (run_id, source_system, source_id, target_id, match_method, match_tier,
     confidence_band, confidence_score, evidence, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (run_id, source_system, source_id, target_id) DO NOTHING`,
			e.RunID, e.SourceSystem, e.SourceID, e.TargetID, e.Method, string(e.Tier),
			string(e.Band), e.Score, evidence, string(e.Status),
		)
		if err != nil {
			return inserted, eris.Wrapf(err, "ledger: insert entry for %s/%s", e.SourceSystem, e.SourceID)
		}
		inserted += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return inserted, eris.Wrap(err, "ledger: commit tx")
	}

	zap.L().Info("ledger: entries written",
		zap.Int("submitted", len(entries)),
		zap.Int64("inserted", inserted),
	)
	return inserted, nil
}

// UpdateStatus applies one state-machine transition to an entry. Only
// active -> superseded and active -> rejected exist; anything else is a
// programming error surfaced as a normal error.
func (s *Store) UpdateStatus(ctx context.Context, id int64, to Status) error {
	if to != StatusRejected && to != StatusSuperseded {
		return eris.Errorf("ledger: illegal status transition target %q", to)
	}

	tag, err := s.pool.Exec(ctx, `
UPDATE org_match.unified_match_log
SET status = $1, status_changed_at = now()
WHERE id = $2 AND status = 'active'`,
		string(to), id,
	)
	if err != nil {
		return eris.Wrapf(err, "ledger: update status of entry %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("ledger: entry %d is not active (transitions only leave active)", id)
	}
	return nil
}

// marshalEvidence serializes the evidence bag for the JSONB column. A nil
// bag stays an untyped nil so the column gets SQL NULL.
func marshalEvidence(evidence map[string]any) (any, error) {
	if evidence == nil {
		return nil, nil
	}
	data, err := json.Marshal(evidence)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: marshal evidence")
	}
	return data, nil
}
