package ledger

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/rotisserie/eris"

	"github.com/unionresearch/orgmatch/internal/engine"
)

// Filter selects ledger entries. Zero-valued fields are not applied.
type Filter struct {
	RunID        uuid.UUID
	SourceSystem string
	SourceID     string
	TargetID     int64
	Status       Status
	Band         engine.ConfidenceBand
	Limit        int
}

const defaultListLimit = 100

// ListEntries returns ledger entries matching the filter, newest first.
func (s *Store) ListEntries(ctx context.Context, f Filter) ([]Entry, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(
		"id", "run_id", "source_system", "source_id", "target_id",
		"match_method", "match_tier", "confidence_band", "confidence_score",
		"COALESCE(evidence, 'null'::jsonb)", "status", "created_at", "status_changed_at",
	)
	sb.From("org_match.unified_match_log")

	if f.RunID != uuid.Nil {
		sb.Where(sb.Equal("run_id", f.RunID))
	}
	if f.SourceSystem != "" {
		sb.Where(sb.Equal("source_system", f.SourceSystem))
	}
	if f.SourceID != "" {
		sb.Where(sb.Equal("source_id", f.SourceID))
	}
	if f.TargetID != 0 {
		sb.Where(sb.Equal("target_id", f.TargetID))
	}
	if f.Status != "" {
		sb.Where(sb.Equal("status", string(f.Status)))
	}
	if f.Band != "" {
		sb.Where(sb.Equal("confidence_band", string(f.Band)))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	sb.OrderBy("created_at DESC", "id DESC")
	sb.Limit(limit)

	query, args := sb.Build()
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: list entries")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			evidence []byte
		)
		if err := rows.Scan(
			&e.ID, &e.RunID, &e.SourceSystem, &e.SourceID, &e.TargetID,
			&e.Method, &e.Tier, &e.Band, &e.Score,
			&evidence, &e.Status, &e.CreatedAt, &e.StatusChangedAt,
		); err != nil {
			return nil, eris.Wrap(err, "ledger: scan entry row")
		}
		if len(evidence) > 0 {
			if err := json.Unmarshal(evidence, &e.Evidence); err != nil {
				return nil, eris.Wrapf(err, "ledger: decode evidence of entry %d", e.ID)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "ledger: iterate entry rows")
	}
	return entries, nil
}

// ActiveEntry returns the single active HIGH/MEDIUM entry for a source
// record, or nil when the record is unmatched.
func (s *Store) ActiveEntry(ctx context.Context, sourceSystem, sourceID string) (*Entry, error) {
	entries, err := s.ListEntries(ctx, Filter{
		SourceSystem: sourceSystem,
		SourceID:     sourceID,
		Status:       StatusActive,
		Limit:        2,
	})
	if err != nil {
		return nil, err
	}
	var active *Entry
	for i := range entries {
		if entries[i].Band == engine.BandLow {
			continue
		}
		if active != nil {
			return nil, eris.Errorf("ledger: multiple active entries for %s/%s", sourceSystem, sourceID)
		}
		active = &entries[i]
	}
	return active, nil
}
