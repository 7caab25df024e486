package canonical

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/unionresearch/orgmatch/internal/linkage"
)

// dupGroup is one set of canonical orgs sharing an aggressive name key
// within a jurisdiction.
type dupGroup struct {
	nameAggressive string
	jurisdiction   string
	members        []groupMember
}

type groupMember struct {
	id        int64
	preferred bool
	size      int64
}

// DedupeSummary reports a dedupe pass.
type DedupeSummary struct {
	Groups int
	Merged int64
}

// MergePlan is one planned absorption, surfaced in dry runs.
type MergePlan struct {
	DeletedID int64   `json:"deleted_id"`
	KeptID    int64   `json:"kept_id"`
	Score     float64 `json:"score"`
}

// Dedupe groups live canonical orgs by (name_aggressive, jurisdiction),
// elects a survivor per group and absorbs the rest. With apply false it
// returns the plan without writing. Run orphan repair after every applied
// pass.
func (c *Consolidator) Dedupe(ctx context.Context, apply bool) (DedupeSummary, []MergePlan, error) {
	groups, err := c.loadDuplicateGroups(ctx)
	if err != nil {
		return DedupeSummary{}, nil, err
	}

	summary := DedupeSummary{Groups: len(groups)}
	var plan []MergePlan
	for _, g := range groups {
		kept := electSurvivor(g.members)
		for _, m := range g.members {
			if m.id == kept {
				continue
			}
			// Same aggressive key and jurisdiction: treated as certain.
			plan = append(plan, MergePlan{DeletedID: m.id, KeptID: kept, Score: 1.0})
		}
	}

	if !apply {
		c.log.Info("dedupe dry run",
			zap.Int("groups", summary.Groups),
			zap.Int("planned_merges", len(plan)),
		)
		return summary, plan, nil
	}

	for _, p := range plan {
		if err := c.merge(ctx, p); err != nil {
			return summary, plan, err
		}
		summary.Merged++
	}

	c.log.Info("dedupe complete",
		zap.Int("groups", summary.Groups),
		zap.Int64("merged", summary.Merged),
	)
	return summary, plan, nil
}

// MergePairs applies externally scored merge candidates (from a self-dedupe
// linkage run) at or above the similarity floor. Pair ids are normalized
// low-high by the scorer; survivor election still applies.
func (c *Consolidator) MergePairs(ctx context.Context, pairs []linkage.DedupeCandidate, floor float64, apply bool) (DedupeSummary, []MergePlan, error) {
	var plan []MergePlan
	for _, p := range pairs {
		if p.Score < floor {
			continue
		}
		members, err := c.loadMembers(ctx, p.LeftID, p.RightID)
		if err != nil {
			return DedupeSummary{}, nil, err
		}
		if len(members) != 2 {
			// One side already absorbed by an earlier pair.
			continue
		}
		kept := electSurvivor(members)
		deleted := members[0].id
		if deleted == kept {
			deleted = members[1].id
		}
		plan = append(plan, MergePlan{DeletedID: deleted, KeptID: kept, Score: p.Score})
	}

	summary := DedupeSummary{Groups: len(plan)}
	if !apply {
		return summary, plan, nil
	}

	for _, p := range plan {
		if err := c.merge(ctx, p); err != nil {
			return summary, plan, err
		}
		summary.Merged++
	}
	return summary, plan, nil
}

// electSurvivor picks the group member that keeps its identity: an
// explicitly preferred org wins, then the largest size metric, then the
// lowest id.
func electSurvivor(members []groupMember) int64 {
	sorted := make([]groupMember, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].preferred != sorted[j].preferred {
			return sorted[i].preferred
		}
		if sorted[i].size != sorted[j].size {
			return sorted[i].size > sorted[j].size
		}
		return sorted[i].id < sorted[j].id
	})
	return sorted[0].id
}

// loadDuplicateGroups finds live orgs sharing an aggressive key.
func (c *Consolidator) loadDuplicateGroups(ctx context.Context) ([]dupGroup, error) {
	rows, err := c.pool.Query(ctx, `
SELECT name_aggressive, jurisdiction, id, is_preferred, size_metric
FROM org_match.canonical_orgs
WHERE merged_into IS NULL
  AND name_aggressive != ''
  AND (name_aggressive, jurisdiction) IN (
      SELECT name_aggressive, jurisdiction
      FROM org_match.canonical_orgs
      WHERE merged_into IS NULL AND name_aggressive != ''
      GROUP BY name_aggressive, jurisdiction
      HAVING count(*) > 1
  )
ORDER BY name_aggressive, jurisdiction, id`)
	if err != nil {
		return nil, eris.Wrap(err, "canonical: load duplicate groups")
	}
	defer rows.Close()

	var groups []dupGroup
	for rows.Next() {
		var (
			name, jur string
			m         groupMember
		)
		if err := rows.Scan(&name, &jur, &m.id, &m.preferred, &m.size); err != nil {
			return nil, eris.Wrap(err, "canonical: scan duplicate group row")
		}
		n := len(groups)
		if n == 0 || groups[n-1].nameAggressive != name || groups[n-1].jurisdiction != jur {
			groups = append(groups, dupGroup{nameAggressive: name, jurisdiction: jur})
			n++
		}
		groups[n-1].members = append(groups[n-1].members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "canonical: iterate duplicate groups")
	}
	return groups, nil
}

// loadMembers fetches election attributes for specific live orgs.
func (c *Consolidator) loadMembers(ctx context.Context, ids ...int64) ([]groupMember, error) {
	rows, err := c.pool.Query(ctx, `
SELECT id, is_preferred, size_metric
FROM org_match.canonical_orgs
WHERE merged_into IS NULL AND id = ANY($1)
ORDER BY id`,
		ids,
	)
	if err != nil {
		return nil, eris.Wrap(err, "canonical: load orgs for election")
	}
	defer rows.Close()

	var members []groupMember
	for rows.Next() {
		var m groupMember
		if err := rows.Scan(&m.id, &m.preferred, &m.size); err != nil {
			return nil, eris.Wrap(err, "canonical: scan org for election")
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// merge absorbs one org into a survivor in a single transaction: mark the
// org merged, log the merge, move members and crosswalk identifiers, and
// make sure the survivor keeps exactly one display representative.
func (c *Consolidator) merge(ctx context.Context, p MergePlan) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "canonical: begin merge tx")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
UPDATE org_match.canonical_orgs
SET merged_into = $1, updated_at = now()
WHERE id = $2 AND merged_into IS NULL`,
		p.KeptID, p.DeletedID,
	)
	if err != nil {
		return eris.Wrapf(err, "canonical: mark org %d merged", p.DeletedID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("canonical: org %d is not live, refusing merge", p.DeletedID)
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO org_match.canonical_merges (deleted_id, kept_id, similarity_score)
VALUES ($1, $2, $3)`,
		p.DeletedID, p.KeptID, p.Score,
	); err != nil {
		return eris.Wrap(err, "canonical: log merge")
	}

	// Move members across, dropping the absorbed group's representative
	// flag; duplicates collapse on the membership key.
	if _, err := tx.Exec(ctx, `
INSERT INTO org_match.canonical_members (canonical_id, source_system, source_id, is_representative)
SELECT $1, source_system, source_id, false
FROM org_match.canonical_members
WHERE canonical_id = $2
ON CONFLICT (canonical_id, source_system, source_id) DO NOTHING`,
		p.KeptID, p.DeletedID,
	); err != nil {
		return eris.Wrap(err, "canonical: move members")
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM org_match.canonical_members WHERE canonical_id = $1`,
		p.DeletedID,
	); err != nil {
		return eris.Wrap(err, "canonical: drop absorbed members")
	}

	// Fold the absorbed crosswalk row into the survivor's, filling empty
	// identifier slots only. A conflicting identifier on the absorbed row
	// is dropped with the row; the survivor's value wins.
	if _, err := tx.Exec(ctx, `
WITH absorbed AS (
    DELETE FROM org_match.corporate_identifier_crosswalk
    WHERE canonical_id = $2
    RETURNING ein, corp_registry_id, contractor_uei, ownership_id, duns, cik, match_tier, confidence
)
INSERT INTO org_match.corporate_identifier_crosswalk
    (canonical_id, ein, corp_registry_id, contractor_uei, ownership_id, duns, cik, match_tier, confidence)
SELECT $1, ein, corp_registry_id, contractor_uei, ownership_id, duns, cik, match_tier, confidence
FROM absorbed
ON CONFLICT (canonical_id) DO UPDATE SET
    ein              = COALESCE(corporate_identifier_crosswalk.ein, EXCLUDED.ein),
    corp_registry_id = COALESCE(corporate_identifier_crosswalk.corp_registry_id, EXCLUDED.corp_registry_id),
    contractor_uei   = COALESCE(corporate_identifier_crosswalk.contractor_uei, EXCLUDED.contractor_uei),
    ownership_id     = COALESCE(corporate_identifier_crosswalk.ownership_id, EXCLUDED.ownership_id),
    duns             = COALESCE(corporate_identifier_crosswalk.duns, EXCLUDED.duns),
    cik              = COALESCE(corporate_identifier_crosswalk.cik, EXCLUDED.cik),
    confidence       = GREATEST(corporate_identifier_crosswalk.confidence, EXCLUDED.confidence),
    updated_at       = now()`,
		p.KeptID, p.DeletedID,
	); err != nil {
		return eris.Wrap(err, "canonical: fold crosswalk")
	}

	// Re-elect a representative if the survivor group has none.
	if _, err := tx.Exec(ctx, `
UPDATE org_match.canonical_members m
SET is_representative = true
WHERE m.canonical_id = $1
  AND NOT EXISTS (
      SELECT 1 FROM org_match.canonical_members r
      WHERE r.canonical_id = $1 AND r.is_representative
  )
  AND (m.source_system, m.source_id) = (
      SELECT source_system, source_id
      FROM org_match.canonical_members
      WHERE canonical_id = $1
      ORDER BY source_system, source_id
      LIMIT 1
  )`,
		p.KeptID,
	); err != nil {
		return eris.Wrap(err, "canonical: re-elect representative")
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "canonical: commit merge tx")
	}

	c.log.Info("org merged",
		zap.Int64("deleted_id", p.DeletedID),
		zap.Int64("kept_id", p.KeptID),
		zap.Float64("score", p.Score),
	)
	return nil
}
