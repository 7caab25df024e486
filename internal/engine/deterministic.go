package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unionresearch/orgmatch/internal/config"
	"github.com/unionresearch/orgmatch/internal/db"
)

// TieredMatcher runs the fixed descending-precision deterministic cascade.
// Each tier is a single index-bounded SQL pass returning at most one best
// candidate per source record; a record claimed by an earlier tier is
// excluded from later tiers within the same run.
type TieredMatcher struct {
	pool db.Pool
	cfg  config.MatchConfig
}

// NewTieredMatcher creates a deterministic tiered matcher.
func NewTieredMatcher(pool db.Pool, cfg config.MatchConfig) *TieredMatcher {
	return &TieredMatcher{pool: pool, cfg: cfg}
}

// tierSpec describes one cascade tier.
type tierSpec struct {
	name    string
	method  string
	sql     string
	sharded bool // fuzzy tiers run data-parallel per jurisdiction
}

func (m *TieredMatcher) tiers() []tierSpec {
	return []tierSpec{
		{name: "tier1", method: "exact_aggressive_jurisdiction", sql: tier1ExactAggressiveSQL()},
		{name: "tier2", method: "exact_standard_jurisdiction", sql: tier2ExactStandardSQL()},
		{name: "tier3", method: "city_fuzzy_name", sql: tier3CityFuzzySQL(m.cfg.CitySimilarity), sharded: true},
		{name: "tier4", method: "industry_fuzzy_name", sql: tier4IndustryFuzzySQL(m.cfg.IndustrySimilarity), sharded: true},
		{name: "tier5", method: "alias_exact_jurisdiction", sql: tier5AliasExactSQL()},
	}
}

// Match generates candidates for every unmatched record of a source system.
// limit > 0 bounds the input set (for testing). Candidates come back in tier
// order; arbitration and ledger writes happen downstream.
func (m *TieredMatcher) Match(ctx context.Context, sourceSystem string, limit int) ([]MatchCandidate, error) {
	log := zap.L().With(
		zap.String("component", "tiered_matcher"),
		zap.String("source_system", sourceSystem),
	)

	var ids []string
	if limit > 0 {
		var err error
		ids, err = m.unmatchedIDs(ctx, sourceSystem, limit)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			log.Info("no unmatched records")
			return nil, nil
		}
	}

	claimed := make(map[string]bool)
	var out []MatchCandidate

	for _, tier := range m.tiers() {
		var (
			cands []MatchCandidate
			err   error
		)
		if tier.sharded && m.cfg.BlockParallelism > 1 {
			cands, err = m.runShardedTier(ctx, tier, sourceSystem, ids)
		} else {
			cands, err = m.runTier(ctx, tier, sourceSystem, ids, "")
		}
		if err != nil {
			return nil, eris.Wrapf(err, "deterministic: %s", tier.name)
		}

		kept := 0
		for _, c := range cands {
			if claimed[c.SourceID] {
				continue
			}
			claimed[c.SourceID] = true
			out = append(out, c)
			kept++
		}

		log.Info("tier complete",
			zap.String("tier", tier.name),
			zap.Int("candidates", len(cands)),
			zap.Int("kept", kept),
		)
	}

	return out, nil
}

// unmatchedIDs returns up to limit source ids with no active HIGH/MEDIUM
// ledger entry, in stable order.
func (m *TieredMatcher) unmatchedIDs(ctx context.Context, sourceSystem string, limit int) ([]string, error) {
	rows, err := m.pool.Query(ctx, `
SELECT r.source_id
FROM org_match.source_records r
WHERE r.source_system = $1`+unmatchedFilter+`
ORDER BY r.source_id
LIMIT $2`, sourceSystem, limit)
	if err != nil {
		return nil, eris.Wrap(err, "deterministic: query unmatched ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "deterministic: scan unmatched id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// runShardedTier splits a fuzzy tier across jurisdictions and runs the shards
// data-parallel. Shards only read; no write transactions are shared.
func (m *TieredMatcher) runShardedTier(ctx context.Context, tier tierSpec, sourceSystem string, ids []string) ([]MatchCandidate, error) {
	states, err := m.jurisdictions(ctx, sourceSystem)
	if err != nil {
		return nil, err
	}

	var (
		mu  sync.Mutex
		out []MatchCandidate
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.BlockParallelism)

	for _, state := range states {
		g.Go(func() error {
			cands, err := m.runTier(gctx, tier, sourceSystem, ids, state)
			if err != nil {
				return err
			}
			mu.Lock()
			out = append(out, cands...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// runTier executes one tier query, optionally bounded to an id set and a
// single jurisdiction shard.
func (m *TieredMatcher) runTier(ctx context.Context, tier tierSpec, sourceSystem string, ids []string, state string) ([]MatchCandidate, error) {
	sql := tier.sql
	args := []any{sourceSystem}

	if len(ids) > 0 {
		args = append(args, ids)
		sql = insertFilter(sql, fmt.Sprintf("AND r.source_id = ANY($%d)", len(args)))
	}
	if state != "" {
		args = append(args, state)
		sql = insertFilter(sql, fmt.Sprintf("AND r.jurisdiction = $%d", len(args)))
	}

	rows, err := m.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "deterministic: query %s", tier.name)
	}
	defer rows.Close()

	var out []MatchCandidate
	for rows.Next() {
		var (
			sourceID, sourceName, targetName string
			targetID                         int64
			score, similarity                float64
		)
		if err := rows.Scan(&sourceID, &targetID, &sourceName, &targetName, &score, &similarity); err != nil {
			return nil, eris.Wrapf(err, "deterministic: scan %s", tier.name)
		}
		out = append(out, MatchCandidate{
			SourceSystem: sourceSystem,
			SourceID:     sourceID,
			TargetID:     targetID,
			Method:       tier.method,
			Tier:         TierDeterministic,
			Score:        score,
			Evidence: map[string]any{
				"tier":        tier.name,
				"source_name": sourceName,
				"target_name": targetName,
				"similarity":  similarity,
			},
		})
	}
	return out, rows.Err()
}

// jurisdictions lists the distinct jurisdictions present for a source system.
func (m *TieredMatcher) jurisdictions(ctx context.Context, sourceSystem string) ([]string, error) {
	rows, err := m.pool.Query(ctx, `
SELECT DISTINCT jurisdiction FROM org_match.source_records
WHERE source_system = $1 AND jurisdiction != ''
ORDER BY jurisdiction`, sourceSystem)
	if err != nil {
		return nil, eris.Wrap(err, "deterministic: query jurisdictions")
	}
	defer rows.Close()

	var states []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, eris.Wrap(err, "deterministic: scan jurisdiction")
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

// insertFilter splices an additional WHERE clause into a tier query just
// before its final ORDER BY.
func insertFilter(sql, clause string) string {
	i := strings.LastIndex(sql, "ORDER BY")
	if i < 0 {
		return sql + "\n  " + clause
	}
	return sql[:i] + "  " + clause + "\n" + sql[i:]
}
