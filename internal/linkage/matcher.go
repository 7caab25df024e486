package linkage

import (
	"context"
	"math/rand"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/unionresearch/orgmatch/internal/config"
	"github.com/unionresearch/orgmatch/internal/db"
	"github.com/unionresearch/orgmatch/internal/engine"
	"github.com/unionresearch/orgmatch/internal/source"
)

// Matcher runs the full probabilistic pass: load both datasets, estimate u
// from random pairs, refine m over the blocking sequence, then score the
// loosest block. Every run trains its own parameters; nothing is shared
// between runs except what the model store archives.
type Matcher struct {
	pool db.Pool
	cfg  config.LinkageConfig
	log  *zap.Logger
}

// NewMatcher creates a probabilistic matcher.
func NewMatcher(pool db.Pool, cfg config.LinkageConfig) *Matcher {
	return &Matcher{
		pool: pool,
		cfg:  cfg,
		log:  zap.L().With(zap.String("component", "linkage")),
	}
}

// Match scores unmatched source records against the canonical set and
// returns candidates at or above the minimum review score, plus the trained
// model parameters for archival.
func (m *Matcher) Match(ctx context.Context, sourceSystem string, limit int) ([]engine.MatchCandidate, Params, error) {
	return m.run(ctx, sourceSystem, limit, false)
}

// Rematch scores every staged record for the source system, already-matched
// ones included. A superseding candidate lands in the ledger alongside the
// old decision; arbitration and consolidation pick the winner.
func (m *Matcher) Rematch(ctx context.Context, sourceSystem string, limit int) ([]engine.MatchCandidate, Params, error) {
	return m.run(ctx, sourceSystem, limit, true)
}

func (m *Matcher) run(ctx context.Context, sourceSystem string, limit int, all bool) ([]engine.MatchCandidate, Params, error) {
	spec, err := LoadFieldSpec(m.cfg.FieldSpecPath)
	if err != nil {
		return nil, Params{}, err
	}

	sources, err := m.loadSources(ctx, sourceSystem, limit, all)
	if err != nil {
		return nil, Params{}, err
	}
	if len(sources) == 0 {
		m.log.Info("no source records to score", zap.String("source_system", sourceSystem))
		return nil, Params{}, nil
	}

	targets, err := m.loadCanonical(ctx)
	if err != nil {
		return nil, Params{}, err
	}
	if len(targets) == 0 {
		return nil, Params{}, eris.New("linkage: canonical set is empty")
	}

	params, err := m.train(spec, sources, targets)
	if err != nil {
		return nil, Params{}, err
	}

	scorer := NewScorer(spec, params)
	final := spec.Blocking[len(spec.Blocking)-1]
	candidates := scorer.ScorePairs(sourceSystem, sources, targets, final, m.cfg.MinReviewScore)

	m.log.Info("probabilistic pass complete",
		zap.String("source_system", sourceSystem),
		zap.Int("sources", len(sources)),
		zap.Int("targets", len(targets)),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, params, nil
}

// SelfDedupe trains on the canonical set against itself and returns scored
// within-set pairs for review ahead of a dedupe pass.
func (m *Matcher) SelfDedupe(ctx context.Context) ([]DedupeCandidate, Params, error) {
	spec, err := LoadFieldSpec(m.cfg.FieldSpecPath)
	if err != nil {
		return nil, Params{}, err
	}

	records, err := m.loadCanonical(ctx)
	if err != nil {
		return nil, Params{}, err
	}
	if len(records) < 2 {
		return nil, Params{}, nil
	}

	params, err := m.train(spec, records, records)
	if err != nil {
		return nil, Params{}, err
	}

	scorer := NewScorer(spec, params)
	final := spec.Blocking[len(spec.Blocking)-1]
	pairs := scorer.ScoreWithin(records, final, m.cfg.MinReviewScore)

	m.log.Info("self-dedupe pass complete",
		zap.Int("records", len(records)),
		zap.Int("pairs", len(pairs)),
	)
	return pairs, params, nil
}

// train runs u estimation then one EM pass per blocking rule, tightest
// first, carrying m estimates between passes.
func (m *Matcher) train(spec FieldSpec, a, b []Record) (Params, error) {
	seed := m.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	m.log.Debug("training model", zap.Int64("seed", seed))

	u, err := EstimateU(spec, a, b, m.cfg.USampleSize, rng)
	if err != nil {
		return Params{}, err
	}

	var (
		params Params
		seedM  []FieldParams
	)
	for _, rule := range spec.Blocking {
		prs := pairsAcross(rule, a, b)
		if len(prs) == 0 {
			m.log.Debug("empty block, skipping em pass", zap.String("rule", rule.Name))
			continue
		}
		vectors := make([]Vector, len(prs))
		for i, p := range prs {
			vectors[i] = Compare(spec, a[p.i], b[p.j])
		}
		params, err = EstimateM(spec, vectors, u, seedM, m.cfg.EMIterations)
		if err != nil {
			return Params{}, eris.Wrapf(err, "linkage: em pass %s", rule.Name)
		}
		seedM = params.Fields
	}
	if params.Fields == nil {
		return Params{}, eris.New("linkage: all blocking passes were empty")
	}
	params.Seed = seed
	return params, nil
}

// loadSources reads staged records through the source adapter: the unmatched
// subset normally, the full set for rematch runs. A positive limit bounds the
// input set.
func (m *Matcher) loadSources(ctx context.Context, sourceSystem string, limit int, all bool) ([]Record, error) {
	adapter, err := source.NewAdapter(m.pool, sourceSystem)
	if err != nil {
		return nil, err
	}

	var recs []engine.SourceRecord
	if all {
		recs, err = adapter.LoadAll(ctx, limit)
	} else {
		recs, err = adapter.LoadUnmatched(ctx, limit)
	}
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(recs))
	for _, rec := range recs {
		records = append(records, FromSource(rec))
	}
	return records, nil
}

// loadCanonical reads all live canonical orgs (absorbed ones excluded).
func (m *Matcher) loadCanonical(ctx context.Context) ([]Record, error) {
	rows, err := m.pool.Query(ctx, `
SELECT id, display_name, name_aggressive, jurisdiction, city, naics, size_metric
FROM org_match.canonical_orgs
WHERE merged_into IS NULL
ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "linkage: load canonical orgs")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var org engine.CanonicalOrg
		if err := rows.Scan(
			&org.ID, &org.DisplayName, &org.NameAggressive, &org.Jurisdiction,
			&org.City, &org.NAICS, &org.SizeMetric,
		); err != nil {
			return nil, eris.Wrap(err, "linkage: scan canonical org")
		}
		records = append(records, FromCanonical(org))
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "linkage: iterate canonical orgs")
	}
	return records, nil
}
