package linkage

import (
	"sort"

	"github.com/unionresearch/orgmatch/internal/engine"
)

// Scorer turns comparison vectors into match probabilities under a trained
// model.
type Scorer struct {
	spec   FieldSpec
	params Params
}

// NewScorer builds a scorer from a trained model.
func NewScorer(spec FieldSpec, params Params) Scorer {
	return Scorer{spec: spec, params: params}
}

// Probability is the posterior match probability of one comparison vector:
// prior odds times the product of per-field likelihood ratios, mapped back
// to [0,1].
func (s Scorer) Probability(vec Vector) float64 {
	prior := clampProb(s.params.Prior)
	odds := prior / (1 - prior)
	for f, level := range vec {
		m := clampProb(s.params.Fields[f].M[level])
		u := clampProb(s.params.Fields[f].U[level])
		odds *= m / u
	}
	return odds / (1 + odds)
}

// evidence records the per-field agreement levels behind a score, keyed by
// field name for the ledger's evidence bag.
func (s Scorer) evidence(vec Vector) map[string]any {
	levels := make(map[string]any, len(vec))
	for f, level := range vec {
		levels[s.spec.Fields[f].Name] = level
	}
	return map[string]any{
		"model":  "fellegi_sunter",
		"levels": levels,
	}
}

// ScorePairs scores every blocked pair of source records against canonical
// targets and returns candidates at or above minScore, ordered by source
// ref then descending score so output is deterministic regardless of block
// iteration order.
func (s Scorer) ScorePairs(sourceSystem string, sources, targets []Record, rule BlockingRule, minScore float64) []engine.MatchCandidate {
	var candidates []engine.MatchCandidate
	for _, p := range pairsAcross(rule, sources, targets) {
		vec := Compare(s.spec, sources[p.i], targets[p.j])
		prob := s.Probability(vec)
		if prob < minScore {
			continue
		}
		candidates = append(candidates, engine.MatchCandidate{
			SourceSystem: sourceSystem,
			SourceID:     sources[p.i].Ref,
			TargetID:     targets[p.j].TargetID,
			Method:       "fellegi_sunter_em",
			Tier:         engine.TierProbabilistic,
			Score:        prob,
			Evidence:     s.evidence(vec),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].SourceID != candidates[j].SourceID {
			return candidates[i].SourceID < candidates[j].SourceID
		}
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].TargetID < candidates[j].TargetID
	})
	return candidates
}

// DedupeCandidate is one scored within-dataset pair from self-dedupe mode.
type DedupeCandidate struct {
	LeftID  int64   `json:"left_id"`
	RightID int64   `json:"right_id"`
	Score   float64 `json:"score"`
}

// ScoreWithin scores pairs inside a single dataset, for dedupe-only runs
// over the canonical set itself.
func (s Scorer) ScoreWithin(records []Record, rule BlockingRule, minScore float64) []DedupeCandidate {
	var out []DedupeCandidate
	for _, p := range pairsWithin(rule, records) {
		vec := Compare(s.spec, records[p.i], records[p.j])
		prob := s.Probability(vec)
		if prob < minScore {
			continue
		}
		left, right := records[p.i].TargetID, records[p.j].TargetID
		if left > right {
			left, right = right, left
		}
		out = append(out, DedupeCandidate{LeftID: left, RightID: right, Score: prob})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].LeftID != out[j].LeftID {
			return out[i].LeftID < out[j].LeftID
		}
		if out[i].RightID != out[j].RightID {
			return out[i].RightID < out[j].RightID
		}
		return out[i].Score > out[j].Score
	})
	return out
}
