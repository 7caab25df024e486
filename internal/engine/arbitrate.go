package engine

import (
	"sort"

	"go.uber.org/zap"
)

// Thresholds is the run configuration for confidence banding. Both values are
// run-scoped, never hardcoded per tier.
type Thresholds struct {
	AutoAccept float64
	Review     float64
}

// BandedCandidate is an arbitration winner with its confidence band.
type BandedCandidate struct {
	MatchCandidate
	Band ConfidenceBand
}

// Arbitrate deduplicates candidates to at most one per source record and at
// most one per target, then assigns confidence bands. The two passes are
// strictly ordered: per-source first, then per-target; interleaving them
// would break the at-most-one-active invariant downstream.
//
// Tie-break, documented and deterministic: higher score, then deterministic
// tier over probabilistic, then lower target id, then lower source id.
func Arbitrate(candidates []MatchCandidate, th Thresholds) []BandedCandidate {
	perSource := dedupeBy(candidates, func(c MatchCandidate) string {
		return c.SourceSystem + "\x00" + c.SourceID
	})
	winners := dedupeByTarget(perSource)

	out := make([]BandedCandidate, 0, len(winners))
	for _, c := range winners {
		out = append(out, BandedCandidate{MatchCandidate: c, Band: Band(c.Score, th)})
	}
	return out
}

// Band maps a continuous score to its confidence band.
func Band(score float64, th Thresholds) ConfidenceBand {
	switch {
	case score >= th.AutoAccept:
		return BandHigh
	case score >= th.Review:
		return BandMedium
	default:
		return BandLow
	}
}

// Outcome reports the terminal state for one banded candidate: HIGH and
// MEDIUM are matches, LOW is a threshold rejection recorded for audit.
func Outcome(bc BandedCandidate) MatchOutcome {
	c := bc.MatchCandidate
	if bc.Band == BandLow {
		return MatchOutcome{Kind: OutcomeRejected, Candidate: &c, Band: bc.Band}
	}
	return MatchOutcome{Kind: OutcomeMatched, Candidate: &c, Band: bc.Band}
}

// dedupeBy keeps the best candidate per key, preserving deterministic order.
func dedupeBy(candidates []MatchCandidate, key func(MatchCandidate) string) []MatchCandidate {
	best := make(map[string]MatchCandidate)
	order := make([]string, 0)

	for _, c := range candidates {
		k := key(c)
		cur, ok := best[k]
		if !ok {
			best[k] = c
			order = append(order, k)
			continue
		}
		if better(c, cur) {
			if c.Score == cur.Score {
				zap.L().Debug("arbitrate: ambiguous tie",
					zap.String("source_id", c.SourceID),
					zap.Int64("kept_target", c.TargetID),
					zap.Int64("dropped_target", cur.TargetID),
					zap.Float64("score", c.Score),
				)
			}
			best[k] = c
		}
	}

	out := make([]MatchCandidate, 0, len(best))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

// dedupeByTarget keeps the best remaining candidate per canonical target.
func dedupeByTarget(candidates []MatchCandidate) []MatchCandidate {
	best := make(map[int64]MatchCandidate)
	order := make([]int64, 0)

	for _, c := range candidates {
		cur, ok := best[c.TargetID]
		if !ok {
			best[c.TargetID] = c
			order = append(order, c.TargetID)
			continue
		}
		if better(c, cur) {
			best[c.TargetID] = c
		}
	}

	out := make([]MatchCandidate, 0, len(best))
	for _, t := range order {
		out = append(out, best[t])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SourceSystem != out[j].SourceSystem {
			return out[i].SourceSystem < out[j].SourceSystem
		}
		return out[i].SourceID < out[j].SourceID
	})
	return out
}

// better reports whether a should displace b under the documented tie-break.
func better(a, b MatchCandidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Tier != b.Tier {
		return a.Tier == TierDeterministic
	}
	if a.TargetID != b.TargetID {
		return a.TargetID < b.TargetID
	}
	return a.SourceID < b.SourceID
}
