package linkage

import (
	"math/rand"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FieldParams are the Fellegi-Sunter parameters for one compared field:
// M[l] is P(level = l | true match), U[l] is P(level = l | non-match).
type FieldParams struct {
	Name string    `json:"name"`
	M    []float64 `json:"m"`
	U    []float64 `json:"u"`
}

// Params is a trained model: per-field level probabilities plus the overall
// match prior. Parameters belong to the run that estimated them.
type Params struct {
	Fields []FieldParams `json:"fields"`
	Prior  float64       `json:"prior"`
	// Seed is the sampling seed the run trained under, recorded for
	// reproduction.
	Seed int64 `json:"seed"`
}

// floor keeps probabilities away from zero so log weights stay finite.
const probFloor = 1e-4

// EstimateU estimates chance-agreement probabilities by sampling random
// cross-dataset pairs. Randomly drawn pairs are overwhelmingly non-matches,
// so their level frequencies approximate u directly.
func EstimateU(spec FieldSpec, a, b []Record, sampleSize int, rng *rand.Rand) ([]FieldParams, error) {
	if len(a) == 0 || len(b) == 0 {
		return nil, eris.New("linkage: cannot estimate u on an empty dataset")
	}
	if sampleSize <= 0 {
		sampleSize = 10000
	}

	counts := newLevelCounts(spec)
	for i := 0; i < sampleSize; i++ {
		ra := a[rng.Intn(len(a))]
		rb := b[rng.Intn(len(b))]
		if ra.Ref == rb.Ref {
			continue
		}
		vec := Compare(spec, ra, rb)
		for f, level := range vec {
			counts[f][level]++
		}
	}

	params := make([]FieldParams, len(spec.Fields))
	for f, field := range spec.Fields {
		params[f] = FieldParams{Name: field.Name, U: normalizeCounts(counts[f])}
	}
	return params, nil
}

// EstimateM runs expectation-maximization over the given comparison vectors.
// The sampled u estimate seeds the loop; EM then refines m, u and the match
// prior together. Refining u inside the block matters: a blocking field
// agrees on every in-block pair, and a chance-agreement rate sampled from
// the full cross product would misprice that agreement badly enough to pull
// the whole mixture toward "match".
func EstimateM(spec FieldSpec, vectors []Vector, sampledU []FieldParams, seedM []FieldParams, iterations int) (Params, error) {
	if len(vectors) == 0 {
		return Params{}, eris.New("linkage: no comparison vectors to estimate m from")
	}
	if iterations <= 0 {
		iterations = 20
	}

	m := initialM(spec, seedM)
	u := make([]FieldParams, len(spec.Fields))
	for f, field := range spec.Fields {
		u[f] = FieldParams{Name: field.Name, U: make([]float64, field.Levels)}
		copy(u[f].U, sampledU[f].U)
	}
	prior := 0.1

	for iter := 0; iter < iterations; iter++ {
		// E-step: posterior match probability of each vector under the
		// current parameters.
		weights := make([]float64, len(vectors))
		var weightSum float64
		for i, vec := range vectors {
			pm := prior
			pu := 1 - prior
			for f, level := range vec {
				pm *= clampProb(m[f].M[level])
				pu *= clampProb(u[f].U[level])
			}
			w := pm / (pm + pu)
			weights[i] = w
			weightSum += w
		}

		complementSum := float64(len(vectors)) - weightSum
		if weightSum == 0 || complementSum == 0 {
			break
		}

		// M-step: re-estimate m and u from the weighted level frequencies.
		for f := range spec.Fields {
			mSums := make([]float64, spec.Fields[f].Levels)
			uSums := make([]float64, spec.Fields[f].Levels)
			for i, vec := range vectors {
				mSums[vec[f]] += weights[i]
				uSums[vec[f]] += 1 - weights[i]
			}
			for l := range mSums {
				m[f].M[l] = clampProb(mSums[l] / weightSum)
				u[f].U[l] = clampProb(uSums[l] / complementSum)
			}
		}
		prior = clampProb(weightSum / float64(len(vectors)))
	}

	zap.L().Debug("linkage: em pass finished",
		zap.Int("vectors", len(vectors)),
		zap.Float64("prior", prior),
	)

	params := Params{Fields: make([]FieldParams, len(spec.Fields)), Prior: prior}
	for f, field := range spec.Fields {
		params.Fields[f] = FieldParams{Name: field.Name, M: m[f].M, U: u[f].U}
	}
	return params, nil
}

// initialM seeds the EM loop: carry parameters from the previous blocking
// pass when present, otherwise start from a weakly informative prior that
// puts most match mass on full agreement.
func initialM(spec FieldSpec, seed []FieldParams) []FieldParams {
	m := make([]FieldParams, len(spec.Fields))
	for f, field := range spec.Fields {
		m[f] = FieldParams{Name: field.Name, M: make([]float64, field.Levels)}
		if seed != nil && len(seed[f].M) == field.Levels {
			copy(m[f].M, seed[f].M)
			continue
		}
		switch field.Levels {
		case 2:
			m[f].M[0], m[f].M[1] = 0.10, 0.90
		default:
			m[f].M[0], m[f].M[1], m[f].M[2] = 0.05, 0.15, 0.80
		}
	}
	return m
}

func newLevelCounts(spec FieldSpec) [][]int {
	counts := make([][]int, len(spec.Fields))
	for f, field := range spec.Fields {
		counts[f] = make([]int, field.Levels)
	}
	return counts
}

// normalizeCounts converts level counts to probabilities with add-one
// smoothing so no level has zero mass.
func normalizeCounts(counts []int) []float64 {
	total := len(counts)
	for _, c := range counts {
		total += c
	}
	probs := make([]float64, len(counts))
	for l, c := range counts {
		probs[l] = clampProb(float64(c+1) / float64(total))
	}
	return probs
}

func clampProb(p float64) float64 {
	if p < probFloor {
		return probFloor
	}
	if p > 1-probFloor {
		return 1 - probFloor
	}
	return p
}
