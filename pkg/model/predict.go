package model

import (
	"math"
	"time"
)

// PredictConfig carries the predictor tunables.
type PredictConfig struct {
	// Horizon is how far ahead the predictor looks when converting dwell
	// estimates into leave probabilities.
	Horizon time.Duration

	// MinProb drops candidates whose combined launch probability falls
	// below it. Zero keeps everything.
	MinProb float64
}

// Prediction is one candidate launch with its estimated probability.
type Prediction struct {
	Exe  *Exe
	Prob float64
}

// Predict estimates, for every known exe that is not currently running, the
// probability that it launches within the horizon, given the currently
// running set.
//
// Each correlated running partner contributes independently and the
// contributions combine by noisy-OR: P = 1 - Π(1 - c_i). A contribution is
// the pair's normalized weight times the probability that the pair leaves
// its current state within the horizon, modelled as an exponential dwell
// with the pair's smoothed time-to-leave. An exe that never co-occurred with
// anything currently running has no pair records to draw on and predicts
// exactly zero.
//
// Results are ordered by exe seq. Partner contributions fold in seq order,
// so the output is bit-for-bit reproducible regardless of how the running
// set was discovered.
func (m *Model) Predict(reg *Registry, cfg PredictConfig) []Prediction {
	horizon := cfg.Horizon.Seconds()
	if horizon <= 0 {
		return nil
	}

	var out []Prediction
	for cand := range reg.KnownExes() {
		if cand.Running {
			continue
		}

		miss := 1.0
		for _, ms := range m.Neighbors(cand.Seq) {
			partner, ok := reg.ExeBySeq(ms.Other(cand.Seq))
			if !ok || !partner.Running {
				continue
			}
			c := m.contribution(ms, horizon)
			miss *= 1 - c
		}

		p := clamp01(1 - miss)
		if p < cfg.MinProb || p == 0 {
			continue
		}
		out = append(out, Prediction{Exe: cand, Prob: p})
	}
	return out
}

// contribution converts one pair record into the candidate's launch
// probability contribution for the horizon.
func (m *Model) contribution(ms *MarkovState, horizon float64) float64 {
	if m.cfg.WeightMax <= 0 || ms.Weight <= 0 {
		return 0
	}
	w := clamp01(ms.Weight / m.cfg.WeightMax)

	ttl := ms.TimeToLeave[ms.State]
	var pLeave float64
	if ttl <= 0 {
		// The current state has never been observed to end. Treat the
		// departure as imminent rather than impossible, matching the
		// divergent limit of the exponential model.
		pLeave = 1
	} else {
		pLeave = -math.Expm1(-horizon / ttl)
	}

	return clamp01(w * pLeave)
}
