package model

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// Pair states. Each tracked exe pair (A,B) with A.Seq < B.Seq is in exactly
// one of four states depending on which of the two is currently running.
const (
	StateNeither = 0
	StateOnlyA   = 1
	StateOnlyB   = 2
	StateBoth    = 3

	StateCount = 4
)

// ttlMax caps the time-to-leave estimate (seconds). A pair that has not
// changed state in thirty years is indistinguishable from one that never will.
const ttlMax = 1e9

// PairKey identifies a tracked exe pair. A is always the smaller seq.
type PairKey struct {
	A, B Seq
}

// NewPairKey builds a normalized key regardless of argument order.
func NewPairKey(a, b Seq) PairKey {
	if a > b {
		a, b = b, a
	}
	return PairKey{A: a, B: b}
}

// MarkovState is the correlation record for one exe pair: the current
// four-way running state, an exponentially smoothed estimate of how long the
// pair dwells in each state before leaving it, and a scalar correlation
// weight that grows on coincident launches and decays otherwise.
//
// All float fields are clamped after every update: TimeToLeave entries stay
// in [minDwell, ttlMax] once touched, Weight stays in [0, WeightMax], and
// neither ever holds NaN or Inf.
type MarkovState struct {
	A, B Seq

	State int

	// Time is the timestamp (unix seconds) of the last state change.
	Time int64

	// TimeToLeave[s] estimates the dwell time in state s, in seconds.
	// A zero entry means the state has never been left.
	TimeToLeave [StateCount]float64

	Weight float64
}

// Key returns the normalized pair key.
func (ms *MarkovState) Key() PairKey {
	return PairKey{A: ms.A, B: ms.B}
}

// Other returns the partner seq of the pair relative to seq.
func (ms *MarkovState) Other(seq Seq) Seq {
	if seq == ms.A {
		return ms.B
	}
	return ms.A
}

// PairState returns the four-way state for the given running flags of the
// pair's smaller-seq and larger-seq members.
func PairState(aRunning, bRunning bool) int {
	switch {
	case aRunning && bRunning:
		return StateBoth
	case aRunning:
		return StateOnlyA
	case bRunning:
		return StateOnlyB
	default:
		return StateNeither
	}
}

// ModelConfig carries the correlation model tunables.
type ModelConfig struct {
	// TTLSmoothing is the EWMA factor for the per-state dwell estimate:
	// new = smoothing*dwell + (1-smoothing)*old.
	TTLSmoothing float64

	// WeightGain is added to the pair weight on each coincident launch.
	WeightGain float64

	// WeightMax saturates the pair weight.
	WeightMax float64

	// WeightHalfLife controls the exponential decay applied to the weight
	// over the dwell time of non-coincident transitions.
	WeightHalfLife time.Duration

	// CoincidenceWindow is the maximum gap between two launches for them
	// to count as correlated.
	CoincidenceWindow time.Duration
}

// Model holds the pairwise correlation state for all exes that have ever been
// observed running together. Pairs are created lazily on first co-occurrence,
// so exes that never overlap carry no record and predict zero for each other.
//
// Model is not safe for concurrent use; the daemon tick owns it.
type Model struct {
	cfg   ModelConfig
	pairs map[PairKey]*MarkovState

	// adj indexes pairs by member seq for neighbor lookups.
	adj map[Seq]map[Seq]*MarkovState
}

// NewModel creates an empty correlation model.
func NewModel(cfg ModelConfig) *Model {
	return &Model{
		cfg:   cfg,
		pairs: make(map[PairKey]*MarkovState),
		adj:   make(map[Seq]map[Seq]*MarkovState),
	}
}

// Apply folds one tick's transitions into the model. New pairs are created
// between every freshly started exe and every exe running after the tick;
// every existing pair touching a transitioned exe is advanced to its new
// state, updating dwell estimates and weights along the way.
//
// Pairs touched by both of their members in the same tick are advanced
// exactly once.
func (m *Model) Apply(diff Diff, reg *Registry) {
	now := diff.Time

	for _, e := range diff.Started {
		for _, other := range reg.RunningExes() {
			if other.Seq == e.Seq {
				continue
			}
			m.ensurePair(e, other, now)
		}
	}

	touched := make(map[PairKey]*MarkovState)
	for _, tr := range diff.Transitions() {
		for _, ms := range m.adj[tr.Exe.Seq] {
			touched[ms.Key()] = ms
		}
	}

	keys := make([]PairKey, 0, len(touched))
	for k := range touched {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(x, y PairKey) int {
		if x.A != y.A {
			return int(x.A - y.A)
		}
		return int(x.B - y.B)
	})

	for _, k := range keys {
		ms := touched[k]
		a, okA := reg.ExeBySeq(ms.A)
		b, okB := reg.ExeBySeq(ms.B)
		if !okA || !okB {
			continue
		}
		m.advance(ms, a, b, now)
	}
}

// ensurePair creates the pair record for two co-running exes if it does not
// exist yet. A fresh pair starts in the both state; its weight is seeded with
// one gain step when the two launches fall within the coincidence window, so
// the first co-occurrence already counts.
func (m *Model) ensurePair(a, b *Exe, now int64) *MarkovState {
	key := NewPairKey(a.Seq, b.Seq)
	if ms, ok := m.pairs[key]; ok {
		return ms
	}

	ms := &MarkovState{
		A:     key.A,
		B:     key.B,
		State: StateBoth,
		Time:  now,
	}
	if m.coincident(a, b) {
		ms.Weight = sanitizeNonNeg(m.cfg.WeightGain, m.cfg.WeightMax)
	}

	m.pairs[key] = ms
	m.link(key.A, key.B, ms)
	m.link(key.B, key.A, ms)
	return ms
}

func (m *Model) link(from, to Seq, ms *MarkovState) {
	peers, ok := m.adj[from]
	if !ok {
		peers = make(map[Seq]*MarkovState)
		m.adj[from] = peers
	}
	peers[to] = ms
}

// advance moves the pair to the state implied by the current running flags.
// No-op when the state is unchanged.
func (m *Model) advance(ms *MarkovState, a, b *Exe, now int64) {
	next := PairState(a.Running, b.Running)
	if next == ms.State {
		return
	}

	// A zero Time means the dwell clock has not been established since
	// restore, so this transition carries no usable duration.
	dwellKnown := ms.Time > 0
	dwell := float64(now - ms.Time)
	if dwell < minDwell {
		dwell = minDwell
	}

	if dwellKnown {
		alpha := m.cfg.TTLSmoothing
		prev := ms.TimeToLeave[ms.State]
		if prev == 0 {
			// First observed departure from this state seeds the estimate.
			ms.TimeToLeave[ms.State] = sanitizeNonNeg(dwell, ttlMax)
		} else {
			ms.TimeToLeave[ms.State] = sanitizeNonNeg(alpha*dwell+(1-alpha)*prev, ttlMax)
		}
	}

	if next == StateBoth && m.coincident(a, b) {
		ms.Weight = sanitizeNonNeg(ms.Weight+m.cfg.WeightGain, m.cfg.WeightMax)
	} else if dwellKnown && m.cfg.WeightHalfLife > 0 {
		lambda := math.Ln2 / m.cfg.WeightHalfLife.Seconds()
		ms.Weight = sanitizeNonNeg(ms.Weight*math.Exp(-lambda*dwell), m.cfg.WeightMax)
	}

	ms.State = next
	ms.Time = now
}

// coincident reports whether the two exes' latest launches fall within the
// coincidence window of each other.
func (m *Model) coincident(a, b *Exe) bool {
	gap := a.StartTime - b.StartTime
	if gap < 0 {
		gap = -gap
	}
	return float64(gap) <= m.cfg.CoincidenceWindow.Seconds()
}

// Get returns the pair record for two exes in either argument order.
func (m *Model) Get(a, b Seq) (*MarkovState, bool) {
	ms, ok := m.pairs[NewPairKey(a, b)]
	return ms, ok
}

// Neighbors returns the pair records involving seq, ordered by partner seq
// so that iteration order never depends on map layout.
func (m *Model) Neighbors(seq Seq) []*MarkovState {
	peers := m.adj[seq]
	if len(peers) == 0 {
		return nil
	}
	partners := make([]Seq, 0, len(peers))
	for p := range peers {
		partners = append(partners, p)
	}
	slices.Sort(partners)
	out := make([]*MarkovState, 0, len(partners))
	for _, p := range partners {
		out = append(out, peers[p])
	}
	return out
}

// Pairs returns all pair records ordered by key, for persistence and dumps.
func (m *Model) Pairs() []*MarkovState {
	keys := make([]PairKey, 0, len(m.pairs))
	for k := range m.pairs {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(x, y PairKey) int {
		if x.A != y.A {
			return int(x.A - y.A)
		}
		return int(x.B - y.B)
	})
	out := make([]*MarkovState, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.pairs[k])
	}
	return out
}

// CountPairs returns the number of tracked pairs.
func (m *Model) CountPairs() int { return len(m.pairs) }

// RestorePair re-inserts a persisted pair record, clamping its numeric fields
// on the way in so a damaged row can never poison later math. Restored pairs
// start in the neither state; the first tick re-derives the live state.
func (m *Model) RestorePair(ms *MarkovState) error {
	if ms.A >= ms.B {
		return fmt.Errorf("pair (%d,%d) not normalized", ms.A, ms.B)
	}
	key := ms.Key()
	if _, ok := m.pairs[key]; ok {
		return fmt.Errorf("pair (%d,%d) already present", ms.A, ms.B)
	}

	ms.State = StateNeither
	ms.Time = 0
	for i := range ms.TimeToLeave {
		ms.TimeToLeave[i] = sanitizeNonNeg(ms.TimeToLeave[i], ttlMax)
	}
	ms.Weight = sanitizeNonNeg(ms.Weight, m.cfg.WeightMax)

	m.pairs[key] = ms
	m.link(key.A, key.B, ms)
	m.link(key.B, key.A, ms)
	return nil
}
