package model

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModelConfig() ModelConfig {
	return ModelConfig{
		TTLSmoothing:      0.5,
		WeightGain:        0.25,
		WeightMax:         1.0,
		WeightHalfLife:    10 * time.Minute,
		CoincidenceWindow: 5 * time.Second,
	}
}

// tick runs one full observe+apply step.
func tick(reg *Registry, m *Model, s Snapshot) Diff {
	diff := reg.Observe(s)
	m.Apply(diff, reg)
	return diff
}

func TestPairCreatedOnFirstCoOccurrence(t *testing.T) {
	reg := NewRegistry(testRegistryConfig())
	m := NewModel(testModelConfig())

	a := proc(1, "/bin/a", region("/bin/a", 0, 100))
	b := proc(2, "/bin/b", region("/bin/b", 0, 100))

	// Never overlapping: no pair.
	tick(reg, m, snap(100, a))
	tick(reg, m, snap(120))
	tick(reg, m, snap(140, b))
	assert.Equal(t, 0, m.CountPairs())

	// First overlap creates exactly one pair.
	tick(reg, m, snap(160, a, b))
	require.Equal(t, 1, m.CountPairs())

	ea, _ := reg.LookupExe("/bin/a")
	eb, _ := reg.LookupExe("/bin/b")
	ms, ok := m.Get(ea.Seq, eb.Seq)
	require.True(t, ok)
	assert.Equal(t, StateBoth, ms.State)

	msRev, ok := m.Get(eb.Seq, ea.Seq)
	require.True(t, ok)
	assert.Same(t, ms, msRev, "lookup is order-insensitive")
}

func TestCoincidentLaunchesGrowWeightToSaturation(t *testing.T) {
	reg := NewRegistry(testRegistryConfig())
	cfg := testModelConfig()
	m := NewModel(cfg)

	a := proc(1, "/bin/a", region("/bin/a", 0, 100))
	b := proc(2, "/bin/b", region("/bin/b", 0, 100))

	var prev float64
	now := int64(1000)
	for i := 0; i < 10; i++ {
		tick(reg, m, snap(now, a, b))
		tick(reg, m, snap(now+60))
		now += 120

		ea, _ := reg.LookupExe("/bin/a")
		eb, _ := reg.LookupExe("/bin/b")
		ms, ok := m.Get(ea.Seq, eb.Seq)
		require.True(t, ok)
		assert.GreaterOrEqual(t, ms.Weight, prev*math.Exp(-1), "weight trends upward")
		assert.LessOrEqual(t, ms.Weight, cfg.WeightMax)
		prev = ms.Weight
	}

	ea, _ := reg.LookupExe("/bin/a")
	eb, _ := reg.LookupExe("/bin/b")
	ms, _ := m.Get(ea.Seq, eb.Seq)
	assert.Greater(t, ms.Weight, 0.9, "repeated co-launches saturate the weight")
}

func TestWeightDecaysWithoutCoOccurrence(t *testing.T) {
	reg := NewRegistry(testRegistryConfig())
	m := NewModel(testModelConfig())

	a := proc(1, "/bin/a", region("/bin/a", 0, 100))
	b := proc(2, "/bin/b", region("/bin/b", 0, 100))

	tick(reg, m, snap(1000, a, b))
	ea, _ := reg.LookupExe("/bin/a")
	eb, _ := reg.LookupExe("/bin/b")
	ms, _ := m.Get(ea.Seq, eb.Seq)
	seeded := ms.Weight
	require.Greater(t, seeded, 0.0)

	// B exits and relaunches far outside the coincidence window, repeatedly.
	now := int64(1000)
	for i := 0; i < 5; i++ {
		now += 3600
		tick(reg, m, snap(now, a))
		now += 3600
		tick(reg, m, snap(now, a, b))
	}

	assert.Less(t, ms.Weight, seeded)
	assert.GreaterOrEqual(t, ms.Weight, 0.0)
}

func TestWeightStaysFiniteUnderDegenerateTransitions(t *testing.T) {
	reg := NewRegistry(testRegistryConfig())
	m := NewModel(testModelConfig())

	a := proc(1, "/bin/a", region("/bin/a", 0, 100))
	b := proc(2, "/bin/b", region("/bin/b", 0, 100))

	// Zero-duration flapping: every transition lands on the same timestamp.
	const now = 5000
	tick(reg, m, snap(now, a, b))
	for i := 0; i < 50; i++ {
		tick(reg, m, snap(now, a))
		tick(reg, m, snap(now, a, b))
	}

	ea, _ := reg.LookupExe("/bin/a")
	eb, _ := reg.LookupExe("/bin/b")
	ms, ok := m.Get(ea.Seq, eb.Seq)
	require.True(t, ok)

	assert.False(t, math.IsNaN(ms.Weight))
	assert.False(t, math.IsInf(ms.Weight, 0))
	assert.GreaterOrEqual(t, ms.Weight, 0.0)
	for s, ttl := range ms.TimeToLeave {
		assert.False(t, math.IsNaN(ttl), "state %d", s)
		assert.False(t, math.IsInf(ttl, 0), "state %d", s)
		assert.GreaterOrEqual(t, ttl, 0.0, "state %d", s)
	}
}

func TestTimeToLeaveSmoothing(t *testing.T) {
	reg := NewRegistry(testRegistryConfig())
	cfg := testModelConfig()
	cfg.TTLSmoothing = 0.5
	m := NewModel(cfg)

	a := proc(1, "/bin/a", region("/bin/a", 0, 100))
	b := proc(2, "/bin/b", region("/bin/b", 0, 100))

	tick(reg, m, snap(100, a, b)) // both, dwell clock starts
	tick(reg, m, snap(110, a))    // leaves both after 10s: seeds estimate
	tick(reg, m, snap(130, a, b)) // leaves only-A after 20s
	tick(reg, m, snap(170, a))    // leaves both after 40s: 0.5*40 + 0.5*10

	ea, _ := reg.LookupExe("/bin/a")
	eb, _ := reg.LookupExe("/bin/b")
	ms, _ := m.Get(ea.Seq, eb.Seq)

	assert.InDelta(t, 25.0, ms.TimeToLeave[StateBoth], 1e-9)
	if ea.Seq < eb.Seq {
		assert.InDelta(t, 20.0, ms.TimeToLeave[StateOnlyA], 1e-9)
	} else {
		assert.InDelta(t, 20.0, ms.TimeToLeave[StateOnlyB], 1e-9)
	}
}

func TestNeighborsOrderedByPartnerSeq(t *testing.T) {
	reg := NewRegistry(testRegistryConfig())
	m := NewModel(testModelConfig())

	tick(reg, m, snap(100,
		proc(1, "/bin/a", region("/bin/a", 0, 1)),
		proc(2, "/bin/b", region("/bin/b", 0, 1)),
		proc(3, "/bin/c", region("/bin/c", 0, 1)),
		proc(4, "/bin/d", region("/bin/d", 0, 1)),
	))

	ea, _ := reg.LookupExe("/bin/a")
	neighbors := m.Neighbors(ea.Seq)
	require.Len(t, neighbors, 3)
	for i := 1; i < len(neighbors); i++ {
		assert.Less(t, neighbors[i-1].Other(ea.Seq), neighbors[i].Other(ea.Seq))
	}
}

func TestRestorePair(t *testing.T) {
	m := NewModel(testModelConfig())

	good := &MarkovState{A: 1, B: 2, Time: 999, Weight: 0.5, TimeToLeave: [StateCount]float64{1, 2, 3, 4}}
	require.NoError(t, m.RestorePair(good))
	assert.Equal(t, StateNeither, good.State, "restored pairs start in neither")
	assert.Zero(t, good.Time, "dwell clock resets on restore")

	assert.Error(t, m.RestorePair(&MarkovState{A: 2, B: 1}), "unnormalized pair")
	assert.Error(t, m.RestorePair(&MarkovState{A: 1, B: 2}), "duplicate pair")

	// Damaged values are clamped on the way in.
	dirty := &MarkovState{A: 3, B: 4, Weight: math.Inf(1), TimeToLeave: [StateCount]float64{math.NaN(), -5, 0, 1}}
	require.NoError(t, m.RestorePair(dirty))
	assert.Equal(t, testModelConfig().WeightMax, dirty.Weight)
	assert.Zero(t, dirty.TimeToLeave[0])
	assert.Zero(t, dirty.TimeToLeave[1])
}
