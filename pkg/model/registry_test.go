package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistryConfig() RegistryConfig {
	return RegistryConfig{
		MinSize:          0,
		BadExeCooldown:   time.Hour,
		MapProbSmoothing: 0.25,
	}
}

func proc(pid int, uri string, regions ...MapRegion) ProcessInfo {
	return ProcessInfo{PID: pid, URI: uri, Maps: regions}
}

func region(uri string, offset, length uint64) MapRegion {
	return MapRegion{URI: uri, Offset: offset, Length: length}
}

func snap(t int64, procs ...ProcessInfo) Snapshot {
	return Snapshot{Time: t, Processes: procs}
}

func TestObserveRegistersNewExe(t *testing.T) {
	reg := NewRegistry(testRegistryConfig())

	diff := reg.Observe(snap(100,
		proc(1, "/usr/bin/editor",
			region("/usr/bin/editor", 0, 4096),
			region("/usr/lib/libui.so", 0, 8192),
		),
	))

	require.Len(t, diff.NewExes, 1)
	require.Len(t, diff.Started, 1)
	assert.Equal(t, 2, diff.NewMappings)
	assert.Empty(t, diff.Stopped)

	e, ok := reg.LookupExe("/usr/bin/editor")
	require.True(t, ok)
	assert.Equal(t, Seq(1), e.Seq)
	assert.True(t, e.Running)
	assert.Equal(t, int64(100), e.StartTime)
	assert.Len(t, e.Maps, 2)
	assert.Equal(t, uint64(4096+8192), e.Size(reg))
}

func TestReobserveKeepsSeqStable(t *testing.T) {
	reg := NewRegistry(testRegistryConfig())
	p := proc(1, "/usr/bin/editor", region("/usr/bin/editor", 0, 4096))

	reg.Observe(snap(100, p))
	e, _ := reg.LookupExe("/usr/bin/editor")
	seq := e.Seq

	// Exit, relaunch, exit again: same identity throughout.
	reg.Observe(snap(200))
	diff := reg.Observe(snap(300, p))
	reg.Observe(snap(400))

	require.Len(t, diff.Started, 1)
	assert.Empty(t, diff.NewExes, "relaunch must not register a new exe")
	assert.Equal(t, 1, reg.CountExes())

	e2, ok := reg.LookupExe("/usr/bin/editor")
	require.True(t, ok)
	assert.Equal(t, seq, e2.Seq)
	assert.False(t, e2.Running)
}

func TestObserveDetectsStops(t *testing.T) {
	reg := NewRegistry(testRegistryConfig())
	reg.Observe(snap(100,
		proc(1, "/bin/a", region("/bin/a", 0, 100)),
		proc(2, "/bin/b", region("/bin/b", 0, 100)),
	))

	diff := reg.Observe(snap(130, proc(1, "/bin/a", region("/bin/a", 0, 100))))

	require.Len(t, diff.Stopped, 1)
	assert.Equal(t, "/bin/b", diff.Stopped[0].URI)
	assert.False(t, diff.Stopped[0].Running)
	assert.Equal(t, int64(130), diff.Stopped[0].ChangeTime)
}

func TestObserveAccumulatesRunTime(t *testing.T) {
	reg := NewRegistry(testRegistryConfig())
	p := proc(1, "/bin/a", region("/bin/a", 0, 100))

	reg.Observe(snap(100, p))
	reg.Observe(snap(120, p))
	reg.Observe(snap(150))

	e, _ := reg.LookupExe("/bin/a")
	assert.Equal(t, int64(50), e.RunTime)
}

func TestMinSizeFootprintBecomesBadExe(t *testing.T) {
	cfg := testRegistryConfig()
	cfg.MinSize = 10000
	reg := NewRegistry(cfg)

	diff := reg.Observe(snap(100, proc(1, "/bin/tiny", region("/bin/tiny", 0, 512))))

	assert.Empty(t, diff.NewExes)
	assert.Equal(t, 0, reg.CountExes())
	_, bad := reg.BadExes()["/bin/tiny"]
	assert.True(t, bad)
}

func TestUnreadableProcessBecomesBadExe(t *testing.T) {
	reg := NewRegistry(testRegistryConfig())

	diff := reg.Observe(snap(100, ProcessInfo{PID: 1, URI: "/bin/sealed", Unreadable: true}))

	assert.Empty(t, diff.NewExes)
	_, bad := reg.BadExes()["/bin/sealed"]
	assert.True(t, bad)
}

func TestBadExeCooldownAllowsRecheck(t *testing.T) {
	cfg := testRegistryConfig()
	cfg.BadExeCooldown = 60 * time.Second
	reg := NewRegistry(cfg)

	reg.Observe(snap(100, ProcessInfo{PID: 1, URI: "/bin/flaky", Unreadable: true}))

	// Within cooldown the uri is skipped even if now readable.
	diff := reg.Observe(snap(130, proc(1, "/bin/flaky", region("/bin/flaky", 0, 100))))
	assert.Empty(t, diff.NewExes)

	// After cooldown the re-check succeeds.
	diff = reg.Observe(snap(170, proc(1, "/bin/flaky", region("/bin/flaky", 0, 100))))
	require.Len(t, diff.NewExes, 1)
	assert.NotContains(t, reg.BadExes(), "/bin/flaky")
}

func TestMapSharedBetweenExes(t *testing.T) {
	reg := NewRegistry(testRegistryConfig())
	lib := region("/usr/lib/libc.so", 0, 1<<20)

	reg.Observe(snap(100,
		proc(1, "/bin/a", region("/bin/a", 0, 100), lib),
		proc(2, "/bin/b", region("/bin/b", 0, 100), lib),
	))

	assert.Equal(t, 3, reg.CountMaps(), "shared region registers once")

	a, _ := reg.LookupExe("/bin/a")
	b, _ := reg.LookupExe("/bin/b")
	shared := 0
	for seq := range a.Maps {
		if _, ok := b.Maps[seq]; ok {
			shared++
		}
	}
	assert.Equal(t, 1, shared)
}

func TestMapProbSmoothingOnRelaunch(t *testing.T) {
	cfg := testRegistryConfig()
	cfg.MapProbSmoothing = 0.5
	reg := NewRegistry(cfg)

	both := proc(1, "/bin/a", region("/bin/a", 0, 100), region("/usr/lib/x.so", 0, 100))
	bare := proc(1, "/bin/a", region("/bin/a", 0, 100))

	reg.Observe(snap(100, both))
	reg.Observe(snap(200))
	reg.Observe(snap(300, bare)) // relaunch without the library

	e, _ := reg.LookupExe("/bin/a")
	probs := make(map[Seq]float64)
	for seq, em := range e.Maps {
		probs[seq] = em.Prob
	}

	for m := range reg.KnownMaps() {
		switch m.URI {
		case "/bin/a":
			assert.InDelta(t, 1.0, probs[m.Seq], 1e-9)
		case "/usr/lib/x.so":
			assert.InDelta(t, 0.5, probs[m.Seq], 1e-9)
		}
	}
}

func TestUnreadableRelaunchKeepsMapProbs(t *testing.T) {
	cfg := testRegistryConfig()
	cfg.MapProbSmoothing = 0.5
	reg := NewRegistry(cfg)

	p := proc(1, "/bin/a", region("/bin/a", 0, 100), region("/usr/lib/x.so", 0, 100))

	reg.Observe(snap(100, p))
	reg.Observe(snap(200))

	// Relaunch raced by a permission failure: the exe is visible but its
	// maps are not.
	diff := reg.Observe(snap(300, ProcessInfo{PID: 1, URI: "/bin/a", Unreadable: true}))

	require.Len(t, diff.Started, 1)
	e, _ := reg.LookupExe("/bin/a")
	assert.True(t, e.Running)
	require.Len(t, e.Maps, 2)
	for _, em := range e.Maps {
		assert.InDelta(t, 1.0, em.Prob, 1e-9)
	}
}

func TestKnownExesOrderedBySeq(t *testing.T) {
	reg := NewRegistry(testRegistryConfig())
	reg.Observe(snap(100,
		proc(3, "/bin/c", region("/bin/c", 0, 1)),
		proc(1, "/bin/a", region("/bin/a", 0, 1)),
		proc(2, "/bin/b", region("/bin/b", 0, 1)),
	))

	var seqs []Seq
	for e := range reg.KnownExes() {
		seqs = append(seqs, e.Seq)
	}
	assert.Equal(t, []Seq{1, 2, 3}, seqs)
}

func TestRestoreRejectsDuplicates(t *testing.T) {
	reg := NewRegistry(testRegistryConfig())

	require.NoError(t, reg.RestoreExe(&Exe{Seq: 5, URI: "/bin/a"}))
	assert.Error(t, reg.RestoreExe(&Exe{Seq: 6, URI: "/bin/a"}), "duplicate uri")
	assert.Error(t, reg.RestoreExe(&Exe{Seq: 5, URI: "/bin/b"}), "duplicate seq")

	require.NoError(t, reg.RestoreMap(&Map{Seq: 9, URI: "/lib/x", Offset: 0, Length: 10}))
	assert.Error(t, reg.RestoreMap(&Map{Seq: 9, URI: "/lib/y", Offset: 0, Length: 10}))

	// Fresh registrations continue above the restored seqs.
	diff := reg.Observe(snap(100, proc(1, "/bin/new", region("/bin/new", 0, 100))))
	require.Len(t, diff.NewExes, 1)
	assert.Greater(t, diff.NewExes[0].Seq, Seq(5))
}

func TestRestoreExeMapValidatesSeqs(t *testing.T) {
	reg := NewRegistry(testRegistryConfig())
	require.NoError(t, reg.RestoreExe(&Exe{Seq: 1, URI: "/bin/a"}))
	require.NoError(t, reg.RestoreMap(&Map{Seq: 2, URI: "/bin/a", Length: 10}))

	assert.NoError(t, reg.RestoreExeMap(1, 2, 0.7))
	assert.Error(t, reg.RestoreExeMap(42, 2, 0.7))
	assert.Error(t, reg.RestoreExeMap(1, 42, 0.7))

	e, _ := reg.LookupExe("/bin/a")
	assert.InDelta(t, 0.7, e.Maps[2].Prob, 1e-9)
}
