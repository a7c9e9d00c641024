package model

import (
	"fmt"
	"iter"
	"slices"
	"time"
)

// RegistryConfig carries the tunables of the exe/map registry.
type RegistryConfig struct {
	// MinSize is the minimum total mapped footprint (bytes) a process must
	// have before it is worth tracking. Smaller processes are recorded as
	// bad exes: prefetching them saves nothing and tracking them costs
	// quadratically in pair count.
	MinSize uint64

	// BadExeCooldown is how long a uri stays excluded after a failed or
	// rejected registration before a re-check is allowed.
	BadExeCooldown time.Duration

	// MapProbSmoothing is the exponential smoothing factor applied to
	// ExeMap.Prob on every observed launch.
	MapProbSmoothing float64
}

// Registry catalogs known exes and the file regions they map, assigns stable
// sequence identifiers, and tracks which exes are currently running.
//
// Registry is not safe for concurrent use; the daemon tick owns it.
type Registry struct {
	cfg RegistryConfig

	exes      map[string]*Exe
	exesBySeq map[Seq]*Exe
	maps      map[MapKey]*Map
	mapsBySeq map[Seq]*Map

	// badExes maps a uri to the timestamp of its last failed registration.
	badExes map[string]int64

	exeSeq Seq
	mapSeq Seq

	// lastObserved is the timestamp of the previous snapshot, used for
	// incremental running-time accounting.
	lastObserved int64
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		cfg:       cfg,
		exes:      make(map[string]*Exe),
		exesBySeq: make(map[Seq]*Exe),
		maps:      make(map[MapKey]*Map),
		mapsBySeq: make(map[Seq]*Map),
		badExes:   make(map[string]int64),
	}
}

// Observe ingests a scanner snapshot and returns the set of state transitions
// since the previous tick: which exes started, which stopped, and how many
// new exe/map associations were discovered.
//
// New uris are registered with a fresh sequence id unless they are within the
// bad-exe cooldown, in which case they are silently skipped for this tick.
// A uri whose maps could not be read, or whose footprint is below MinSize,
// becomes a bad exe instead of an Exe. Observe never surfaces per-process
// errors; unreadable files only ever produce bad-exe records.
func (r *Registry) Observe(snap Snapshot) Diff {
	now := snap.Time
	diff := Diff{Time: now}

	// Accounting for the elapsed period happens before transitions so a
	// stopping exe is still credited for its final interval.
	if r.lastObserved > 0 && now > r.lastObserved {
		period := now - r.lastObserved
		for _, e := range r.exes {
			if e.Running {
				e.RunTime += period
			}
		}
	}

	running := mergeByURI(snap.Processes)

	uris := make([]string, 0, len(running))
	for uri := range running {
		uris = append(uris, uri)
	}
	slices.Sort(uris)

	for _, uri := range uris {
		pi := running[uri]

		if bad, ok := r.badExes[uri]; ok {
			if now-bad < int64(r.cfg.BadExeCooldown.Seconds()) {
				continue
			}
			delete(r.badExes, uri) // cooldown elapsed, allow re-check
		}

		e, known := r.exes[uri]
		if !known {
			if pi.Unreadable {
				r.badExes[uri] = now
				continue
			}
			if totalLength(pi.Maps) < r.cfg.MinSize {
				r.badExes[uri] = now
				continue
			}

			e = r.registerExe(uri, now)
			diff.NewExes = append(diff.NewExes, e)
			diff.Started = append(diff.Started, e)
			diff.NewMappings += r.observeMappings(e, pi.Maps, now, true)
			continue
		}

		e.UpdateTime = now
		if !e.Running {
			e.Running = true
			e.StartTime = now
			e.ChangeTime = now
			e.runCount++
			diff.Started = append(diff.Started, e)
			// A relaunch whose maps could not be read says nothing about
			// which maps this run uses; keep the association probabilities.
			diff.NewMappings += r.observeMappings(e, pi.Maps, now, !pi.Unreadable)
		} else {
			// Still running: only absorb newly discovered mappings.
			diff.NewMappings += r.observeMappings(e, pi.Maps, now, false)
		}
	}

	for _, e := range r.exes {
		if e.Running {
			if _, ok := running[e.URI]; !ok {
				e.Running = false
				e.ChangeTime = now
				diff.Stopped = append(diff.Stopped, e)
			}
		}
	}
	slices.SortFunc(diff.Stopped, func(a, b *Exe) int { return int(a.Seq - b.Seq) })

	r.lastObserved = now
	return diff
}

// registerExe creates a new running exe for uri and assigns the next seq.
func (r *Registry) registerExe(uri string, now int64) *Exe {
	r.exeSeq++
	e := &Exe{
		Seq:        r.exeSeq,
		URI:        uri,
		UpdateTime: now,
		StartTime:  now,
		ChangeTime: now,
		Running:    true,
		Maps:       make(map[Seq]*ExeMap),
		runCount:   1,
	}
	r.exes[uri] = e
	r.exesBySeq[e.Seq] = e
	return e
}

// observeMappings registers any unseen map regions, attaches them to the exe,
// and (on a fresh launch) re-smooths the usage probability of every existing
// association against what this run actually mapped. Returns the number of
// new exe/map associations.
func (r *Registry) observeMappings(e *Exe, regions []MapRegion, now int64, launched bool) int {
	seen := make(map[Seq]bool, len(regions))
	created := 0

	for _, reg := range regions {
		key := MapKey{URI: reg.URI, Offset: reg.Offset, Length: reg.Length}
		m, ok := r.maps[key]
		if !ok {
			r.mapSeq++
			m = &Map{
				Seq:        r.mapSeq,
				URI:        reg.URI,
				Offset:     reg.Offset,
				Length:     reg.Length,
				UpdateTime: now,
			}
			r.maps[key] = m
			r.mapsBySeq[m.Seq] = m
		} else {
			m.UpdateTime = now
		}

		seen[m.Seq] = true
		if _, ok := e.Maps[m.Seq]; !ok {
			e.Maps[m.Seq] = &ExeMap{ExeSeq: e.Seq, MapSeq: m.Seq, Prob: 1.0}
			created++
		}
	}

	if launched {
		alpha := r.cfg.MapProbSmoothing
		for seq, em := range e.Maps {
			observed := 0.0
			if seen[seq] {
				observed = 1.0
			}
			em.Prob = clamp01((1-alpha)*em.Prob + alpha*observed)
		}
	}

	return created
}

// KnownExes returns a lazy, restartable sequence of all registered exes in
// ascending seq order.
func (r *Registry) KnownExes() iter.Seq[*Exe] {
	return func(yield func(*Exe) bool) {
		seqs := make([]Seq, 0, len(r.exesBySeq))
		for s := range r.exesBySeq {
			seqs = append(seqs, s)
		}
		slices.Sort(seqs)
		for _, s := range seqs {
			if !yield(r.exesBySeq[s]) {
				return
			}
		}
	}
}

// KnownMaps returns a lazy sequence of all registered maps in ascending seq
// order.
func (r *Registry) KnownMaps() iter.Seq[*Map] {
	return func(yield func(*Map) bool) {
		seqs := make([]Seq, 0, len(r.mapsBySeq))
		for s := range r.mapsBySeq {
			seqs = append(seqs, s)
		}
		slices.Sort(seqs)
		for _, s := range seqs {
			if !yield(r.mapsBySeq[s]) {
				return
			}
		}
	}
}

// RunningExes returns the currently running exes in ascending seq order.
func (r *Registry) RunningExes() []*Exe {
	out := make([]*Exe, 0)
	for e := range r.KnownExes() {
		if e.Running {
			out = append(out, e)
		}
	}
	return out
}

// LookupExe returns the exe registered under uri.
func (r *Registry) LookupExe(uri string) (*Exe, bool) {
	e, ok := r.exes[uri]
	return e, ok
}

// ExeBySeq returns the exe with the given sequence id.
func (r *Registry) ExeBySeq(seq Seq) (*Exe, bool) {
	e, ok := r.exesBySeq[seq]
	return e, ok
}

// MapBySeq returns the map with the given sequence id.
func (r *Registry) MapBySeq(seq Seq) (*Map, bool) {
	m, ok := r.mapsBySeq[seq]
	return m, ok
}

// BadExes returns a copy of the current bad-exe records (uri → update time).
func (r *Registry) BadExes() map[string]int64 {
	out := make(map[string]int64, len(r.badExes))
	for uri, t := range r.badExes {
		out[uri] = t
	}
	return out
}

// CountExes returns the number of registered exes.
func (r *Registry) CountExes() int { return len(r.exes) }

// CountMaps returns the number of registered maps.
func (r *Registry) CountMaps() int { return len(r.maps) }

// RestoreExe re-inserts a persisted exe. Every restored exe starts in the
// not-running state; the first Observe after load re-establishes runtime
// flags. Returns an error on duplicate uri or seq.
func (r *Registry) RestoreExe(e *Exe) error {
	if _, ok := r.exes[e.URI]; ok {
		return fmt.Errorf("exe %q already registered", e.URI)
	}
	if _, ok := r.exesBySeq[e.Seq]; ok {
		return fmt.Errorf("duplicate exe seq %d", e.Seq)
	}
	e.Running = false
	if e.Maps == nil {
		e.Maps = make(map[Seq]*ExeMap)
	}
	r.exes[e.URI] = e
	r.exesBySeq[e.Seq] = e
	if e.Seq > r.exeSeq {
		r.exeSeq = e.Seq
	}
	return nil
}

// RestoreMap re-inserts a persisted map. Returns an error on duplicate
// identity or seq.
func (r *Registry) RestoreMap(m *Map) error {
	key := m.Key()
	if _, ok := r.maps[key]; ok {
		return fmt.Errorf("map %s already registered", key)
	}
	if _, ok := r.mapsBySeq[m.Seq]; ok {
		return fmt.Errorf("duplicate map seq %d", m.Seq)
	}
	r.maps[key] = m
	r.mapsBySeq[m.Seq] = m
	if m.Seq > r.mapSeq {
		r.mapSeq = m.Seq
	}
	return nil
}

// RestoreExeMap re-attaches a persisted exe/map association. Associations
// referencing unknown seqs are dropped with an error so the caller can log
// and continue.
func (r *Registry) RestoreExeMap(exeSeq, mapSeq Seq, prob float64) error {
	e, ok := r.exesBySeq[exeSeq]
	if !ok {
		return fmt.Errorf("exemap references unknown exe seq %d", exeSeq)
	}
	if _, ok := r.mapsBySeq[mapSeq]; !ok {
		return fmt.Errorf("exemap references unknown map seq %d", mapSeq)
	}
	e.Maps[mapSeq] = &ExeMap{ExeSeq: exeSeq, MapSeq: mapSeq, Prob: clamp01(prob)}
	return nil
}

// RestoreBadExe re-inserts a persisted bad-exe record.
func (r *Registry) RestoreBadExe(uri string, updateTime int64) {
	r.badExes[uri] = updateTime
}

// mergeByURI collapses a process list to one entry per executable uri,
// concatenating mapped regions. Several pids of the same binary are one exe
// as far as the model is concerned.
func mergeByURI(procs []ProcessInfo) map[string]ProcessInfo {
	out := make(map[string]ProcessInfo, len(procs))
	for _, p := range procs {
		if p.URI == "" {
			continue
		}
		cur, ok := out[p.URI]
		if !ok {
			out[p.URI] = p
			continue
		}
		cur.Maps = append(cur.Maps, p.Maps...)
		cur.Unreadable = cur.Unreadable && p.Unreadable
		out[p.URI] = cur
	}
	return out
}

func totalLength(regions []MapRegion) uint64 {
	var total uint64
	for _, r := range regions {
		total += r.Length
	}
	return total
}
