// Package model implements the predictive core of preheatd: the registry of
// observed executables and mapped files, the pairwise Markov correlation
// model, the launch-probability predictor, and the budget-aware prefetch
// planner.
//
// The package has no I/O of its own. Process snapshots, resource pressure
// readings, prefetch issuance, and persistence are supplied by collaborators
// at the daemon boundary; everything here is deterministic given its inputs,
// which keeps the model independently testable.
package model

import "fmt"

// Seq is the stable integer identity assigned to registry entities.
// A Seq is assigned exactly once, never reused, and is the key all
// relations (ExeMap, MarkovState) and the persistent schema use.
type Seq int64

// Exe is a known application binary, identified by the canonical path of its
// executable. Its persistent state is the set of maps it uses and its
// correlation records with other exes; its runtime state is the Running flag
// maintained by Registry.Observe.
type Exe struct {
	Seq Seq
	URI string

	// UpdateTime is the model timestamp (unix seconds) of the last tick
	// that observed this exe, running or not.
	UpdateTime int64

	// StartTime is the timestamp of the most recent observed launch.
	StartTime int64

	// ChangeTime is the timestamp of the last running-state flip.
	ChangeTime int64

	// RunTime accumulates total observed running seconds.
	RunTime int64

	Running bool

	// Maps holds the ExeMap associations keyed by map sequence id.
	Maps map[Seq]*ExeMap

	// runCount counts observed launches, used for ExeMap probability
	// smoothing. Not persisted; reconstructed probabilities survive via
	// the ExeMap.Prob field itself.
	runCount int64
}

// Size returns the summed length of all maps associated with the exe.
func (e *Exe) Size(reg *Registry) uint64 {
	var total uint64
	for seq := range e.Maps {
		if m, ok := reg.MapBySeq(seq); ok {
			total += m.Length
		}
	}
	return total
}

// MapKey identifies a distinct Map: the mapped file plus the region within it.
type MapKey struct {
	URI    string
	Offset uint64
	Length uint64
}

func (k MapKey) String() string {
	return fmt.Sprintf("%s@%d+%d", k.URI, k.Offset, k.Length)
}

// Map is a file region an exe has been observed to map: its own binary or a
// shared library segment. A Map may be shared by any number of exes.
type Map struct {
	Seq        Seq
	URI        string
	Offset     uint64
	Length     uint64
	UpdateTime int64
}

// Key returns the identity triple of the map.
func (m *Map) Key() MapKey {
	return MapKey{URI: m.URI, Offset: m.Offset, Length: m.Length}
}

// ExeMap associates an Exe with a Map it uses. Prob estimates the fraction of
// the exe's runs in which the map was actually referenced, smoothed
// exponentially so the estimate survives save/load cycles without raw counts.
type ExeMap struct {
	ExeSeq Seq
	MapSeq Seq
	Prob   float64
}

// MapRegion is one mapped file region reported by the process scanner.
type MapRegion struct {
	URI    string
	Offset uint64
	Length uint64
}

// ProcessInfo describes one running process in a scanner snapshot.
//
// Unreadable marks a process whose executable resolved but whose mapped
// regions could not be read (permissions, raced exit). Such a uri is recorded
// as a bad exe rather than registered.
type ProcessInfo struct {
	PID        int
	URI        string
	Maps       []MapRegion
	Unreadable bool
}

// Snapshot is the merged, read-only view of the system the scanner delivers
// once per tick. Time is the model timestamp the whole tick runs under.
type Snapshot struct {
	Time      int64
	Processes []ProcessInfo
}

// Transition describes one running-state change detected by Observe.
type Transition struct {
	Exe     *Exe
	Started bool
}

// Diff is the set of state changes between two consecutive snapshots.
type Diff struct {
	Time        int64
	Started     []*Exe
	Stopped     []*Exe
	NewExes     []*Exe
	NewMappings int
}

// Transitions returns started and stopped exes as a single ordered list,
// started first, each group ordered by seq.
func (d Diff) Transitions() []Transition {
	out := make([]Transition, 0, len(d.Started)+len(d.Stopped))
	for _, e := range d.Started {
		out = append(out, Transition{Exe: e, Started: true})
	}
	for _, e := range d.Stopped {
		out = append(out, Transition{Exe: e})
	}
	return out
}

// Pressure is a point-in-time reading of system memory and load, polled once
// per planning pass. All byte quantities are absolute.
type Pressure struct {
	Load1          float64
	TotalBytes     uint64
	FreeBytes      uint64
	CachedBytes    uint64
	AvailableBytes uint64
}

// AvailableFraction returns available memory as a fraction of total,
// or 0 when total is unknown.
func (p Pressure) AvailableFraction() float64 {
	if p.TotalBytes == 0 {
		return 0
	}
	return float64(p.AvailableBytes) / float64(p.TotalBytes)
}
