// Package scanner collects the per-tick view of the system: which processes
// run, which executables they resolve to, which file regions they map, and
// how much memory and load headroom is left. It is the read-only boundary
// between /proc and the model.
package scanner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sync/errgroup"

	"github.com/preheatd/preheatd/internal/logger"
	"github.com/preheatd/preheatd/pkg/model"
)

// Config carries the scanner tunables.
type Config struct {
	// ProcMount is the procfs mount point, normally /proc.
	ProcMount string

	// Parallelism bounds how many processes are resolved concurrently.
	Parallelism int

	// ExePrefix filters which executables are tracked at all.
	ExePrefix PrefixFilter

	// MapPrefix filters which mapped files are recorded per process.
	MapPrefix PrefixFilter
}

// ApplyDefaults fills zero values with usable defaults.
func (c *Config) ApplyDefaults() {
	if c.ProcMount == "" {
		c.ProcMount = procfs.DefaultMountPoint
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 30
	}
}

// Scanner produces process snapshots from procfs.
type Scanner struct {
	cfg Config
	fs  procfs.FS

	now func() time.Time
}

// New creates a scanner over the configured procfs mount.
func New(cfg Config) (*Scanner, error) {
	cfg.ApplyDefaults()
	fs, err := procfs.NewFS(cfg.ProcMount)
	if err != nil {
		return nil, fmt.Errorf("opening procfs at %s: %w", cfg.ProcMount, err)
	}
	return &Scanner{cfg: cfg, fs: fs, now: time.Now}, nil
}

// Scan walks every visible process and returns the merged snapshot.
//
// Per-process failures are expected (processes exit mid-scan, other users'
// processes are unreadable) and never fail the scan: a process whose
// executable cannot be resolved is dropped, one whose maps cannot be read is
// reported with Unreadable set so the registry can record it as a bad exe.
// Resolution runs in parallel but the returned snapshot is a plain value;
// nothing here touches shared state.
func (s *Scanner) Scan(ctx context.Context) (model.Snapshot, error) {
	procs, err := s.fs.AllProcs()
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("listing processes: %w", err)
	}

	results := make([]*model.ProcessInfo, len(procs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for i, p := range procs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = s.resolve(p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.Snapshot{}, err
	}

	snap := model.Snapshot{Time: s.now().Unix()}
	for _, pi := range results {
		if pi != nil {
			snap.Processes = append(snap.Processes, *pi)
		}
	}

	logger.Debug("process scan complete",
		logger.Int("visible", len(procs)),
		logger.Int("tracked", len(snap.Processes)),
	)
	return snap, nil
}

// resolve turns one /proc entry into a ProcessInfo, or nil when the process
// is not trackable (kernel thread, raced exit, filtered out).
func (s *Scanner) resolve(p procfs.Proc) *model.ProcessInfo {
	exe, err := p.Executable()
	if err != nil || exe == "" {
		return nil
	}
	exe = strings.TrimSuffix(exe, " (deleted)")
	if !s.cfg.ExePrefix.Accept(exe) {
		return nil
	}

	maps, err := p.ProcMaps()
	if err != nil {
		return &model.ProcessInfo{PID: p.PID, URI: exe, Unreadable: true}
	}

	pi := &model.ProcessInfo{PID: p.PID, URI: exe}
	for _, m := range maps {
		region, ok := s.region(m)
		if ok {
			pi.Maps = append(pi.Maps, region)
		}
	}
	return pi
}

// region converts one maps line to a file region, filtering out anonymous
// and pseudo mappings, unlinked files, and paths outside the map filter.
func (s *Scanner) region(m *procfs.ProcMap) (model.MapRegion, bool) {
	path := m.Pathname
	if !strings.HasPrefix(path, "/") {
		return model.MapRegion{}, false
	}
	if strings.HasSuffix(path, " (deleted)") {
		return model.MapRegion{}, false
	}
	if !s.cfg.MapPrefix.Accept(path) {
		return model.MapRegion{}, false
	}
	if m.EndAddr <= m.StartAddr {
		return model.MapRegion{}, false
	}
	return model.MapRegion{
		URI:    path,
		Offset: uint64(m.Offset),
		Length: uint64(m.EndAddr - m.StartAddr),
	}, true
}
