// Package readahead issues the prefetch plan to the kernel. All work here is
// advisory: a region that cannot be fetched is counted and skipped, never
// surfaced as a failure to the caller.
package readahead

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/preheatd/preheatd/internal/logger"
	"github.com/preheatd/preheatd/pkg/model"
)

// SortStrategy controls the order regions are submitted in.
type SortStrategy string

const (
	// SortNone submits regions in plan order (best score first).
	SortNone SortStrategy = "none"
	// SortPath groups regions by file path, then offset.
	SortPath SortStrategy = "path"
	// SortInode orders by device and inode number to approximate disk
	// layout on filesystems that allocate sequentially.
	SortInode SortStrategy = "inode"
	// SortBlock is accepted as an alias for SortInode. True block-level
	// ordering needs FIBMAP, which requires root and is not portable.
	SortBlock SortStrategy = "block"
)

// ValidStrategy reports whether s names a known sort strategy.
func ValidStrategy(s SortStrategy) bool {
	switch s {
	case SortNone, SortPath, SortInode, SortBlock:
		return true
	}
	return false
}

// Config carries the issuer tunables.
type Config struct {
	Strategy SortStrategy
}

// Stats summarizes one prefetch pass.
type Stats struct {
	Requested int
	Issued    int
	Failed    int
	Bytes     uint64
}

// Issuer submits read-ahead requests for planned map regions.
type Issuer struct {
	cfg Config

	// fileID resolves a path to a (device, inode) ordering key; overridden
	// in tests.
	fileID func(path string) (uint64, uint64)
}

// New creates an issuer. An empty strategy means SortNone.
func New(cfg Config) *Issuer {
	if cfg.Strategy == "" {
		cfg.Strategy = SortNone
	}
	return &Issuer{cfg: cfg, fileID: statFileID}
}

// Prefetch submits every region to the kernel read-ahead machinery, one open
// file per distinct path. Failures are advisory and reflected only in the
// returned stats; the context stops the pass between files.
func (i *Issuer) Prefetch(ctx context.Context, regions []model.MapRegion) Stats {
	stats := Stats{Requested: len(regions)}
	ordered := i.order(regions)

	var (
		cur  *os.File
		path string
	)
	defer func() {
		if cur != nil {
			cur.Close()
		}
	}()

	for _, r := range ordered {
		if ctx.Err() != nil {
			break
		}
		if cur == nil || r.URI != path {
			if cur != nil {
				cur.Close()
				cur = nil
			}
			f, err := os.Open(r.URI)
			if err != nil {
				logger.Debug("prefetch open failed", logger.Map(r.URI), logger.Err(err))
				stats.Failed++
				path = ""
				continue
			}
			cur, path = f, r.URI
		}

		if err := advise(cur, int64(r.Offset), int64(r.Length)); err != nil {
			logger.Debug("prefetch advise failed", logger.Map(r.URI), logger.Err(err))
			stats.Failed++
			continue
		}
		stats.Issued++
		stats.Bytes += r.Length
	}
	return stats
}

// order returns the regions in submission order without mutating the input.
func (i *Issuer) order(regions []model.MapRegion) []model.MapRegion {
	out := slices.Clone(regions)
	switch i.cfg.Strategy {
	case SortPath:
		slices.SortStableFunc(out, func(a, b model.MapRegion) int {
			if a.URI != b.URI {
				if a.URI < b.URI {
					return -1
				}
				return 1
			}
			return cmpUint64(a.Offset, b.Offset)
		})
	case SortInode, SortBlock:
		type key struct{ dev, ino uint64 }
		ids := make(map[string]key)
		for _, r := range out {
			if _, ok := ids[r.URI]; !ok {
				dev, ino := i.fileID(r.URI)
				ids[r.URI] = key{dev, ino}
			}
		}
		slices.SortStableFunc(out, func(a, b model.MapRegion) int {
			ka, kb := ids[a.URI], ids[b.URI]
			if ka.dev != kb.dev {
				return cmpUint64(ka.dev, kb.dev)
			}
			if ka.ino != kb.ino {
				return cmpUint64(ka.ino, kb.ino)
			}
			return cmpUint64(a.Offset, b.Offset)
		})
	}
	return out
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// statFileID resolves the ordering key for inode sorting. Unresolvable paths
// sort first together; they will fail at open time and be counted there.
func statFileID(path string) (uint64, uint64) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, 0
	}
	return sysFileID(fi)
}

func (s Stats) String() string {
	return fmt.Sprintf("issued %d/%d regions (%d bytes, %d failed)",
		s.Issued, s.Requested, s.Bytes, s.Failed)
}
