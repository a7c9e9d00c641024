package scanner

import (
	"fmt"

	"github.com/prometheus/procfs"

	"github.com/preheatd/preheatd/pkg/model"
)

// PressureSource reads memory and load figures from procfs, polled once per
// planning pass.
type PressureSource struct {
	fs procfs.FS
}

// NewPressureSource creates a pressure source over the given procfs mount.
// An empty mount means the default /proc.
func NewPressureSource(procMount string) (*PressureSource, error) {
	if procMount == "" {
		procMount = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(procMount)
	if err != nil {
		return nil, fmt.Errorf("opening procfs at %s: %w", procMount, err)
	}
	return &PressureSource{fs: fs}, nil
}

// Read returns the current pressure reading. Meminfo byte values are derived
// from the kernel's kibibyte counters. When the kernel does not report
// MemAvailable (pre-3.14), free plus cached stands in for it.
func (p *PressureSource) Read() (model.Pressure, error) {
	mi, err := p.fs.Meminfo()
	if err != nil {
		return model.Pressure{}, fmt.Errorf("reading meminfo: %w", err)
	}
	load, err := p.fs.LoadAvg()
	if err != nil {
		return model.Pressure{}, fmt.Errorf("reading loadavg: %w", err)
	}

	out := model.Pressure{
		Load1:          load.Load1,
		TotalBytes:     kb(mi.MemTotal),
		FreeBytes:      kb(mi.MemFree),
		CachedBytes:    kb(mi.Cached),
		AvailableBytes: kb(mi.MemAvailable),
	}
	if out.AvailableBytes == 0 {
		out.AvailableBytes = out.FreeBytes + out.CachedBytes
	}
	return out, nil
}

func kb(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v * 1024
}
