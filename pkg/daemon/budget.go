package daemon

import (
	"math"

	"github.com/preheatd/preheatd/pkg/config"
	"github.com/preheatd/preheatd/pkg/model"
)

// Budget derives the tick's prefetch byte budget from live memory pressure:
//
//	max(0, total*mem_total_pct + free*mem_free_pct) + cached*mem_cached_pct
//
// all percentages clamped to [-100,100], the final result clamped at zero.
// A negative mem_total_pct reserves a slice of total memory off the top, so
// the daemon only spends free memory beyond that reserve.
func Budget(p model.Pressure, cfg config.PlanConfig) uint64 {
	total := pct(p.TotalBytes, cfg.MemTotalPct)
	free := pct(p.FreeBytes, cfg.MemFreePct)
	cached := pct(p.CachedBytes, cfg.MemCachedPct)

	budget := total + free
	if budget < 0 {
		budget = 0
	}
	budget += cached
	if budget < 0 {
		return 0
	}
	return uint64(budget)
}

func pct(bytes uint64, percent int) int64 {
	if percent > 100 {
		percent = 100
	}
	if percent < -100 {
		percent = -100
	}
	// Multiply first so sub-hundred byte counts keep their share; divide
	// first only when the product would overflow.
	if bytes > math.MaxInt64/100 {
		return int64(bytes) / 100 * int64(percent)
	}
	return int64(bytes) * int64(percent) / 100
}
