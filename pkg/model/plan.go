package model

import "slices"

// PlanConfig carries the planner tunables.
type PlanConfig struct {
	// BenefitRefSize is the map size (bytes) at which the size benefit
	// factor halves: benefit = ref / (ref + size). Zero disables the
	// factor entirely.
	BenefitRefSize uint64

	// MaxLoad1 gates planning on the one-minute load average. Zero
	// disables the gate.
	MaxLoad1 float64

	// MinAvailableFraction gates planning on available memory as a
	// fraction of total. Zero disables the gate.
	MinAvailableFraction float64

	// ResidentPenalty scales the score of maps reported as already
	// resident in the page cache. 1 (or 0 when unset) leaves them alone.
	ResidentPenalty float64
}

// PlanItem is one map region selected for prefetching.
type PlanItem struct {
	Map   *Map
	Score float64
}

// Plan is the ordered prefetch decision for one tick.
type Plan struct {
	Items      []PlanItem
	TotalBytes uint64

	// Skipped is set when the pressure gate suppressed planning. The
	// caller distinguishes "nothing worth fetching" from "system too
	// busy to fetch".
	Skipped bool
}

// Regions returns the plan's file regions in selection order, ready for
// submission to the prefetch issuer.
func (p Plan) Regions() []MapRegion {
	out := make([]MapRegion, 0, len(p.Items))
	for _, it := range p.Items {
		out = append(out, MapRegion{URI: it.Map.URI, Offset: it.Map.Offset, Length: it.Map.Length})
	}
	return out
}

// BuildPlan turns launch predictions into a budget-bounded prefetch plan.
//
// Every map of every predicted exe is scored as
// prediction probability × map usage probability × size benefit, with maps
// shared by several predicted exes deduplicated at their best score. The
// candidates are then taken greedily in descending score order (map seq
// breaks ties) until the next candidate would push the byte total past the
// budget, at which point selection stops.
//
// When the system is under pressure, by load average or by available memory,
// no plan is produced at all. BuildPlan mutates nothing and is deterministic
// given its inputs.
func BuildPlan(preds []Prediction, reg *Registry, pressure Pressure, budget uint64, resident map[Seq]bool, cfg PlanConfig) Plan {
	if cfg.MaxLoad1 > 0 && pressure.Load1 > cfg.MaxLoad1 {
		return Plan{Skipped: true}
	}
	if cfg.MinAvailableFraction > 0 && pressure.AvailableFraction() < cfg.MinAvailableFraction {
		return Plan{Skipped: true}
	}
	if budget == 0 || len(preds) == 0 {
		return Plan{}
	}

	best := make(map[Seq]PlanItem)
	for _, pred := range preds {
		prob := clamp01(pred.Prob)
		if prob == 0 {
			continue
		}

		mapSeqs := make([]Seq, 0, len(pred.Exe.Maps))
		for seq := range pred.Exe.Maps {
			mapSeqs = append(mapSeqs, seq)
		}
		slices.Sort(mapSeqs)

		for _, seq := range mapSeqs {
			em := pred.Exe.Maps[seq]
			mp, ok := reg.MapBySeq(seq)
			if !ok || mp.Length == 0 {
				continue
			}

			score := prob * clamp01(em.Prob) * benefit(mp.Length, cfg.BenefitRefSize)
			if resident[seq] && cfg.ResidentPenalty > 0 {
				score *= clamp01(cfg.ResidentPenalty)
			}
			if score == 0 {
				continue
			}

			if cur, ok := best[seq]; !ok || score > cur.Score {
				best[seq] = PlanItem{Map: mp, Score: score}
			}
		}
	}

	items := make([]PlanItem, 0, len(best))
	for _, it := range best {
		items = append(items, it)
	}
	slices.SortFunc(items, func(x, y PlanItem) int {
		switch {
		case x.Score > y.Score:
			return -1
		case x.Score < y.Score:
			return 1
		default:
			return int(x.Map.Seq - y.Map.Seq)
		}
	})

	plan := Plan{}
	for _, it := range items {
		if plan.TotalBytes+it.Map.Length > budget {
			break
		}
		plan.Items = append(plan.Items, it)
		plan.TotalBytes += it.Map.Length
	}
	return plan
}

// benefit favors small maps: fetching two 1 MB libraries beats one 2 MB
// binary at equal probability because partial wins still help.
func benefit(size, ref uint64) float64 {
	if ref == 0 {
		return 1
	}
	return float64(ref) / float64(ref+size)
}
