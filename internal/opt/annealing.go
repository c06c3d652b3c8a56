package opt

import (
	"math"
	"math/rand"
	"time"
)

// AnnealingParams tune the simulated annealing solver.
type AnnealingParams struct {
	InitialTemp       float64 `json:"initialTemp"`
	CoolingRate       float64 `json:"coolingRate"`
	MinTemp           float64 `json:"minTemp"`
	IterationsPerTemp int     `json:"iterationsPerTemp"`
}

// DefaultAnnealingParams mirror the engine's historical defaults.
func DefaultAnnealingParams() AnnealingParams {
	return AnnealingParams{InitialTemp: 1000, CoolingRate: 0.995, MinTemp: 0.1, IterationsPerTemp: 100}
}

func (ap AnnealingParams) validate() error {
	if ap.InitialTemp <= 0 {
		return ConfigError("initialTemp must be > 0")
	}
	if ap.CoolingRate <= 0 || ap.CoolingRate >= 1 {
		return ConfigError("coolingRate must be in (0,1)")
	}
	if ap.MinTemp <= 0 || ap.MinTemp >= ap.InitialTemp {
		return ConfigError("minTemp must be > 0 and < initialTemp")
	}
	if ap.IterationsPerTemp <= 0 {
		return ConfigError("iterationsPerTemp must be > 0")
	}
	return nil
}

// TemperatureLevels returns how many outer cooling steps a run performs
// before the temperature drops below MinTemp.
func (ap AnnealingParams) TemperatureLevels() int {
	return int(math.Ceil(math.Log(ap.MinTemp/ap.InitialTemp) / math.Log(ap.CoolingRate)))
}

// SolveAnnealing performs Metropolis search over orderings: at each
// temperature level it proposes IterationsPerTemp neighbors, accepting worse
// moves with probability exp(-delta/T). The temperature decays geometrically
// until it falls below MinTemp. The best ordering seen anywhere in the run
// is returned, never the (possibly worse) final accepted state.
func SolveAnnealing(p Problem, ap AnnealingParams, seed int64, hook ProgressHook) (Result, RunStats, error) {
	if err := ap.validate(); err != nil {
		return Result{}, RunStats{}, err
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	stats := RunStats{Algorithm: "annealing", Seed: seed}

	current := randomOrder(len(p.Stops), rng)
	currentFitness := evalFitness(p, current)
	stats.Evaluations++
	best := clone(current)
	bestFitness := currentFitness

	temp := ap.InitialTemp
	for temp >= ap.MinTemp {
		for i := 0; i < ap.IterationsPerTemp; i++ {
			cand := neighbor(current, rng)
			candFitness := evalFitness(p, cand)
			stats.Evaluations++
			delta := candFitness - currentFitness
			if delta <= 0 {
				current = cand
				currentFitness = candFitness
			} else if rng.Float64() < math.Exp(-delta/temp) {
				current = cand
				currentFitness = candFitness
				stats.AcceptedWorse++
			}
			if currentFitness < bestFitness {
				best = clone(current)
				bestFitness = currentFitness
				stats.Improvements++
			}
		}
		temp *= ap.CoolingRate
		stats.Steps++
		if hook != nil {
			hook(Progress{Step: stats.Steps, BestFitness: bestFitness, Temperature: temp})
		}
		if stats.Steps%snapshotEvery == 0 {
			stats.Snapshots = append(stats.Snapshots, Snapshot{Step: stats.Steps, BestFitness: bestFitness, Temperature: temp})
		}
	}

	stats.BestFitness = bestFitness
	stats.FinalTemp = temp
	sched := Evaluate(p, best)
	return Result{Order: best, Schedule: sched, Fitness: bestFitness}, stats, nil
}

// neighbor proposes a fresh ordering one move away: either a swap of two
// non-start positions or a reversal of a random subsegment.
func neighbor(ord []int, rng *rand.Rand) []int {
	out := clone(ord)
	n := len(out)
	if n < 3 {
		return out
	}
	i := 1 + rng.Intn(n-1)
	j := 1 + rng.Intn(n-1)
	for j == i {
		j = 1 + rng.Intn(n-1)
	}
	if i > j {
		i, j = j, i
	}
	if rng.Intn(2) == 0 {
		out[i], out[j] = out[j], out[i]
	} else {
		for a, b := i, j; a < b; a, b = a+1, b-1 {
			out[a], out[b] = out[b], out[a]
		}
	}
	return out
}
