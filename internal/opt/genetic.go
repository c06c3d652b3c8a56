package opt

import (
	"math/rand"
	"sort"
	"time"
)

// GeneticParams tune the genetic solver.
type GeneticParams struct {
	PopulationSize int     `json:"populationSize"`
	Generations    int     `json:"generations"`
	MutationRate   float64 `json:"mutationRate"`
	CrossoverRate  float64 `json:"crossoverRate"`
	EliteSize      int     `json:"eliteSize"`
}

// DefaultGeneticParams mirror the engine's historical defaults.
func DefaultGeneticParams() GeneticParams {
	return GeneticParams{PopulationSize: 100, Generations: 200, MutationRate: 0.1, CrossoverRate: 0.8, EliteSize: 10}
}

func (gp GeneticParams) validate() error {
	if gp.PopulationSize <= 0 {
		return ConfigError("populationSize must be > 0")
	}
	if gp.Generations <= 0 {
		return ConfigError("generations must be > 0")
	}
	if gp.MutationRate < 0 || gp.MutationRate > 1 {
		return ConfigError("mutationRate must be in [0,1]")
	}
	if gp.CrossoverRate < 0 || gp.CrossoverRate > 1 {
		return ConfigError("crossoverRate must be in [0,1]")
	}
	if gp.EliteSize < 0 || gp.EliteSize >= gp.PopulationSize {
		return ConfigError("eliteSize must satisfy 0 <= eliteSize < populationSize")
	}
	return nil
}

// individual pairs an ordering with its cached fitness. Orderings are never
// edited in place once scored; children are always fresh slices.
type individual struct {
	order   []int
	fitness float64
}

// SolveGenetic evolves a population of orderings for a fixed number of
// generations and returns the best individual ever seen, not the best of the
// final population. Seed 0 means time-seeded; any other seed reproduces the
// run exactly.
func SolveGenetic(p Problem, gp GeneticParams, seed int64, hook ProgressHook) (Result, RunStats, error) {
	if err := gp.validate(); err != nil {
		return Result{}, RunStats{}, err
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	stats := RunStats{Algorithm: "genetic", Seed: seed}

	pop := make([]individual, gp.PopulationSize)
	for i := range pop {
		ord := randomOrder(len(p.Stops), rng)
		pop[i] = individual{order: ord, fitness: evalFitness(p, ord)}
		stats.Evaluations++
	}
	sortByFitness(pop)
	best := clone(pop[0].order)
	bestFitness := pop[0].fitness

	for gen := 1; gen <= gp.Generations; gen++ {
		next := make([]individual, 0, gp.PopulationSize)
		for i := 0; i < gp.EliteSize; i++ {
			next = append(next, individual{order: clone(pop[i].order), fitness: pop[i].fitness})
		}
		for len(next) < gp.PopulationSize {
			p1 := tournament(pop, rng)
			p2 := tournament(pop, rng)
			var child []int
			if rng.Float64() < gp.CrossoverRate {
				child = orderCrossover(p1.order, p2.order, rng)
			} else {
				child = clone(p1.order)
			}
			if rng.Float64() < gp.MutationRate {
				swapMutate(child, rng)
			}
			next = append(next, individual{order: child, fitness: evalFitness(p, child)})
			stats.Evaluations++
		}
		pop = next
		sortByFitness(pop)
		if pop[0].fitness < bestFitness {
			best = clone(pop[0].order)
			bestFitness = pop[0].fitness
			stats.Improvements++
		}
		stats.Steps = gen
		if hook != nil {
			hook(Progress{Step: gen, BestFitness: bestFitness})
		}
		if gen%snapshotEvery == 0 {
			stats.Snapshots = append(stats.Snapshots, Snapshot{Step: gen, BestFitness: bestFitness})
		}
	}

	stats.BestFitness = bestFitness
	sched := Evaluate(p, best)
	return Result{Order: best, Schedule: sched, Fitness: bestFitness}, stats, nil
}

// randomOrder returns a fresh ordering with the start pinned at position 0
// and the remaining stops shuffled.
func randomOrder(n int, rng *rand.Rand) []int {
	ord := make([]int, n)
	for i, v := range rng.Perm(n - 1) {
		ord[i+1] = v + 1
	}
	return ord
}

func clone(ord []int) []int { return append([]int(nil), ord...) }

func sortByFitness(pop []individual) {
	sort.Slice(pop, func(i, j int) bool { return pop[i].fitness < pop[j].fitness })
}

// tournament picks the fittest of three random members.
func tournament(pop []individual, rng *rand.Rand) individual {
	best := pop[rng.Intn(len(pop))]
	for i := 0; i < 2; i++ {
		c := pop[rng.Intn(len(pop))]
		if c.fitness < best.fitness {
			best = c
		}
	}
	return best
}

// orderCrossover copies a contiguous segment of a into the child, then fills
// the remaining positions in b's relative order, skipping duplicates. The
// pinned start never moves.
func orderCrossover(a, b []int, rng *rand.Rand) []int {
	n := len(a)
	child := make([]int, n)
	for i := 1; i < n; i++ {
		child[i] = -1
	}
	lo := 1 + rng.Intn(n-1)
	hi := 1 + rng.Intn(n-1)
	if lo > hi {
		lo, hi = hi, lo
	}
	used := make([]bool, n)
	used[0] = true
	for i := lo; i <= hi; i++ {
		child[i] = a[i]
		used[a[i]] = true
	}
	pos := 1
	for _, g := range b[1:] {
		if used[g] {
			continue
		}
		for child[pos] != -1 {
			pos++
		}
		child[pos] = g
	}
	return child
}

// swapMutate exchanges two random non-start positions in place. A 2-stop
// ordering has a single movable position, so there is nothing to swap.
func swapMutate(ord []int, rng *rand.Rand) {
	n := len(ord)
	if n < 3 {
		return
	}
	i := 1 + rng.Intn(n-1)
	j := 1 + rng.Intn(n-1)
	for j == i {
		j = 1 + rng.Intn(n-1)
	}
	ord[i], ord[j] = ord[j], ord[i]
}
