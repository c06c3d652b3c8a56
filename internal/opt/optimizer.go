package opt

import "fmt"

// Optimizer is the engine facade: it validates one stop set plus travel
// configuration, builds the distance matrix once, and runs either solver
// against it. The matrix is read-only after construction, so one Optimizer
// can serve concurrent solves.
type Optimizer struct {
	problem Problem
}

// New validates the configuration and precomputes the distance matrix.
// The first stop is the tour's fixed starting point.
func New(stops []Stop, speedKph float64, startMin float64, dt DistanceType, penaltyWeight float64) (*Optimizer, error) {
	if len(stops) < 2 {
		return nil, ConfigError("a route needs at least 2 locations")
	}
	if speedKph <= 0 {
		return nil, ConfigError("avgSpeedKph must be > 0")
	}
	if startMin < 0 || startMin >= 24*60 {
		return nil, ConfigError("startTime must fall within one day")
	}
	if penaltyWeight == 0 {
		penaltyWeight = DefaultPenaltyWeight
	}
	if penaltyWeight < 0 {
		return nil, ConfigError("penaltyWeight must be > 0")
	}
	for _, s := range stops {
		if s.StayMin < 0 {
			return nil, ConfigError(fmt.Sprintf("location %q: stay duration must be >= 0", s.Name))
		}
		if s.CloseMin < s.OpenMin {
			return nil, ConfigError(fmt.Sprintf("location %q: close time precedes open time", s.Name))
		}
	}
	m, err := NewMatrix(stops, dt)
	if err != nil {
		return nil, err
	}
	return &Optimizer{problem: Problem{
		Stops:         stops,
		Matrix:        m,
		SpeedKph:      speedKph,
		StartMin:      startMin,
		PenaltyWeight: penaltyWeight,
	}}, nil
}

// Problem exposes the validated problem, mainly for direct evaluation.
func (o *Optimizer) Problem() Problem { return o.problem }

// Genetic runs the genetic solver.
func (o *Optimizer) Genetic(gp GeneticParams, seed int64, hook ProgressHook) (Result, RunStats, error) {
	return SolveGenetic(o.problem, gp, seed, hook)
}

// Annealing runs the simulated annealing solver.
func (o *Optimizer) Annealing(ap AnnealingParams, seed int64, hook ProgressHook) (Result, RunStats, error) {
	return SolveAnnealing(o.problem, ap, seed, hook)
}

// Evaluate scores an explicit ordering against the problem.
func (o *Optimizer) Evaluate(order []int) (Schedule, error) {
	if len(order) != len(o.problem.Stops) {
		return Schedule{}, ConfigError("ordering must cover every location exactly once")
	}
	seen := make([]bool, len(order))
	for _, idx := range order {
		if idx < 0 || idx >= len(seen) || seen[idx] {
			return Schedule{}, ConfigError("ordering must cover every location exactly once")
		}
		seen[idx] = true
	}
	return Evaluate(o.problem, order), nil
}
