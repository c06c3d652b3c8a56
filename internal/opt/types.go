// Package opt implements the tour optimization engine: distance matrix,
// time-window schedule evaluation, and the genetic / simulated annealing
// solvers over stop orderings.
//
// An ordering is a full permutation of stop indices 0..n-1 with the fixed
// start pinned at position 0. Solvers generate and perturb only positions
// 1..n-1; every ordering they emit keeps that convention.
package opt

// ConfigError reports invalid construction or solver parameters. It is
// raised immediately and never retried; everything else (unsatisfiable
// windows included) is absorbed into the fitness score.
type ConfigError string

func (e ConfigError) Error() string { return "opt: " + string(e) }

// Stop is one location to visit. Times are minutes from midnight; StayMin is
// the required service time at the stop. Priority is advisory and not yet
// weighted into fitness.
type Stop struct {
	ID       string
	Name     string
	Lat      float64
	Lng      float64
	OpenMin  float64
	CloseMin float64
	StayMin  float64
	Priority float64
}

// Problem bundles everything a solver needs to score an ordering. It is
// read-only during a solve and safe to share across concurrent runs.
type Problem struct {
	Stops         []Stop
	Matrix        *Matrix
	SpeedKph      float64
	StartMin      float64
	PenaltyWeight float64
}

// DefaultPenaltyWeight makes a single violation-minute cost 1000 km of
// travel, so a feasible ordering is never dominated by an infeasible
// shorter one on any realistic stop set.
const DefaultPenaltyWeight = 1000.0

// Visit is the scheduled outcome at one stop.
type Visit struct {
	Stop         int // index into Problem.Stops
	ArrivalMin   float64
	WaitMin      float64
	ViolationMin float64
	DepartureMin float64
}

// Schedule is the simulated timeline for one ordering. Derived, never
// mutated; recomputed fresh for every evaluation.
type Schedule struct {
	Visits     []Visit
	DistanceKm float64
	PenaltyMin float64
}

// Result is the immutable outcome of a solver run.
type Result struct {
	Order    []int
	Schedule Schedule
	Fitness  float64
}

// Progress describes one step of a running solve, delivered through an
// optional hook. Step is the generation (genetic) or temperature level
// (annealing) counting from 1. Temperature is zero for the genetic solver.
type Progress struct {
	Step        int
	BestFitness float64
	Temperature float64
}

// ProgressHook receives per-step updates. It runs on the solver goroutine,
// so it must be fast and must not block.
type ProgressHook func(Progress)

// RunStats captures how a solve went, for metrics and debugging.
type RunStats struct {
	Algorithm     string     `json:"algorithm"`
	Steps         int        `json:"steps"` // generations or temperature levels
	Evaluations   int        `json:"evaluations"`
	Improvements  int        `json:"improvements"`
	AcceptedWorse int        `json:"acceptedWorse,omitempty"`
	BestFitness   float64    `json:"bestFitness"`
	FinalTemp     float64    `json:"finalTemp,omitempty"`
	Seed          int64      `json:"seed"`
	Snapshots     []Snapshot `json:"snapshots,omitempty"`
}

// Snapshot is a periodic record of best fitness during a run.
type Snapshot struct {
	Step        int     `json:"step"`
	BestFitness float64 `json:"bestFitness"`
	Temperature float64 `json:"temperature,omitempty"`
}

const snapshotEvery = 10
