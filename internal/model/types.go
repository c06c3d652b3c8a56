package model

import (
	"fmt"
	"strconv"
	"strings"
)

// LocationIn is a stop as submitted by a client. Times are wall-clock
// "HH:MM" strings; an empty openTime means 00:00 and an empty closeTime
// means 24:00.
type LocationIn struct {
	ID        string  `json:"id,omitempty"`
	Name      string  `json:"name"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	OpenTime  string  `json:"openTime,omitempty"`
	CloseTime string  `json:"closeTime,omitempty"`
	StayMin   float64 `json:"stayMin,omitempty"`
	Priority  int     `json:"priority,omitempty"`
}

// LocationSet is a stored, named group of locations. The first location is
// the tour's starting point.
type LocationSet struct {
	ID        string       `json:"id"`
	TenantID  string       `json:"tenantId"`
	Name      string       `json:"name"`
	Locations []LocationIn `json:"locations"`
	CreatedAt string       `json:"createdAt,omitempty"`
}

type LocationSetRequest struct {
	Name      string       `json:"name"`
	Locations []LocationIn `json:"locations"`
}

// GeneticParams mirrors the engine's genetic knobs on the wire. Zero values
// mean "use the default".
type GeneticParams struct {
	PopulationSize int     `json:"populationSize,omitempty"`
	Generations    int     `json:"generations,omitempty"`
	MutationRate   float64 `json:"mutationRate,omitempty"`
	CrossoverRate  float64 `json:"crossoverRate,omitempty"`
	EliteSize      int     `json:"eliteSize,omitempty"`
}

type AnnealingParams struct {
	InitialTemp       float64 `json:"initialTemp,omitempty"`
	CoolingRate       float64 `json:"coolingRate,omitempty"`
	MinTemp           float64 `json:"minTemp,omitempty"`
	IterationsPerTemp int     `json:"iterationsPerTemp,omitempty"`
}

type OptimizeRequest struct {
	LocationSetID string           `json:"locationSetId"`
	Algorithm     string           `json:"algorithm,omitempty"` // genetic (default) or annealing
	AvgSpeedKph   float64          `json:"avgSpeedKph,omitempty"`
	StartTime     string           `json:"startTime,omitempty"` // "HH:MM", default 09:00
	DistanceType  string           `json:"distanceType,omitempty"`
	PenaltyWeight float64          `json:"penaltyWeight,omitempty"`
	Seed          int64            `json:"seed,omitempty"`
	Genetic       *GeneticParams   `json:"genetic,omitempty"`
	Annealing     *AnnealingParams `json:"annealing,omitempty"`
}

// StopPlan is one visited location in a computed solution, with the
// simulated timeline in both minutes-from-midnight and clock form.
type StopPlan struct {
	Seq          int     `json:"seq"`
	LocationID   string  `json:"locationId,omitempty"`
	Name         string  `json:"name"`
	ArrivalMin   float64 `json:"arrivalMin"`
	WaitMin      float64 `json:"waitMin"`
	ViolationMin float64 `json:"violationMin"`
	DepartureMin float64 `json:"departureMin"`
	Arrival      string  `json:"arrival"`
	Departure    string  `json:"departure"`
}

type Solution struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenantId"`
	JobID         string     `json:"jobId"`
	LocationSetID string     `json:"locationSetId"`
	Algorithm     string     `json:"algorithm"`
	Stops         []StopPlan `json:"stops"`
	DistanceKm    float64    `json:"distanceKm"`
	PenaltyMin    float64    `json:"penaltyMin"`
	Fitness       float64    `json:"fitness"`
	Seed          int64      `json:"seed"`
	CreatedAt     string     `json:"createdAt,omitempty"`
}

// Job tracks one async optimization run: queued -> running -> done|failed.
type Job struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenantId"`
	Status     string          `json:"status"`
	Request    OptimizeRequest `json:"request"`
	SolutionID string          `json:"solutionId,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  string          `json:"createdAt,omitempty"`
	FinishedAt string          `json:"finishedAt,omitempty"`
}

const (
	JobQueued  = "queued"
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)

type SubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

type Subscription struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret,omitempty"`
}

// ParseClock converts "HH:MM" to minutes from midnight. "24:00" is allowed
// as an exclusive end-of-day close time.
func ParseClock(s string) (float64, error) {
	h, m, ok := splitClock(s)
	if !ok {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	if h == 24 && m == 0 {
		return 24 * 60, nil
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return float64(h*60 + m), nil
}

func splitClock(s string) (h, m int, ok bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	m, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return h, m, true
}

// FormatClock renders minutes from midnight as "HH:MM", rounding to the
// nearest minute. Times past midnight keep counting hours (e.g. "25:30").
func FormatClock(min float64) string {
	total := int(min + 0.5)
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
