package opt

// Evaluate simulates the timeline for an ordering and returns the resulting
// schedule. It is a pure function of its inputs: the same ordering, start
// time, and matrix always produce the same schedule.
//
// The first stop has no travel leg; its arrival is the start time, subject
// to the same window check as every other stop. Arriving before a window
// opens means waiting (no penalty); arriving after it closes accrues
// violation minutes. Service always lasts the stop's stay duration and
// begins at max(arrival, open).
func Evaluate(p Problem, order []int) Schedule {
	s := Schedule{Visits: make([]Visit, 0, len(order))}
	now := p.StartMin
	for i, idx := range order {
		if i > 0 {
			prev := order[i-1]
			s.DistanceKm += p.Matrix.Dist(prev, idx)
			now += p.Matrix.TravelMinutes(prev, idx, p.SpeedKph)
		}
		stop := p.Stops[idx]
		v := Visit{Stop: idx, ArrivalMin: now}
		serviceStart := now
		switch {
		case now < stop.OpenMin:
			v.WaitMin = stop.OpenMin - now
			serviceStart = stop.OpenMin
		case now > stop.CloseMin:
			v.ViolationMin = now - stop.CloseMin
		}
		v.DepartureMin = serviceStart + stop.StayMin
		now = v.DepartureMin
		s.PenaltyMin += v.ViolationMin
		s.Visits = append(s.Visits, v)
	}
	return s
}

// Fitness collapses a schedule to the scalar cost both solvers minimize.
func Fitness(p Problem, s Schedule) float64 {
	return s.DistanceKm + p.PenaltyWeight*s.PenaltyMin
}

// evalFitness scores an ordering in one step.
func evalFitness(p Problem, order []int) float64 {
	return Fitness(p, Evaluate(p, order))
}
