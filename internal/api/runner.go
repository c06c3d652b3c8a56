package api

import (
	"context"
	"time"

	"tourplan/internal/metrics"
	"tourplan/internal/model"
	"tourplan/internal/opt"
)

// progressEvery throttles progress events on the job stream: one event per
// this many solver steps, plus the final step.
const progressEvery = 10

// runJob executes one optimization job end to end. It runs on its own
// goroutine and owns the job's status transitions.
func (s *Server) runJob(tenant string, job model.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	started := time.Now()
	req := job.Request
	algo := req.Algorithm
	if algo == "" {
		algo = "genetic"
	}

	fail := func(reason string) {
		_ = s.Store.FailJob(ctx, tenant, job.ID, reason)
		metrics.OptimizeRuns.WithLabelValues(algo, "failed").Inc()
		s.Broker.Publish(job.ID, SSEEvent{Type: "job.failed", Data: map[string]any{
			"jobId": job.ID, "error": reason, "ts": time.Now().UTC().Format(time.RFC3339),
		}})
		s.Pub.Emit(ctx, tenant, "optimization.failed", map[string]any{
			"jobId": job.ID, "error": reason,
		})
	}

	ls, err := s.Store.GetLocationSet(ctx, tenant, req.LocationSetID)
	if err != nil {
		fail("location set not found: " + req.LocationSetID)
		return
	}
	prob, err := buildStops(ls.Locations)
	if err != nil {
		fail(err.Error())
		return
	}
	speed := req.AvgSpeedKph
	if speed == 0 {
		speed = 50
	}
	startMin := 9.0 * 60
	if req.StartTime != "" {
		startMin, err = model.ParseClock(req.StartTime)
		if err != nil {
			fail(err.Error())
			return
		}
	}
	dt, err := opt.ParseDistanceType(req.DistanceType)
	if err != nil {
		fail(err.Error())
		return
	}
	engine, err := opt.New(prob, speed, startMin, dt, req.PenaltyWeight)
	if err != nil {
		fail(err.Error())
		return
	}

	if err := s.Store.MarkJobRunning(ctx, tenant, job.ID); err != nil {
		return
	}
	s.Broker.Publish(job.ID, SSEEvent{Type: "job.running", Data: map[string]any{
		"jobId": job.ID, "algorithm": algo, "ts": time.Now().UTC().Format(time.RFC3339),
	}})

	var gp opt.GeneticParams
	var ap opt.AnnealingParams
	var totalSteps int
	if algo == "annealing" {
		ap = annealingParams(req.Annealing)
		totalSteps = ap.TemperatureLevels()
	} else {
		gp = geneticParams(req.Genetic)
		totalSteps = gp.Generations
	}

	hook := func(p opt.Progress) {
		if p.Step%progressEvery != 0 && p.Step != totalSteps {
			return
		}
		data := map[string]any{"jobId": job.ID, "step": p.Step, "bestFitness": p.BestFitness}
		if p.Temperature > 0 {
			data["temperature"] = p.Temperature
		}
		s.Broker.Publish(job.ID, SSEEvent{Type: "job.progress", Data: data})
	}

	var res opt.Result
	var stats opt.RunStats
	switch algo {
	case "annealing":
		res, stats, err = engine.Annealing(ap, req.Seed, hook)
	default:
		res, stats, err = engine.Genetic(gp, req.Seed, hook)
	}
	if err != nil {
		fail(err.Error())
		return
	}

	stops := make([]model.StopPlan, 0, len(res.Order))
	for i, v := range res.Schedule.Visits {
		loc := ls.Locations[v.Stop]
		stops = append(stops, model.StopPlan{
			Seq:          i,
			LocationID:   loc.ID,
			Name:         loc.Name,
			ArrivalMin:   v.ArrivalMin,
			WaitMin:      v.WaitMin,
			ViolationMin: v.ViolationMin,
			DepartureMin: v.DepartureMin,
			Arrival:      model.FormatClock(v.ArrivalMin),
			Departure:    model.FormatClock(v.DepartureMin),
		})
	}
	sol, err := s.Store.SaveSolution(ctx, model.Solution{
		TenantID:      tenant,
		JobID:         job.ID,
		LocationSetID: ls.ID,
		Algorithm:     algo,
		Stops:         stops,
		DistanceKm:    res.Schedule.DistanceKm,
		PenaltyMin:    res.Schedule.PenaltyMin,
		Fitness:       res.Fitness,
		Seed:          stats.Seed,
	})
	if err != nil {
		fail("save solution: " + err.Error())
		return
	}
	if err := s.Store.CompleteJob(ctx, tenant, job.ID, sol.ID); err != nil {
		return
	}
	opt.RecordRun(tenant, job.ID, stats)
	metrics.OptimizeRuns.WithLabelValues(algo, "done").Inc()
	metrics.OptimizeDuration.WithLabelValues(algo).Observe(time.Since(started).Seconds())

	done := map[string]any{
		"jobId":      job.ID,
		"solutionId": sol.ID,
		"algorithm":  algo,
		"distanceKm": res.Schedule.DistanceKm,
		"penaltyMin": res.Schedule.PenaltyMin,
		"fitness":    res.Fitness,
		"ts":         time.Now().UTC().Format(time.RFC3339),
	}
	s.Broker.Publish(job.ID, SSEEvent{Type: "job.done", Data: done})
	s.Pub.Emit(ctx, tenant, "optimization.completed", done)
}

func buildStops(locs []model.LocationIn) ([]opt.Stop, error) {
	out := make([]opt.Stop, 0, len(locs))
	for _, l := range locs {
		openMin := 0.0
		closeMin := 24.0 * 60
		var err error
		if l.OpenTime != "" {
			if openMin, err = model.ParseClock(l.OpenTime); err != nil {
				return nil, err
			}
		}
		if l.CloseTime != "" {
			if closeMin, err = model.ParseClock(l.CloseTime); err != nil {
				return nil, err
			}
		}
		out = append(out, opt.Stop{
			ID:       l.ID,
			Name:     l.Name,
			Lat:      l.Lat,
			Lng:      l.Lng,
			OpenMin:  openMin,
			CloseMin: closeMin,
			StayMin:  l.StayMin,
			Priority: float64(l.Priority),
		})
	}
	return out, nil
}

func geneticParams(p *model.GeneticParams) opt.GeneticParams {
	gp := opt.DefaultGeneticParams()
	if p == nil {
		return gp
	}
	if p.PopulationSize > 0 {
		gp.PopulationSize = p.PopulationSize
	}
	if p.Generations > 0 {
		gp.Generations = p.Generations
	}
	if p.MutationRate > 0 {
		gp.MutationRate = p.MutationRate
	}
	if p.CrossoverRate > 0 {
		gp.CrossoverRate = p.CrossoverRate
	}
	if p.EliteSize > 0 {
		gp.EliteSize = p.EliteSize
	}
	return gp
}

func annealingParams(p *model.AnnealingParams) opt.AnnealingParams {
	ap := opt.DefaultAnnealingParams()
	if p == nil {
		return ap
	}
	if p.InitialTemp > 0 {
		ap.InitialTemp = p.InitialTemp
	}
	if p.CoolingRate > 0 {
		ap.CoolingRate = p.CoolingRate
	}
	if p.MinTemp > 0 {
		ap.MinTemp = p.MinTemp
	}
	if p.IterationsPerTemp > 0 {
		ap.IterationsPerTemp = p.IterationsPerTemp
	}
	return ap
}
