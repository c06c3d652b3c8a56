package api

import (
	"fmt"

	"tourplan/internal/model"
	"tourplan/internal/opt"
)

func validateLocationSetRequest(req *model.LocationSetRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(req.Locations) < 2 {
		return fmt.Errorf("a location set needs at least 2 locations")
	}
	for i, l := range req.Locations {
		if l.Name == "" {
			return fmt.Errorf("locations[%d]: name is required", i)
		}
		if l.Lat < -90 || l.Lat > 90 {
			return fmt.Errorf("locations[%d]: lat must be in [-90,90]", i)
		}
		if l.Lng < -180 || l.Lng > 180 {
			return fmt.Errorf("locations[%d]: lng must be in [-180,180]", i)
		}
		if l.StayMin < 0 {
			return fmt.Errorf("locations[%d]: stayMin must be >= 0", i)
		}
		openMin, closeMin := 0.0, 24.0*60
		if l.OpenTime != "" {
			v, err := model.ParseClock(l.OpenTime)
			if err != nil {
				return fmt.Errorf("locations[%d]: %v", i, err)
			}
			openMin = v
		}
		if l.CloseTime != "" {
			v, err := model.ParseClock(l.CloseTime)
			if err != nil {
				return fmt.Errorf("locations[%d]: %v", i, err)
			}
			closeMin = v
		}
		if closeMin < openMin {
			return fmt.Errorf("locations[%d]: closeTime precedes openTime", i)
		}
	}
	return nil
}

func validateOptimizeRequest(req *model.OptimizeRequest) error {
	if req.LocationSetID == "" {
		return fmt.Errorf("locationSetId is required")
	}
	if req.Algorithm != "" && req.Algorithm != "genetic" && req.Algorithm != "annealing" {
		return fmt.Errorf("invalid algorithm: %s (allowed: genetic, annealing)", req.Algorithm)
	}
	if req.AvgSpeedKph < 0 {
		return fmt.Errorf("avgSpeedKph must be > 0")
	}
	if req.StartTime != "" {
		if _, err := model.ParseClock(req.StartTime); err != nil {
			return fmt.Errorf("startTime: %v", err)
		}
	}
	if _, err := opt.ParseDistanceType(req.DistanceType); err != nil {
		return err
	}
	if req.PenaltyWeight < 0 {
		return fmt.Errorf("penaltyWeight must be >= 0")
	}
	if g := req.Genetic; g != nil {
		if g.PopulationSize < 0 || g.Generations < 0 || g.EliteSize < 0 {
			return fmt.Errorf("genetic sizes must be >= 0")
		}
		if g.MutationRate < 0 || g.MutationRate > 1 {
			return fmt.Errorf("genetic.mutationRate must be in [0,1]")
		}
		if g.CrossoverRate < 0 || g.CrossoverRate > 1 {
			return fmt.Errorf("genetic.crossoverRate must be in [0,1]")
		}
		// check the parameters the solver will actually run with, so an
		// omitted field defaulting later cannot turn into a failed job
		if eff := geneticParams(g); eff.EliteSize >= eff.PopulationSize {
			return fmt.Errorf("genetic.eliteSize must be < populationSize")
		}
	}
	if a := req.Annealing; a != nil {
		if a.InitialTemp < 0 || a.MinTemp < 0 || a.IterationsPerTemp < 0 {
			return fmt.Errorf("annealing parameters must be >= 0")
		}
		if a.CoolingRate != 0 && (a.CoolingRate <= 0 || a.CoolingRate >= 1) {
			return fmt.Errorf("annealing.coolingRate must be in (0,1)")
		}
		if eff := annealingParams(a); eff.MinTemp >= eff.InitialTemp {
			return fmt.Errorf("annealing.minTemp must be < initialTemp")
		}
	}
	return nil
}
