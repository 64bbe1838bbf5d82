package node

import (
	"math/rand/v2"
	"sync"
)

// Sample is one reading from a shelf's load cell and ultrasonic sensor.
type Sample struct {
	WeightKg   float64
	DistanceCm int
}

// Sensor produces samples.
type Sensor interface {
	Sample() Sample
}

// SimulatedShelf drains stock a little on every sample and restocks once the
// shelf is nearly empty. Distance to the top item grows as weight drops.
type SimulatedShelf struct {
	MaxWeightKg float64
	DepthCm     int

	mu     sync.Mutex
	rng    *rand.Rand
	weight float64
}

// NewSimulatedShelf returns a full shelf driven by a seeded generator.
func NewSimulatedShelf(maxWeightKg float64, depthCm int, seed uint64) *SimulatedShelf {
	if maxWeightKg <= 0 {
		maxWeightKg = 10
	}
	if depthCm <= 0 {
		depthCm = 100
	}
	return &SimulatedShelf{
		MaxWeightKg: maxWeightKg,
		DepthCm:     depthCm,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		weight:      maxWeightKg,
	}
}

// Sample advances the simulation by one step.
func (s *SimulatedShelf) Sample() Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.weight -= s.rng.Float64() * 0.5
	if s.weight < 0.5 {
		s.weight = s.MaxWeightKg
	}

	fill := s.weight / s.MaxWeightKg
	return Sample{
		WeightKg:   s.weight,
		DistanceCm: int(float64(s.DepthCm) * (1 - fill)),
	}
}
