// Package utils provides logging and timing helpers shared by all packages.
package utils

import (
	"sync"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the time package.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }

// Phase is one timed step of a run.
type Phase struct {
	Name     string
	Duration time.Duration
}

// Stopwatch records named phases in the order they were started. It is safe
// for concurrent use, so per-blob workers may record their own phases.
type Stopwatch struct {
	mu     sync.Mutex
	clock  Clock
	start  time.Time
	order  []string
	phases map[string]time.Duration
}

// NewStopwatch creates a stopwatch; a nil clock means RealClock.
func NewStopwatch(clock Clock) *Stopwatch {
	if clock == nil {
		clock = RealClock{}
	}
	return &Stopwatch{
		clock:  clock,
		start:  clock.Now(),
		phases: make(map[string]time.Duration),
	}
}

// Start begins a phase and returns the function that ends it. Repeated
// phases with the same name accumulate.
func (s *Stopwatch) Start(name string) func() time.Duration {
	begin := s.clock.Now()
	s.mu.Lock()
	if _, ok := s.phases[name]; !ok {
		s.order = append(s.order, name)
		s.phases[name] = 0
	}
	s.mu.Unlock()

	var once sync.Once
	var elapsed time.Duration
	return func() time.Duration {
		once.Do(func() {
			elapsed = s.clock.Now().Sub(begin)
			s.mu.Lock()
			s.phases[name] += elapsed
			s.mu.Unlock()
		})
		return elapsed
	}
}

// Phases returns recorded phases in start order.
func (s *Stopwatch) Phases() []Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Phase, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, Phase{Name: name, Duration: s.phases[name]})
	}
	return out
}

// Total returns the time since the stopwatch was created.
func (s *Stopwatch) Total() time.Duration {
	return s.clock.Now().Sub(s.start)
}

// Log writes one debug line per phase.
func (s *Stopwatch) Log(logger Logger) {
	if logger == nil {
		return
	}
	for _, p := range s.Phases() {
		logger.Debug("phase %-10s %v", p.Name, p.Duration)
	}
	logger.Debug("phase %-10s %v", "total", s.Total())
}
