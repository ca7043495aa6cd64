package perfstats

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Two scalars (N samples and X total amount), which can measure total and average values.
type Accumulator struct {
	Samples int64
	Total   float64
}

func (a *Accumulator) Reset() {
	a.Samples = 0
	a.Total = 0
}

func (a *Accumulator) AddSample(v float64) {
	a.Samples++
	a.Total += v
}

func (a *Accumulator) Average() float64 {
	if a.Samples == 0 {
		return 0
	}
	return a.Total / float64(a.Samples)
}

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
}

func (a *TimeAccumulator) Reset() {
	a.Samples = 0
	a.Total = 0
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// Stages keeps a TimeAccumulator per named stage of a loop (eg decode, detect, capture).
// Stages are reported in the order they were first seen.
type Stages struct {
	lock  sync.Mutex
	order []string
	acc   map[string]*TimeAccumulator
}

func NewStages() *Stages {
	return &Stages{
		acc: map[string]*TimeAccumulator{},
	}
}

func (s *Stages) Add(stage string, d time.Duration) {
	s.lock.Lock()
	defer s.lock.Unlock()
	a := s.acc[stage]
	if a == nil {
		a = &TimeAccumulator{}
		s.acc[stage] = a
		s.order = append(s.order, stage)
	}
	a.AddSample(d)
}

// Since adds the time elapsed since 'start', and returns now.
// Chain calls to time consecutive stages:
//
//	t := time.Now()
//	decode()
//	t = stages.Since("decode", t)
func (s *Stages) Since(stage string, start time.Time) time.Time {
	now := time.Now()
	s.Add(stage, now.Sub(start))
	return now
}

// Get returns a copy of the accumulator for the stage
func (s *Stages) Get(stage string) TimeAccumulator {
	s.lock.Lock()
	defer s.lock.Unlock()
	if a := s.acc[stage]; a != nil {
		return *a
	}
	return TimeAccumulator{}
}

// String returns a one line summary such as "decode: 4.1ms (120), detect: 35ms (120)"
func (s *Stages) String() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	parts := make([]string, 0, len(s.order))
	for _, name := range s.order {
		a := s.acc[name]
		parts = append(parts, fmt.Sprintf("%v: %v (%v)", name, a.Average().Round(100*time.Microsecond), a.Samples))
	}
	return strings.Join(parts, ", ")
}
