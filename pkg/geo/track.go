package geo

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrEmptyLog is returned when a GPS log has no samples, so no coordinate can ever be resolved
var ErrEmptyLog = errors.New("GPS log is empty")

// TimeOfDay is the offset from midnight. There is no date component, and values
// past 24h are compared as-is (no wraparound).
type TimeOfDay time.Duration

// MakeTimeOfDay builds a TimeOfDay from hours, minutes and seconds
func MakeTimeOfDay(h, m, s int) TimeOfDay {
	return TimeOfDay(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second)
}

// TimeOfDayOf returns the time-of-day portion of t
func TimeOfDayOf(t time.Time) TimeOfDay {
	return MakeTimeOfDay(t.Hour(), t.Minute(), t.Second()) + TimeOfDay(t.Nanosecond())
}

func (t TimeOfDay) Add(d time.Duration) TimeOfDay {
	return t + TimeOfDay(d)
}

// Format as HH:MM:SS
func (t TimeOfDay) String() string {
	d := time.Duration(t)
	neg := ""
	if d < 0 {
		neg = "-"
		d = -d
	}
	h := int(d / time.Hour)
	m := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60
	return fmt.Sprintf("%v%02d:%02d:%02d", neg, h, m, s)
}

// GpsSample is one fix from the GPS/time log
type GpsSample struct {
	Time      TimeOfDay
	Latitude  float64
	Longitude float64
}

func (s GpsSample) Coordinate() Coordinate {
	return Coordinate{Latitude: s.Latitude, Longitude: s.Longitude}
}

// Track is a GPS log, ordered by time (non-decreasing)
type Track []GpsSample

// NewTrack verifies that samples are in chronological order.
// An empty track is allowed here; NearestSample reports ErrEmptyLog.
func NewTrack(samples []GpsSample) (Track, error) {
	for i := 1; i < len(samples); i++ {
		if samples[i].Time < samples[i-1].Time {
			return nil, fmt.Errorf("GPS sample %v (%v) is earlier than the previous sample (%v)", i, samples[i].Time, samples[i-1].Time)
		}
	}
	return Track(samples), nil
}

// NearestSample returns the sample whose time is closest to target.
// Ties are resolved in favour of the earliest sample in the log.
func NearestSample(log Track, target TimeOfDay) (GpsSample, error) {
	if len(log) == 0 {
		return GpsSample{}, ErrEmptyLog
	}
	// First sample with Time >= target
	i := sort.Search(len(log), func(i int) bool { return log[i].Time >= target })
	best := -1
	if i < len(log) {
		best = i
	}
	if i > 0 {
		// Earliest sample that shares the timestamp of log[i-1]
		j := i - 1
		for j > 0 && log[j-1].Time == log[j].Time {
			j--
		}
		if best == -1 || absDiff(log[j].Time, target) <= absDiff(log[best].Time, target) {
			best = j
		}
	}
	return log[best], nil
}

// Nearest is NearestSample on this track
func (t Track) Nearest(target TimeOfDay) (GpsSample, error) {
	return NearestSample(t, target)
}

func absDiff(a, b TimeOfDay) TimeOfDay {
	if a > b {
		return a - b
	}
	return b - a
}
