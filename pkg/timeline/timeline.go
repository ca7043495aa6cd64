// Package timeline maps video frame numbers onto the GPS log.
//
// The mapping has one-second granularity: every frame within the same second
// of video maps to the same wall-clock time.
package timeline

import (
	"time"

	"github.com/cyclopcam/roadscan/pkg/geo"
)

// FrameTimestamp returns start + floor(frameNumber / fps) seconds.
// fps <= 0 is treated as 1.
func FrameTimestamp(frameNumber, fps int, start geo.TimeOfDay) geo.TimeOfDay {
	if fps <= 0 {
		fps = 1
	}
	return start.Add(time.Duration(frameNumber/fps) * time.Second)
}

// ResolveCoordinate returns the coordinate of the GPS sample nearest to the frame's timestamp
func ResolveCoordinate(frameNumber, fps int, start geo.TimeOfDay, log geo.Track) (geo.Coordinate, error) {
	sample, err := geo.NearestSample(log, FrameTimestamp(frameNumber, fps, start))
	if err != nil {
		return geo.Coordinate{}, err
	}
	return sample.Coordinate(), nil
}

// Index binds the frame rate, the start time and the GPS log of one video.
type Index struct {
	FPS   int
	Start geo.TimeOfDay
	Log   geo.Track

	// Consecutive frames in the same second resolve to the same sample
	lastTime  geo.TimeOfDay
	lastCoord geo.Coordinate
	haveLast  bool
}

// NewIndex creates an Index whose start time is the first sample of the log
func NewIndex(fps int, log geo.Track) (*Index, error) {
	if len(log) == 0 {
		return nil, geo.ErrEmptyLog
	}
	return &Index{
		FPS:   fps,
		Start: log[0].Time,
		Log:   log,
	}, nil
}

func (x *Index) FrameTimestamp(frameNumber int) geo.TimeOfDay {
	return FrameTimestamp(frameNumber, x.FPS, x.Start)
}

func (x *Index) ResolveCoordinate(frameNumber int) (geo.Coordinate, error) {
	ts := x.FrameTimestamp(frameNumber)
	if x.haveLast && ts == x.lastTime {
		return x.lastCoord, nil
	}
	sample, err := geo.NearestSample(x.Log, ts)
	if err != nil {
		return geo.Coordinate{}, err
	}
	x.lastTime = ts
	x.lastCoord = sample.Coordinate()
	x.haveLast = true
	return x.lastCoord, nil
}
