package pipeline

import (
	"time"

	"github.com/bmharper/ringbuffer"
)

// Number of recent processed frames over which we measure throughput
const rateWindow = 30

// Progress is a snapshot of a run, sent to Options.OnProgress
type Progress struct {
	RunID           string  `json:"runID"`
	State           string  `json:"state"`
	FramesRead      int     `json:"framesRead"`
	FramesProcessed int     `json:"framesProcessed"`
	Defects         int     `json:"defects"`
	Distance        float64 `json:"distance"`
	FramesPerSecond float64 `json:"framesPerSecond"` // Recent processing rate
}

// rateMeter estimates throughput over the most recent frames
type rateMeter struct {
	times ringbuffer.RingP[time.Time]
}

func newRateMeter() *rateMeter {
	return &rateMeter{
		times: ringbuffer.NewRingP[time.Time](rateWindow),
	}
}

func (r *rateMeter) add(t time.Time) {
	r.times.Add(t)
}

func (r *rateMeter) rate() float64 {
	n := r.times.Len()
	if n < 2 {
		return 0
	}
	elapsed := r.times.Peek(n - 1).Sub(r.times.Peek(0))
	if elapsed <= 0 {
		return 0
	}
	return float64(n-1) / elapsed.Seconds()
}
