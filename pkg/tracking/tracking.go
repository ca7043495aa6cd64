// Package tracking gives persistent track ids to the output of a detector that has no tracker of its own.
package tracking

import (
	"context"

	"github.com/LdDl/mot-go/mot"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roadscan/pkg/nn"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Config controls the IoU tracker.
type Config struct {
	IoUThreshold float64 // Minimum match score for a detection to continue an existing track
	MaxNoMatch   int     // Number of processed frames that a track survives without a match
	MergeIoU     float32 // Same-class boxes overlapping at least this much are merged before tracking (0 = disabled)
}

func DefaultConfig() Config {
	return Config{
		IoUThreshold: nn.DefaultNmsIouThreshold,
		MaxNoMatch:   30,
		MergeIoU:     0.7,
	}
}

// Tracker wraps a detector, and assigns a TrackID to every detection it returns.
// There is one IoU tracker per class, so a track never changes class.
// Track ids are 1,2,3... in order of first appearance, and are never reused within a run.
type Tracker struct {
	log      logs.Log
	inner    nn.Detector
	config   Config
	perClass map[int]*mot.IoUTracker[*mot.SimpleBlob]
	ids      map[uuid.UUID]int64
	nextID   int64
}

// New creates a Tracker around 'inner'. The Tracker takes ownership of inner, and closes it.
func New(log logs.Log, inner nn.Detector, config Config) *Tracker {
	return &Tracker{
		log:      log,
		inner:    inner,
		config:   config,
		perClass: map[int]*mot.IoUTracker[*mot.SimpleBlob]{},
		ids:      map[uuid.UUID]int64{},
	}
}

func (t *Tracker) Close() {
	t.inner.Close()
}

// Check forwards to the inner detector, if it supports it
func (t *Tracker) Check(ctx context.Context) error {
	if c, ok := t.inner.(nn.Checker); ok {
		return c.Check(ctx)
	}
	return nil
}

// NumTracks is the number of distinct tracks created so far
func (t *Tracker) NumTracks() int {
	return int(t.nextID)
}

func (t *Tracker) Detect(ctx context.Context, frame *nn.Frame, params *nn.DetectionParams) ([]nn.Detection, error) {
	dets, err := t.inner.Detect(ctx, frame, params)
	if err != nil {
		return nil, err
	}
	if t.config.MergeIoU > 0 {
		dets = nn.MergeDuplicates(dets, t.config.MergeIoU)
	}

	// Group by class. Every class tracker must see every frame, even an empty one,
	// so that unmatched tracks age out.
	byClass := map[int][]int{}
	for i := range dets {
		byClass[dets[i].Class] = append(byClass[dets[i].Class], i)
	}
	for cls := range byClass {
		if _, ok := t.perClass[cls]; !ok {
			t.perClass[cls] = mot.NewIoUTracker[*mot.SimpleBlob](t.config.MaxNoMatch, t.config.IoUThreshold)
		}
	}

	for cls, tracker := range t.perClass {
		indices := byClass[cls]
		blobs := make([]*mot.SimpleBlob, len(indices))
		for j, i := range indices {
			b := dets[i].Box
			blobs[j] = mot.NewSimpleBlob(mot.Rectangle{
				X:      float64(b.X),
				Y:      float64(b.Y),
				Width:  float64(b.Width),
				Height: float64(b.Height),
			})
		}
		if err := tracker.MatchObjects(blobs); err != nil {
			return nil, errors.Wrapf(err, "tracking class %v on frame %v", cls, frame.Number)
		}
		// MatchObjects rewrites the ID of every blob that continues an existing track
		for j, i := range indices {
			dets[i].TrackID = t.trackID(blobs[j].GetID())
		}
	}
	t.forget()
	return dets, nil
}

func (t *Tracker) trackID(u uuid.UUID) int64 {
	if id, ok := t.ids[u]; ok {
		return id
	}
	t.nextID++
	t.ids[u] = t.nextID
	t.log.Debugf("New track %v", t.nextID)
	return t.nextID
}

// Drop the uuid mapping of tracks that the trackers have discarded
func (t *Tracker) forget() {
	if len(t.ids) < 1024 {
		return
	}
	alive := map[uuid.UUID]bool{}
	for _, tracker := range t.perClass {
		for u := range tracker.Objects {
			alive[u] = true
		}
	}
	for u := range t.ids {
		if !alive[u] {
			delete(t.ids, u)
		}
	}
}
