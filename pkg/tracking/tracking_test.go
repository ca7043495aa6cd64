package tracking

import (
	"context"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roadscan/pkg/nn"
	"github.com/stretchr/testify/require"
)

type scripted struct {
	frames map[int][]nn.Detection
	closed bool
}

func (s *scripted) Close() { s.closed = true }

func (s *scripted) Detect(ctx context.Context, frame *nn.Frame, params *nn.DetectionParams) ([]nn.Detection, error) {
	return append([]nn.Detection(nil), s.frames[frame.Number]...), nil
}

func box(x, y int) nn.Rect {
	return nn.Rect{X: x, Y: y, Width: 40, Height: 30}
}

func TestTrackerAssignsStableIDs(t *testing.T) {
	inner := &scripted{frames: map[int][]nn.Detection{}}
	// A pothole drifting slowly to the right, and a crack that stays put
	for f := 1; f <= 10; f++ {
		inner.frames[f] = []nn.Detection{
			{Class: 8, Confidence: 0.9, Box: box(100+f*2, 200)},
			{Class: 6, Confidence: 0.8, Box: box(500, 100)},
		}
	}
	// A second pothole appears far away
	inner.frames[6] = append(inner.frames[6], nn.Detection{Class: 8, Confidence: 0.7, Box: box(600, 400)})

	tr := New(logs.NewTestingLog(t), inner, DefaultConfig())
	params := nn.NewDetectionParams()
	seen := map[int]map[int64]bool{}
	for f := 1; f <= 10; f++ {
		dets, err := tr.Detect(context.Background(), &nn.Frame{Number: f}, params)
		require.NoError(t, err)
		for _, d := range dets {
			require.True(t, d.HasTrack())
			if seen[d.Class] == nil {
				seen[d.Class] = map[int64]bool{}
			}
			seen[d.Class][d.TrackID] = true
		}
	}
	require.Len(t, seen[8], 2)
	require.Len(t, seen[6], 1)
	require.Equal(t, 3, tr.NumTracks())
	// ids are disjoint between classes
	for id := range seen[6] {
		require.False(t, seen[8][id])
	}
	tr.Close()
	require.True(t, inner.closed)
}

func TestTrackerMergesDuplicates(t *testing.T) {
	inner := &scripted{frames: map[int][]nn.Detection{
		1: {
			{Class: 8, Confidence: 0.9, Box: box(100, 100)},
			{Class: 8, Confidence: 0.6, Box: box(101, 101)},
		},
	}}
	tr := New(logs.NewTestingLog(t), inner, DefaultConfig())
	dets, err := tr.Detect(context.Background(), &nn.Frame{Number: 1}, nn.NewDetectionParams())
	require.NoError(t, err)
	require.Len(t, dets, 1)
	require.Equal(t, int64(1), dets[0].TrackID)
}
