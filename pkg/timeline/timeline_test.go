package timeline

import (
	"testing"

	"github.com/cyclopcam/roadscan/pkg/geo"
	"github.com/stretchr/testify/require"
)

func TestFrameTimestamp(t *testing.T) {
	start := geo.MakeTimeOfDay(10, 0, 0)
	// 30 fps: frames 0..29 are in the first second
	require.Equal(t, start, FrameTimestamp(0, 30, start))
	require.Equal(t, start, FrameTimestamp(29, 30, start))
	require.Equal(t, geo.MakeTimeOfDay(10, 0, 1), FrameTimestamp(30, 30, start))
	require.Equal(t, geo.MakeTimeOfDay(10, 0, 1), FrameTimestamp(59, 30, start))
	require.Equal(t, geo.MakeTimeOfDay(10, 1, 0), FrameTimestamp(1800, 30, start))
	require.Equal(t, geo.MakeTimeOfDay(10, 0, 3), FrameTimestamp(3, 0, start))
}

func TestResolveCoordinate(t *testing.T) {
	log := geo.Track{
		{Time: geo.MakeTimeOfDay(10, 0, 0), Latitude: 55.0, Longitude: 37.0},
		{Time: geo.MakeTimeOfDay(10, 0, 10), Latitude: 55.1, Longitude: 37.1},
		{Time: geo.MakeTimeOfDay(10, 0, 20), Latitude: 55.2, Longitude: 37.2},
	}
	c, err := ResolveCoordinate(6*25, 25, log[0].Time, log)
	require.NoError(t, err)
	require.Equal(t, geo.Coordinate{Latitude: 55.1, Longitude: 37.1}, c)

	_, err = ResolveCoordinate(1, 25, 0, nil)
	require.ErrorIs(t, err, geo.ErrEmptyLog)

	idx, err := NewIndex(25, log)
	require.NoError(t, err)
	require.Equal(t, log[0].Time, idx.Start)
	for frame := 1; frame < 25*30; frame++ {
		a, err := idx.ResolveCoordinate(frame)
		require.NoError(t, err)
		b, _ := ResolveCoordinate(frame, 25, log[0].Time, log)
		require.Equal(t, b, a)
	}

	_, err = NewIndex(25, nil)
	require.ErrorIs(t, err, geo.ErrEmptyLog)
}
