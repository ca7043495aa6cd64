package gpslog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cyclopcam/roadscan/pkg/geo"
	"github.com/stretchr/testify/require"
)

const sampleLog = `DATE,TIME,LATITUDE,LONGITUDE,SPEED
14.06.2024,10:00:00,55.751244,37.618423,0
14.06.2024,10:00:10,55.752000,37.619000,12

14.06.2024,10:00:20,55.753100,37.620500,15
`

func TestRead(t *testing.T) {
	track, err := Read(strings.NewReader(sampleLog))
	require.NoError(t, err)
	require.Len(t, track, 3)
	require.Equal(t, geo.MakeTimeOfDay(10, 0, 0), track[0].Time)
	require.Equal(t, geo.MakeTimeOfDay(10, 0, 20), track[2].Time)
	require.Equal(t, 55.7531, track[2].Latitude)
	require.Equal(t, 37.6205, track[2].Longitude)
}

func TestReadColumnOrder(t *testing.T) {
	src := "\ufefflongitude, latitude ,time,date\n37.5,55.5,09:30:01,01.02.2024\n"
	track, err := Read(strings.NewReader(src))
	require.NoError(t, err)
	require.Equal(t, geo.GpsSample{Time: geo.MakeTimeOfDay(9, 30, 1), Latitude: 55.5, Longitude: 37.5}, track[0])
}

func TestReadErrors(t *testing.T) {
	_, err := Read(strings.NewReader("DATE,TIME,LATITUDE\n"))
	require.ErrorContains(t, err, "LONGITUDE")

	_, err = Read(strings.NewReader("DATE,TIME,LATITUDE,LONGITUDE\n2024-06-14,10:00:00,1,2\n"))
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, 2, pe.Line)

	_, err = Read(strings.NewReader("DATE,TIME,LATITUDE,LONGITUDE\n14.06.2024,10:00:00,x,2\n"))
	require.ErrorContains(t, err, "latitude")

	// Out of order
	_, err = Read(strings.NewReader("DATE,TIME,LATITUDE,LONGITUDE\n14.06.2024,10:00:10,1,2\n14.06.2024,10:00:00,1,2\n"))
	require.Error(t, err)
}

func TestReadEmpty(t *testing.T) {
	track, err := Read(strings.NewReader("DATE,TIME,LATITUDE,LONGITUDE\n"))
	require.NoError(t, err)
	require.Empty(t, track)

	track, err = Read(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, track)
}

func TestReadFile(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "log.csv")
	require.NoError(t, os.WriteFile(fn, []byte(sampleLog), 0644))
	track, err := ReadFile(fn)
	require.NoError(t, err)
	require.Len(t, track, 3)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.csv"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
