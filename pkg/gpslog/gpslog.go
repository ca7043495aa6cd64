// Package gpslog reads the GPS/time log that accompanies an inspection video.
//
// The log is a CSV file with (at least) the columns DATE, TIME, LATITUDE and LONGITUDE.
// DATE is formatted as 02.01.2006 and TIME as 15:04:05.
package gpslog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cyclopcam/roadscan/pkg/geo"
)

const DateTimeLayout = "02.01.2006 15:04:05"

var requiredColumns = []string{"DATE", "TIME", "LATITUDE", "LONGITUDE"}

// ParseError describes a bad row in the log
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("GPS log line %v: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ReadFile loads the whole GPS log into memory.
func ReadFile(filename string) (geo.Track, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read parses a GPS log. Only the time-of-day of each row is kept.
// The returned track is verified to be chronological.
// A log with a header and zero rows returns an empty track and no error.
func Read(r io.Reader) (geo.Track, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return geo.Track{}, nil
	} else if err != nil {
		return nil, err
	}
	col := map[string]int{}
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		col[strings.ToUpper(strings.TrimSpace(h))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := col[c]; !ok {
			return nil, fmt.Errorf("GPS log is missing column %v", c)
		}
	}
	maxCol := 0
	for _, c := range requiredColumns {
		maxCol = max(maxCol, col[c])
	}

	samples := []geo.GpsSample{}
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, err
		}
		line++
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if len(rec) <= maxCol {
			return nil, &ParseError{Line: line, Err: fmt.Errorf("expected at least %v fields, but found %v", maxCol+1, len(rec))}
		}
		s, err := parseRow(rec[col["DATE"]], rec[col["TIME"]], rec[col["LATITUDE"]], rec[col["LONGITUDE"]])
		if err != nil {
			return nil, &ParseError{Line: line, Err: err}
		}
		samples = append(samples, s)
	}
	return geo.NewTrack(samples)
}

func parseRow(date, tm, lat, lon string) (geo.GpsSample, error) {
	t, err := time.Parse(DateTimeLayout, strings.TrimSpace(date)+" "+strings.TrimSpace(tm))
	if err != nil {
		return geo.GpsSample{}, err
	}
	latitude, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return geo.GpsSample{}, fmt.Errorf("invalid latitude '%v'", lat)
	}
	longitude, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return geo.GpsSample{}, fmt.Errorf("invalid longitude '%v'", lon)
	}
	return geo.GpsSample{
		Time:      geo.TimeOfDayOf(t),
		Latitude:  latitude,
		Longitude: longitude,
	}, nil
}
