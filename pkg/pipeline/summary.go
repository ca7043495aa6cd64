package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/cyclopcam/roadscan/pkg/defects"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ClassCounts is the number of detections per category label.
// It marshals in category order, with any unknown labels sorted at the end.
type ClassCounts map[string]int

// RunSummary is the result of a run, for success and for failure
type RunSummary struct {
	VideoName      string      `json:"VideoName"`
	RoadName       string      `json:"RoadName"`
	SectionOfRoad  string      `json:"SectionOfRoad"`
	RoadClass      string      `json:"RoadClass"`
	RoadCategory   string      `json:"RoadCategory"`
	Contractor     string      `json:"Contractor"`
	ClassCounts    ClassCounts `json:"ClassCounts"`
	TotalObjects   int         `json:"TotalObjects"`  // Distinct track ids
	TotalDistance  float64     `json:"TotalDistance"` // Meters
	ProcessingTime string      `json:"ProcessingTime"`
	Status         string      `json:"Status"`
	Error          string      `json:"Error,omitempty"`
}

// NewErrorSummary is the summary of a run that failed before it could produce anything
func NewErrorSummary(req *Request, err error) *RunSummary {
	s := &RunSummary{
		ClassCounts:    ClassCounts{},
		ProcessingTime: "0:00:00",
		Status:         StatusError,
		Error:          err.Error(),
	}
	if req != nil {
		s.setRequest(req)
	}
	return s
}

func (s *RunSummary) setRequest(req *Request) {
	s.VideoName = req.VideoName()
	s.RoadName = req.RoadName
	s.SectionOfRoad = req.SectionOfRoad
	s.RoadClass = req.RoadClass
	s.RoadCategory = req.RoadCategory
	s.Contractor = req.Contractor
}

func (s *RunSummary) OK() bool {
	return s.Status == StatusSuccess
}

// Compact is the single-line form of the summary, which is what a run returns
func (s *RunSummary) Compact() []byte {
	b, _ := marshalJSON(s, "")
	return b
}

// Indented is the form written to <video>_summary.json
func (s *RunSummary) Indented() []byte {
	b, _ := marshalJSON(s, "    ")
	return b
}

func (c ClassCounts) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(c))
	known := map[string]bool{}
	for _, label := range defects.Labels() {
		if _, ok := c[label]; ok {
			keys = append(keys, label)
			known[label] = true
		}
	}
	extra := []string{}
	for k := range c {
		if !known[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	keys = append(keys, extra...)

	buf := bytes.Buffer{}
	buf.WriteByte('{')
	for i, k := range keys {
		if i != 0 {
			buf.WriteByte(',')
		}
		kj, err := marshalJSON(k, "")
		if err != nil {
			return nil, err
		}
		buf.Write(kj)
		fmt.Fprintf(&buf, ":%d", c[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalJSON leaves non-ASCII text and HTML characters as they are
func marshalJSON(v any, indent string) ([]byte, error) {
	buf := bytes.Buffer{}
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// FormatElapsed formats a duration as H:MM:SS, with a .ffffff suffix when there are
// fractional seconds, and a "N day(s), " prefix beyond 24 hours.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Microsecond)
	days := int64(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	h := int64(d / time.Hour)
	m := int64(d/time.Minute) % 60
	s := int64(d/time.Second) % 60
	us := int64(d/time.Microsecond) % 1000000
	str := fmt.Sprintf("%d:%02d:%02d", h, m, s)
	if us != 0 {
		str += fmt.Sprintf(".%06d", us)
	}
	if days == 1 {
		str = "1 day, " + str
	} else if days > 1 {
		str = fmt.Sprintf("%d days, ", days) + str
	}
	return str
}
