// Package box holds the detector output types. It has no cgo dependencies, so packages
// that only consume detections don't need the image libraries.
package box

import (
	"github.com/chewxy/math32"
)

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) Distance(b Point) float32 {
	return math32.Sqrt(float32((p.X-b.X)*(p.X-b.X) + (p.Y-b.Y)*(p.Y-b.Y)))
}

// Rect is an axis aligned box in pixel space
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// MakeRectXYXY creates a rect from corner coordinates (x1 < x2, y1 < y2)
func MakeRectXYXY(x1, y1, x2, y2 int) Rect {
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  x2 - x1,
		Height: y2 - y1,
	}
}

func (r Rect) X2() int {
	return r.X + r.Width
}

func (r Rect) Y2() int {
	return r.Y + r.Height
}

func (r Rect) Area() int {
	return r.Width * r.Height
}

func (r Rect) Intersection(b Rect) Rect {
	x1 := max(r.X, b.X)
	y1 := max(r.Y, b.Y)
	x2 := min(r.X2(), b.X2())
	y2 := min(r.Y2(), b.Y2())
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  max(0, x2-x1),
		Height: max(0, y2-y1),
	}
}

// Intersection over Union
func (r Rect) IOU(b Rect) float32 {
	intersection := r.Intersection(b).Area()
	union := r.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return float32(intersection) / float32(union)
}

func (r Rect) Center() Point {
	return Point{
		X: r.X + r.Width/2,
		Y: r.Y + r.Height/2,
	}
}

// Scale returns the rect scaled by sx, sy (eg when mapping detector output back to frame space)
func (r Rect) Scale(sx, sy float32) Rect {
	x1 := int(math32.Round(float32(r.X) * sx))
	y1 := int(math32.Round(float32(r.Y) * sy))
	x2 := int(math32.Round(float32(r.X2()) * sx))
	y2 := int(math32.Round(float32(r.Y2()) * sy))
	return MakeRectXYXY(x1, y1, x2, y2)
}

// Clip the rect to an image of the given size
func (r Rect) Clip(width, height int) Rect {
	x1 := min(max(r.X, 0), width)
	y1 := min(max(r.Y, 0), height)
	x2 := min(max(r.X2(), 0), width)
	y2 := min(max(r.Y2(), 0), height)
	return MakeRectXYXY(x1, y1, x2, y2)
}

// NoTrack is the TrackID of a detection that the tracker has not yet assigned
const NoTrack = 0

// Detection is an object that the detector found in a single frame
type Detection struct {
	Class      int     `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
	TrackID    int64   `json:"trackID,omitempty"` // Stable across frames for the same object. NoTrack if unassigned.
}

// HasTrack is true if the tracker has assigned an ID to the detection
func (d *Detection) HasTrack() bool {
	return d.TrackID != NoTrack
}
