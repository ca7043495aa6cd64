package nn

import "github.com/cyclopcam/roadscan/pkg/nn/box"

type Point = box.Point
type Rect = box.Rect

// MakeRectXYXY creates a rect from corner coordinates (x1 < x2, y1 < y2)
func MakeRectXYXY(x1, y1, x2, y2 int) Rect {
	return box.MakeRectXYXY(x1, y1, x2, y2)
}
