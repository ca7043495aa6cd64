package nn

import (
	"sort"

	flatbush "github.com/bmharper/flatbush-go"
)

// MergeDuplicates removes boxes of the same class that overlap another box of that class
// with IoU >= minIoU. Of each overlapping pair, the more confident box is kept.
// This is a per-frame cleanup for detectors that don't run NMS themselves.
// The order of the surviving detections is preserved.
func MergeDuplicates(input []Detection, minIoU float32) []Detection {
	if len(input) < 2 {
		return input
	}

	// Create spatial index to avoid O(N^2) comparisons
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(input))
	for _, d := range input {
		fb.Add(int32(d.Box.X), int32(d.Box.Y), int32(d.Box.X2()), int32(d.Box.Y2()))
	}
	fb.Finish()

	// Visit the most confident boxes first, so that they win
	order := make([]int, len(input))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return input[order[a]].Confidence > input[order[b]].Confidence
	})

	deleted := make([]bool, len(input))
	for _, i := range order {
		if deleted[i] {
			continue
		}
		in := &input[i]
		for _, j := range fb.Search(int32(in.Box.X), int32(in.Box.Y), int32(in.Box.X2()), int32(in.Box.Y2())) {
			if i == j || deleted[j] || input[j].Class != in.Class {
				continue
			}
			if in.Box.IOU(input[j].Box) >= minIoU {
				deleted[j] = true
			}
		}
	}

	retain := make([]Detection, 0, len(input))
	for i := range input {
		if !deleted[i] {
			retain = append(retain, input[i])
		}
	}
	return retain
}
