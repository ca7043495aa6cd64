package nn

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// VideoLabels contains the detections for each video frame.
// Frames without any objects may be omitted.
type VideoLabels struct {
	Classes []string       `json:"classes"`
	Width   int            `json:"width,omitempty"`  // Frame width that the boxes refer to
	Height  int            `json:"height,omitempty"` // Frame height that the boxes refer to
	Frames  []*ImageLabels `json:"frames"`
}

type ImageLabels struct {
	Frame   int         `json:"frame,omitempty"` // For video, this is the frame number
	Objects []Detection `json:"objects"`
}

// LoadVideoLabels reads a labels JSON file
func LoadVideoLabels(filename string) (*VideoLabels, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	labels := &VideoLabels{}
	if err := json.Unmarshal(raw, labels); err != nil {
		return nil, fmt.Errorf("Error parsing labels file %v: %w", filename, err)
	}
	return labels, nil
}

// Save writes the labels as JSON
func (v *VideoLabels) Save(filename string) error {
	raw, err := json.MarshalIndent(v, "", "\t")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, raw, 0644)
}

// LabelReplayDetector plays back a labels file as though it were a live detector.
// Track IDs in the file are passed through unchanged.
type LabelReplayDetector struct {
	Filename string // Empty if created from memory

	labels  *VideoLabels
	byFrame map[int][]Detection
	once    sync.Once
	loadErr error
}

// NewLabelReplayDetector creates a replay detector that loads 'filename' on first use
func NewLabelReplayDetector(filename string) *LabelReplayDetector {
	return &LabelReplayDetector{
		Filename: filename,
	}
}

// NewLabelReplayDetectorFromLabels replays labels that are already in memory
func NewLabelReplayDetectorFromLabels(labels *VideoLabels) *LabelReplayDetector {
	d := &LabelReplayDetector{}
	d.once.Do(func() { d.index(labels) })
	return d
}

func (d *LabelReplayDetector) load() error {
	d.once.Do(func() {
		labels, err := LoadVideoLabels(d.Filename)
		if err != nil {
			d.loadErr = err
			return
		}
		d.index(labels)
	})
	return d.loadErr
}

func (d *LabelReplayDetector) index(labels *VideoLabels) {
	d.labels = labels
	d.byFrame = map[int][]Detection{}
	for _, f := range labels.Frames {
		d.byFrame[f.Frame] = append(d.byFrame[f.Frame], f.Objects...)
	}
}

// Check loads the labels file, so that a missing or corrupt file is reported before the run starts
func (d *LabelReplayDetector) Check(ctx context.Context) error {
	return d.load()
}

func (d *LabelReplayDetector) Close() {
}

func (d *LabelReplayDetector) Detect(ctx context.Context, frame *Frame, params *DetectionParams) ([]Detection, error) {
	if err := d.load(); err != nil {
		return nil, err
	}
	src := d.byFrame[frame.Number]
	if len(src) == 0 {
		return nil, nil
	}
	threshold := params.ProbabilityThreshold
	if threshold == 0 {
		threshold = DefaultProbabilityThreshold
	}
	sx, sy := float32(1), float32(1)
	if frame.Image != nil && d.labels.Width != 0 && d.labels.Height != 0 {
		sx = float32(frame.Image.Width) / float32(d.labels.Width)
		sy = float32(frame.Image.Height) / float32(d.labels.Height)
	}
	out := make([]Detection, 0, len(src))
	for _, det := range src {
		if det.Confidence < threshold {
			continue
		}
		if sx != 1 || sy != 1 {
			det.Box = det.Box.Scale(sx, sy)
		}
		out = append(out, det)
	}
	return out, nil
}
