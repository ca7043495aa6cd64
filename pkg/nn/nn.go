package nn

import (
	"context"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/roadscan/pkg/nn/box"
)

// Package nn is the interface to the object detector.
// The detector itself is external: either a remote inference service (see nn/remote),
// or a recorded labels file (LabelReplayDetector).

const DefaultProbabilityThreshold = 0.5
const DefaultNmsIouThreshold = 0.4
const DefaultInferenceSize = 608

// NoTrack is the TrackID of a detection that the tracker has not yet assigned
const NoTrack = box.NoTrack

// Detection is an object that the detector found in a single frame
type Detection = box.Detection

// DetectionParams are passed to the detector on every frame
type DetectionParams struct {
	ProbabilityThreshold float32 // Value between 0 and 1. Lower values will find more objects. Zero value will use the default.
	NmsIouThreshold      float32 // Value between 0 and 1. Lower values will merge more objects together into one. Zero value will use the default.
	InferenceSize        int     // Longest side of the image that the model sees
}

// Create a default DetectionParams object
func NewDetectionParams() *DetectionParams {
	return &DetectionParams{
		ProbabilityThreshold: DefaultProbabilityThreshold,
		NmsIouThreshold:      DefaultNmsIouThreshold,
		InferenceSize:        DefaultInferenceSize,
	}
}

// Frame is one decoded video frame
type Frame struct {
	Number int         // 1-based position in the video
	Image  *cimg.Image // RGB
}

// Detector is given frames in video order, and returns the objects found in each frame.
// A tracking detector keeps state between calls, so that the same physical object
// keeps the same TrackID across consecutive frames.
type Detector interface {
	// Close releases the detector (you MUST call this when finished)
	Close()

	// Detect returns the objects found in a frame.
	// You can create a default DetectionParams with NewDetectionParams()
	Detect(ctx context.Context, frame *Frame, params *DetectionParams) ([]Detection, error)
}

// Checker is implemented by detectors that can verify that they are usable before
// any frame is processed (eg a model file exists, or a service is reachable).
type Checker interface {
	Check(ctx context.Context) error
}
