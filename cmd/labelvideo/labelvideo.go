package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/roadscan/pkg/defects"
	"github.com/cyclopcam/roadscan/pkg/nn"
	"github.com/cyclopcam/roadscan/pkg/nn/remote"
	"github.com/cyclopcam/roadscan/pkg/pipeline"
	"github.com/cyclopcam/roadscan/pkg/runlog"
	"github.com/cyclopcam/roadscan/pkg/tracking"
	"github.com/cyclopcam/roadscan/pkg/videox"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

// labelvideo runs the detection service and our tracker over a video, and saves the
// detections as a labels file that 'roadscan run --labels' can replay.
func main() {
	parser := argparse.NewParser("labelvideo", "Label a video")
	input := parser.String("i", "input", &argparse.Options{Help: "Input video file", Required: true})
	output := parser.String("o", "output", &argparse.Options{Help: "Output label file", Required: true})
	detectorURL := parser.String("d", "detector-url", &argparse.Options{Help: "HTTP object detection service", Required: true})
	width := parser.Int("w", "width", &argparse.Options{Help: "Resize frames to this width (boxes refer to this size)", Default: pipeline.DefaultTargetWidth})
	endFrame := parser.Int("", "endframe", &argparse.Options{Help: "Stop processing at frame", Required: false, Default: 0})
	threshold := parser.Float("t", "threshold", &argparse.Options{Help: "Detection probability threshold", Default: float64(nn.DefaultProbabilityThreshold)})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger := runlog.NewWriterLog(os.Stderr)
	defer logger.Close()

	info, err := videox.Probe(*input)
	check(err)
	height := info.Height * *width / info.Width
	reader, err := videox.NewFrameReader(*input, *width, height)
	check(err)
	defer reader.Close()

	client := remote.NewClient(logger, *detectorURL)
	detector := tracking.New(logger, client, tracking.DefaultConfig())
	defer detector.Close()
	ctx := context.Background()
	check(detector.Check(ctx))

	params := nn.NewDetectionParams()
	params.ProbabilityThreshold = float32(*threshold)

	labels := &nn.VideoLabels{
		Classes: defects.Labels(),
		Width:   *width,
		Height:  height,
	}
	for frame := 1; *endFrame == 0 || frame <= *endFrame; frame++ {
		img, err := reader.NextFrame()
		if err == io.EOF {
			break
		}
		check(err)
		dets, err := detector.Detect(ctx, &nn.Frame{Number: frame, Image: img}, params)
		check(err)
		if len(dets) != 0 {
			labels.Frames = append(labels.Frames, &nn.ImageLabels{Frame: frame, Objects: dets})
		}
		if frame%100 == 0 {
			logger.Infof("Frame %v: %v objects tracked", frame, detector.NumTracks())
		}
	}

	check(labels.Save(*output))
	logger.Infof("Wrote %v labelled frames to %v", len(labels.Frames), *output)
}
