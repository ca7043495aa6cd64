// Package pipeline turns a video and its GPS log into a list of geotagged defects and a run summary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roadscan/pkg/annotate"
	"github.com/cyclopcam/roadscan/pkg/capture"
	"github.com/cyclopcam/roadscan/pkg/defects"
	"github.com/cyclopcam/roadscan/pkg/geo"
	"github.com/cyclopcam/roadscan/pkg/gpslog"
	"github.com/cyclopcam/roadscan/pkg/nn"
	"github.com/cyclopcam/roadscan/pkg/perfstats"
	"github.com/cyclopcam/roadscan/pkg/runlog"
	"github.com/cyclopcam/roadscan/pkg/storage"
	"github.com/cyclopcam/roadscan/pkg/timeline"
	"github.com/google/uuid"
)

type State int

const (
	StateInitializing State = iota
	StateRunning
	StateFinalizing
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const DefaultTargetWidth = 800

// Options are shared by every run of a process. Nothing in here holds per-run state.
type Options struct {
	Store   storage.Storage    // Destination of all outputs
	Sources FrameSourceFactory // Video decoder
	Sinks   FrameSinkFactory   // Annotated video encoder. Nil disables video output.

	// NewDetector creates the detector for a single run. Detectors keep tracking state, so they are never shared.
	NewDetector     func() (nn.Detector, error)
	DetectionParams *nn.DetectionParams // Nil means nn.NewDetectionParams()

	Listeners []DefectListener

	JSONDir  string // Defect list and summary
	ImageDir string // Frame captures go into <ImageDir>/<video stem>/
	VideoDir string // Annotated videos

	TargetWidth int // Frames are resized to this width before detection
	JPEGQuality int

	// Closing Quit stops the run early, with a partial success (like cancelling the context)
	Quit <-chan struct{}

	// OnProgress is called after every processed frame, and on every state change.
	// It runs on the pipeline goroutine, so it must not block.
	OnProgress func(Progress)
}

// DefaultOptions writes outputs into the conventional directories of store
func DefaultOptions(store storage.Storage) Options {
	return Options{
		Store:       store,
		Sources:     FFmpegSources{},
		Sinks:       NewFFmpegSink,
		JSONDir:     "RESULT_JSON",
		ImageDir:    "RESULT_IMAGE",
		VideoDir:    "RESULT_VIDEO",
		TargetWidth: DefaultTargetWidth,
		JPEGQuality: capture.DefaultQuality,
	}
}

// Orchestrator runs a single request. Create a new one for every request.
type Orchestrator struct {
	ID string

	log     logs.Log
	opt     Options
	req     *Request
	state   State
	summary *RunSummary
	now     func() time.Time

	// Created in initialize
	severity   defects.SeverityTable
	track      geo.Track
	source     FrameSource
	sourceInfo SourceInfo
	width      int
	height     int
	index      *timeline.Index
	detector   nn.Detector
	params     *nn.DetectionParams
	aggregator *defects.Aggregator
	distance   geo.DistanceAccumulator
	images     *capture.JPEGWriter
	sink       FrameSink
	videoFile  string // Local file behind sink
	videoTemp  bool   // videoFile must be uploaded to Store and deleted

	// Updated in run
	framesRead      int
	framesProcessed int
	stages          *perfstats.Stages
	rate            *rateMeter
	quitEarly       bool
}

// NewOrchestrator prepares a run. If runID is empty, a new one is generated.
func NewOrchestrator(log logs.Log, opt Options, req *Request, runID string) *Orchestrator {
	if runID == "" {
		runID = uuid.NewString()
	}
	if opt.TargetWidth <= 0 {
		opt.TargetWidth = DefaultTargetWidth
	}
	return &Orchestrator{
		ID:     runID,
		log:    runlog.NewPrefixLogger(log, "Run "+shortID(runID)+":"),
		opt:    opt,
		req:    req,
		state:  StateInitializing,
		now:    time.Now,
		stages: perfstats.NewStages(),
		rate:   newRateMeter(),
	}
}

// Run processes a request with a fresh Orchestrator, and returns the compact summary
func Run(ctx context.Context, log logs.Log, opt Options, req *Request) []byte {
	return NewOrchestrator(log, opt, req, "").Run(ctx)
}

func (o *Orchestrator) State() State {
	return o.state
}

// Summary is nil until Run returns
func (o *Orchestrator) Summary() *RunSummary {
	return o.summary
}

// Run executes every phase, and returns the summary JSON (compact form).
// The summary is returned for failed runs too, with Status "error".
func (o *Orchestrator) Run(ctx context.Context) []byte {
	started := o.now()
	o.log.Infof("Starting %v", o.req)

	err := o.initialize(ctx)
	if err == nil {
		o.setState(StateRunning)
		err = o.run(ctx)
	}
	if err == nil {
		o.setState(StateFinalizing)
		err = o.finalize(started)
	}
	if err != nil {
		o.fail(err)
	} else {
		o.setState(StateCompleted)
		o.log.Infof("Completed. %v defects, %v detections, %.1f m. Stages: %v", o.summary.TotalObjects, o.totalDetections(), o.summary.TotalDistance, o.stages)
	}
	return o.summary.Compact()
}

func (o *Orchestrator) setState(s State) {
	o.state = s
	o.notifyProgress()
}

func (o *Orchestrator) initialize(ctx context.Context) error {
	if o.req == nil {
		return configErrorf(nil, "No request")
	}
	if o.opt.Store == nil || o.opt.Sources == nil {
		return configErrorf(nil, "Pipeline has no output store or video decoder")
	}
	if err := o.req.Validate(); err != nil {
		return err
	}
	if err := checkFileExists("Video", o.req.VideoFilePath); err != nil {
		return err
	}
	if err := checkFileExists("GPS log", o.req.TextFilePath); err != nil {
		return err
	}

	// Severity
	severity, err := defects.ParseSeverityConfig(o.req.CriticalLevels)
	if errors.Is(err, defects.ErrMalformedSeverity) {
		o.log.Warnf("Using default severity levels, because CriticalLevels could not be decoded: %v", err)
		severity = defects.DefaultSeverityTable()
	} else if err != nil {
		return configErrorf(err, "Invalid CriticalLevels")
	}
	o.severity = severity

	// Detector
	if o.opt.NewDetector == nil {
		return configErrorf(nil, "No detector configured")
	}
	o.detector, err = o.opt.NewDetector()
	if err != nil {
		return configErrorf(err, "Failed to create detector")
	}
	if checker, ok := o.detector.(nn.Checker); ok {
		if err := checker.Check(ctx); err != nil {
			return configErrorf(err, "Detector is not available")
		}
	}
	o.params = o.opt.DetectionParams
	if o.params == nil {
		o.params = nn.NewDetectionParams()
	}

	// GPS log
	o.track, err = gpslog.ReadFile(o.req.TextFilePath)
	if err != nil {
		return configErrorf(err, "Failed to read GPS log '%v'", o.req.TextFilePath)
	}
	if len(o.track) == 0 {
		return fmt.Errorf("GPS log '%v': %w", o.req.TextFilePath, ErrEmptyLog)
	}

	// Video
	o.source, err = o.opt.Sources.Open(o.req.VideoFilePath)
	if err != nil {
		return &InvalidVideoError{Path: o.req.VideoFilePath, Err: err}
	}
	o.sourceInfo = o.source.Info()
	if o.sourceInfo.Width <= 0 || o.sourceInfo.Height <= 0 {
		return &InvalidVideoError{Path: o.req.VideoFilePath, Err: errors.New("no frames")}
	}
	if o.sourceInfo.FPS <= 0 {
		return &InvalidVideoError{Path: o.req.VideoFilePath, Err: errors.New("no frame rate")}
	}
	o.width = o.opt.TargetWidth
	o.height = o.sourceInfo.Height * o.width / o.sourceInfo.Width
	if o.height < 1 {
		return &InvalidVideoError{Path: o.req.VideoFilePath, Err: fmt.Errorf("frame size %vx%v is too small", o.sourceInfo.Width, o.sourceInfo.Height)}
	}
	o.log.Infof("Video %vx%v at %v FPS, processing at %vx%v, every %v frame(s)", o.sourceInfo.Width, o.sourceInfo.Height, o.sourceInfo.FPS, o.width, o.height, o.req.frameSkip())

	o.index, err = timeline.NewIndex(o.sourceInfo.FPS, o.track)
	if err != nil {
		return err
	}
	o.log.Infof("GPS log has %v samples, starting at %v", len(o.track), o.index.Start)

	o.aggregator, err = defects.NewAggregator(o.log, o.req.Road(), o.req.VideoName(), o.severity)
	if err != nil {
		return configErrorf(err, "Invalid severity table")
	}

	return o.prepareOutputs()
}

// dirMaker is implemented by stores where directories must exist before an external process writes into them
type dirMaker interface {
	MkdirAll(name string) error
}

// localFiler is implemented by stores that are backed by the local filesystem
type localFiler interface {
	Filename(name string) (string, error)
}

// prepareOutputs creates every output location of the run
func (o *Orchestrator) prepareOutputs() error {
	stem := o.req.VideoStem()
	imageDir := storage.Join(o.opt.ImageDir, stem)
	dirs := []string{o.opt.JSONDir, imageDir}
	if o.req.SaveVideo && o.opt.Sinks != nil {
		dirs = append(dirs, o.opt.VideoDir)
	}
	if dm, ok := o.opt.Store.(dirMaker); ok {
		for _, d := range dirs {
			if err := dm.MkdirAll(d); err != nil {
				return configErrorf(err, "Failed to create output directory '%v'", d)
			}
		}
	}
	o.images = capture.NewJPEGWriter(o.opt.Store, imageDir, o.opt.JPEGQuality)

	if o.req.SaveVideo {
		if o.opt.Sinks == nil {
			o.log.Warnf("SaveVideo requested, but no video encoder is configured")
			return nil
		}
		name := o.videoName()
		if lf, ok := o.opt.Store.(localFiler); ok {
			fn, err := lf.Filename(name)
			if err != nil {
				return configErrorf(err, "Invalid video output name")
			}
			o.videoFile = fn
		} else {
			f, err := os.CreateTemp("", "roadscan-*.mp4")
			if err != nil {
				return configErrorf(err, "Failed to create temporary video file")
			}
			f.Close()
			o.videoFile = f.Name()
			o.videoTemp = true
		}
		sink, err := o.opt.Sinks(o.videoFile, o.width, o.height, o.sourceInfo.FPS)
		if err != nil {
			return configErrorf(err, "Failed to start video encoder")
		}
		o.sink = sink
	}
	return nil
}

func (o *Orchestrator) videoName() string {
	return storage.Join(o.opt.VideoDir, o.req.VideoStem()+".mp4")
}

func (o *Orchestrator) quitRequested(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	if o.opt.Quit != nil {
		select {
		case <-o.opt.Quit:
			return true
		default:
		}
	}
	return false
}

func (o *Orchestrator) run(ctx context.Context) error {
	skip := o.req.frameSkip()
	for {
		if o.quitRequested(ctx) {
			o.log.Infof("Quit requested after %v frames", o.framesRead)
			o.quitEarly = true
			return nil
		}
		t := time.Now()
		img, err := o.source.NextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return fmt.Errorf("Failed to decode frame %v: %w", o.framesRead+1, err)
		}
		o.framesRead++
		if o.framesRead%skip != 0 {
			continue
		}
		t = o.stages.Since("decode", t)
		if err := o.processFrame(ctx, o.framesRead, img, t); err != nil {
			if o.quitRequested(ctx) {
				o.log.Infof("Quit requested during frame %v (%v)", o.framesRead, err)
				o.quitEarly = true
				return nil
			}
			return err
		}
		o.framesProcessed++
		o.rate.add(time.Now())
		o.notifyProgress()
	}
}

func (o *Orchestrator) processFrame(ctx context.Context, frameNumber int, img *cimg.Image, t time.Time) error {
	if img.Width != o.width || img.Height != o.height {
		img = cimg.ResizeNew(img, o.width, o.height, nil)
		t = o.stages.Since("resize", t)
	}

	dets, err := o.detector.Detect(ctx, &nn.Frame{Number: frameNumber, Image: img}, o.params)
	if err != nil {
		return fmt.Errorf("Detection failed on frame %v: %w", frameNumber, err)
	}
	t = o.stages.Since("detect", t)

	coord, err := o.index.ResolveCoordinate(frameNumber)
	if err != nil {
		return err
	}

	// Captures and the output video show the boxes, so we draw on a copy of the frame
	annotated := img
	if len(dets) != 0 {
		annotated = cloneImage(img)
		annotate.Draw(annotated, dets)
	}

	fctx := defects.FrameContext{
		Frame:      frameNumber,
		Coordinate: coord,
		ImageName:  o.images.ImageName,
	}
	for _, det := range dets {
		rec := o.aggregator.Observe(det, fctx)
		if rec == nil {
			continue
		}
		if err := o.images.Write(rec.ImageName, annotated); err != nil {
			return err
		}
		o.log.Infof("New defect %v at (%.6f, %.6f), frame %v, image %v", rec, rec.Latitude, rec.Longitude, frameNumber, rec.ImageName)
		for _, l := range o.opt.Listeners {
			if err := l.OnDefect(o.ID, rec); err != nil {
				o.log.Warnf("Defect listener failed on %v: %v", rec, err)
			}
		}
	}
	t = o.stages.Since("capture", t)

	o.distance.Advance(coord.Latitude, coord.Longitude)

	if o.sink != nil {
		if err := o.sink.WriteFrame(annotated); err != nil {
			return fmt.Errorf("Failed to encode frame %v: %w", frameNumber, err)
		}
		o.stages.Since("encode", t)
	}
	return nil
}

func (o *Orchestrator) finalize(started time.Time) error {
	o.closeResources()
	if err := o.uploadVideo(); err != nil {
		return err
	}

	list, err := marshalJSON(o.aggregator.Records(), "    ")
	if err != nil {
		return err
	}
	listName := storage.Join(o.opt.JSONDir, o.req.VideoStem()+".json")
	if err := storage.WriteBytes(o.opt.Store, listName, list); err != nil {
		return fmt.Errorf("Failed to write defect list '%v': %w", listName, err)
	}

	s := &RunSummary{
		ClassCounts:    ClassCounts(o.aggregator.SummaryCounts()),
		TotalObjects:   o.aggregator.DistinctObjects(),
		TotalDistance:  o.distance.Total(),
		ProcessingTime: FormatElapsed(o.now().Sub(started)),
		Status:         StatusSuccess,
	}
	s.setRequest(o.req)
	if err := o.writeSummary(s); err != nil {
		return err
	}
	o.summary = s
	if o.quitEarly {
		o.log.Infof("Stopped early, after %v of the video's frames", o.framesRead)
	}
	return nil
}

func (o *Orchestrator) uploadVideo() error {
	if !o.videoTemp {
		return nil
	}
	defer os.Remove(o.videoFile)
	f, err := os.Open(o.videoFile)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := storage.WriteFile(o.opt.Store, o.videoName(), f); err != nil {
		return fmt.Errorf("Failed to upload annotated video: %w", err)
	}
	return nil
}

func (o *Orchestrator) writeSummary(s *RunSummary) error {
	name := storage.Join(o.opt.JSONDir, o.req.VideoStem()+"_summary.json")
	if err := storage.WriteBytes(o.opt.Store, name, s.Indented()); err != nil {
		return fmt.Errorf("Failed to write summary '%v': %w", name, err)
	}
	return nil
}

// fail produces the error summary. Images that were already written are left in place.
func (o *Orchestrator) fail(err error) {
	o.log.Errorf("Failed in state %v: %v", o.state, err)
	o.closeResources()
	if o.videoTemp {
		os.Remove(o.videoFile)
	}
	o.summary = NewErrorSummary(o.req, err)
	if o.req != nil && o.req.VideoFilePath != "" && o.opt.Store != nil {
		if werr := o.writeSummary(o.summary); werr != nil {
			o.log.Errorf("%v", werr)
		}
	}
	o.setState(StateFailed)
}

func (o *Orchestrator) closeResources() {
	if o.sink != nil {
		if err := o.sink.Close(); err != nil {
			o.log.Warnf("Video encoder: %v", err)
		}
		o.sink = nil
	}
	if o.source != nil {
		o.source.Close()
		o.source = nil
	}
	if o.detector != nil {
		o.detector.Close()
		o.detector = nil
	}
}

func (o *Orchestrator) totalDetections() int {
	n := 0
	for _, c := range o.aggregator.SummaryCounts() {
		n += c
	}
	return n
}

func (o *Orchestrator) notifyProgress() {
	if o.opt.OnProgress == nil {
		return
	}
	p := Progress{
		RunID:           o.ID,
		State:           o.state.String(),
		FramesRead:      o.framesRead,
		FramesProcessed: o.framesProcessed,
		Distance:        o.distance.Total(),
		FramesPerSecond: o.rate.rate(),
	}
	if o.aggregator != nil {
		p.Defects = o.aggregator.DistinctObjects()
	}
	o.opt.OnProgress(p)
}

func cloneImage(img *cimg.Image) *cimg.Image {
	c := cimg.NewImage(img.Width, img.Height, img.Format)
	rowBytes := img.Width * img.NChan()
	for y := 0; y < img.Height; y++ {
		copy(c.Pixels[y*c.Stride:y*c.Stride+rowBytes], img.Pixels[y*img.Stride:y*img.Stride+rowBytes])
	}
	return c
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// OutputFiles lists the names (inside the store) of the files that a run of req writes
func OutputFiles(opt Options, req *Request) (list, summary, imageDir string) {
	stem := req.VideoStem()
	return storage.Join(opt.JSONDir, stem+".json"), storage.Join(opt.JSONDir, stem+"_summary.json"), storage.Join(opt.ImageDir, stem)
}
