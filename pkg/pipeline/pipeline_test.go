package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roadscan/pkg/defects"
	"github.com/cyclopcam/roadscan/pkg/geo"
	"github.com/cyclopcam/roadscan/pkg/nn"
	"github.com/cyclopcam/roadscan/pkg/storage"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

const testGPSLog = `DATE,TIME,LATITUDE,LONGITUDE
15.03.2024,10:00:00,55.700000,37.600000
15.03.2024,10:00:01,55.700100,37.600000
15.03.2024,10:00:02,55.700200,37.600100
15.03.2024,10:00:03,55.700300,37.600200
`

type testEnv struct {
	root    string
	store   *storage.StorageFS
	video   string
	gps     string
	source  *MemorySource
	labels  *nn.VideoLabels
	opt     Options
	events  []*defects.DefectRecord
	updates []Progress
}

type listenerFunc func(runID string, rec *defects.DefectRecord) error

func (f listenerFunc) OnDefect(runID string, rec *defects.DefectRecord) error {
	return f(runID, rec)
}

func newTestEnv(t *testing.T, nFrames int) *testEnv {
	root := t.TempDir()
	e := &testEnv{root: root}
	var err error
	e.store, err = storage.NewStorageFS(logs.NewTestingLog(t), filepath.Join(root, "out"))
	require.NoError(t, err)

	e.video = filepath.Join(root, "drive01.mp4")
	require.NoError(t, os.WriteFile(e.video, []byte("not decoded"), 0644))
	e.gps = filepath.Join(root, "drive01.csv")
	require.NoError(t, os.WriteFile(e.gps, []byte(testGPSLog), 0644))

	e.source = &MemorySource{FPS: 1}
	for i := 0; i < nFrames; i++ {
		e.source.Frames = append(e.source.Frames, cimg.NewImage(800, 450, cimg.PixelFormatRGB))
	}
	e.labels = &nn.VideoLabels{}

	e.opt = DefaultOptions(e.store)
	e.opt.Sources = MemorySources{e.video: e.source}
	e.opt.NewDetector = func() (nn.Detector, error) {
		return nn.NewLabelReplayDetectorFromLabels(e.labels), nil
	}
	e.opt.Listeners = []DefectListener{listenerFunc(func(runID string, rec *defects.DefectRecord) error {
		e.events = append(e.events, rec)
		return nil
	})}
	e.opt.OnProgress = func(p Progress) {
		e.updates = append(e.updates, p)
	}
	return e
}

func (e *testEnv) addDetection(frame int, class defects.Category, trackID int64) {
	e.labels.Frames = append(e.labels.Frames, &nn.ImageLabels{
		Frame: frame,
		Objects: []nn.Detection{{
			Class:      int(class),
			Confidence: 0.9,
			Box:        nn.Rect{X: 100, Y: 100, Width: 50, Height: 40},
			TrackID:    trackID,
		}},
	})
}

func (e *testEnv) request() *Request {
	return &Request{
		RoadName:      "M-11",
		SectionOfRoad: "km 12-14",
		VideoFilePath: e.video,
		TextFilePath:  e.gps,
		RoadClass:     "I",
		RoadCategory:  "A",
		Contractor:    "RoadWorks",
	}
}

func (e *testEnv) readJSON(t *testing.T, name string, v any) {
	raw, err := os.ReadFile(filepath.Join(e.store.Root, filepath.FromSlash(name)))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func (e *testEnv) imageFiles(t *testing.T) []string {
	entries, err := os.ReadDir(filepath.Join(e.store.Root, "RESULT_IMAGE", "drive01"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	names := []string{}
	for _, en := range entries {
		names = append(names, en.Name())
	}
	return names
}

func decodeSummary(t *testing.T, b []byte) RunSummary {
	s := RunSummary{}
	require.NoError(t, json.Unmarshal(b, &s))
	return s
}

// sample returns the coordinate of row i of testGPSLog
func sample(i int) geo.Coordinate {
	track := []geo.Coordinate{
		{Latitude: 55.7, Longitude: 37.6},
		{Latitude: 55.7001, Longitude: 37.6},
		{Latitude: 55.7002, Longitude: 37.6001},
		{Latitude: 55.7003, Longitude: 37.6002},
	}
	return track[i]
}

func TestEndToEnd(t *testing.T) {
	e := newTestEnv(t, 3)
	e.addDetection(1, defects.CategoryPothole, 7)
	e.addDetection(2, defects.CategoryPothole, 7)

	o := NewOrchestrator(logs.NewTestingLog(t), e.opt, e.request(), "")
	out := o.Run(context.Background())
	require.Equal(t, StateCompleted, o.State())
	require.True(t, e.source.Closed())

	s := decodeSummary(t, out)
	require.Equal(t, StatusSuccess, s.Status, s.Error)
	require.Empty(t, s.Error)
	require.Equal(t, "drive01.mp4", s.VideoName)
	require.Equal(t, "M-11", s.RoadName)
	require.Equal(t, 1, s.TotalObjects)
	require.Len(t, s.ClassCounts, int(defects.NumCategories))
	require.Equal(t, 2, s.ClassCounts[defects.CategoryPothole.Label()])
	require.Equal(t, 0, s.ClassCounts[defects.CategoryCrack.Label()])
	require.Regexp(t, regexp.MustCompile(`^\d+:\d\d:\d\d(\.\d{6})?$`), s.ProcessingTime)

	// Frames 1,2,3 at 1 FPS resolve to the samples at +1s, +2s, +3s
	expectDistance := geo.DistanceMeters(55.7001, 37.6, 55.7002, 37.6001) + geo.DistanceMeters(55.7002, 37.6001, 55.7003, 37.6002)
	require.InDelta(t, expectDistance, s.TotalDistance, 1e-9)

	// The summary file holds the same content as the returned payload
	fileSummary := RunSummary{}
	e.readJSON(t, "RESULT_JSON/drive01_summary.json", &fileSummary)
	require.Equal(t, s, fileSummary)

	records := []*defects.DefectRecord{}
	e.readJSON(t, "RESULT_JSON/drive01.json", &records)
	require.Len(t, records, 1)
	at := sample(1)
	expect := []*defects.DefectRecord{{
		ObjectID:      7,
		Title:         "M-11",
		SectionOfRoad: "km 12-14",
		VideoName:     "drive01.mp4",
		ClassName:     defects.CategoryPothole.Label(),
		Latitude:      at.Latitude,
		Longitude:     at.Longitude,
		Status:        defects.StatusNew,
		CriticalLevel: 3,
		RoadClass:     "I",
		RoadCategory:  "A",
		Contractor:    "RoadWorks",
	}}
	if diff := cmp.Diff(expect, records, cmpopts.IgnoreFields(defects.DefectRecord{}, "ImageName", "DateTimeDetection")); diff != "" {
		t.Fatalf("Unexpected records (-want +got):\n%v", diff)
	}
	require.Regexp(t, regexp.MustCompile(`^7_[0-9a-f-]{36}\.jpg$`), records[0].ImageName)
	_, err := time.Parse(defects.DetectionTimeLayout, records[0].DateTimeDetection)
	require.NoError(t, err)

	require.Equal(t, []string{records[0].ImageName}, e.imageFiles(t))

	// Listener saw the record as it was emitted, with the frame of the first sighting
	require.Len(t, e.events, 1)
	require.Equal(t, int64(7), e.events[0].ObjectID)
	require.Equal(t, 1, e.events[0].Frame)

	last := e.updates[len(e.updates)-1]
	require.Equal(t, StateCompleted.String(), last.State)
	require.Equal(t, 3, last.FramesProcessed)
	require.Equal(t, 1, last.Defects)
}

func TestMissingGPSLog(t *testing.T) {
	e := newTestEnv(t, 3)
	e.addDetection(1, defects.CategoryPothole, 7)
	req := e.request()
	req.TextFilePath = filepath.Join(e.root, "missing.csv")

	o := NewOrchestrator(logs.NewTestingLog(t), e.opt, req, "")
	s := decodeSummary(t, o.Run(context.Background()))
	require.Equal(t, StateFailed, o.State())
	require.Equal(t, StatusError, s.Status)
	require.Equal(t, 0, s.TotalObjects)
	require.Equal(t, 0.0, s.TotalDistance)
	require.Equal(t, "0:00:00", s.ProcessingTime)
	require.Empty(t, s.ClassCounts)
	require.Contains(t, s.Error, "missing.csv")
	require.Equal(t, "drive01.mp4", s.VideoName)
	require.Empty(t, e.imageFiles(t))
	require.Empty(t, e.events)

	fileSummary := RunSummary{}
	e.readJSON(t, "RESULT_JSON/drive01_summary.json", &fileSummary)
	require.Equal(t, s, fileSummary)
}

func TestEmptyGPSLog(t *testing.T) {
	e := newTestEnv(t, 1)
	require.NoError(t, os.WriteFile(e.gps, []byte("DATE,TIME,LATITUDE,LONGITUDE\n"), 0644))
	o := NewOrchestrator(logs.NewTestingLog(t), e.opt, e.request(), "")
	s := decodeSummary(t, o.Run(context.Background()))
	require.Equal(t, StatusError, s.Status)
	require.Contains(t, s.Error, ErrEmptyLog.Error())
}

func TestInitializeErrors(t *testing.T) {
	e := newTestEnv(t, 1)
	o := NewOrchestrator(logs.NewTestingLog(t), e.opt, e.request(), "")

	err := o.initialize(context.Background())
	require.NoError(t, err)
	o.closeResources()

	// Incomplete severity table
	req := e.request()
	req.CriticalLevels = `{"Выбоина": 3}`
	o = NewOrchestrator(logs.NewTestingLog(t), e.opt, req, "")
	err = o.initialize(context.Background())
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	require.ErrorIs(t, err, defects.ErrIncompleteSeverity)
	require.True(t, IsFatal(err))

	// No detector
	opt := e.opt
	opt.NewDetector = nil
	o = NewOrchestrator(logs.NewTestingLog(t), opt, e.request(), "")
	require.ErrorAs(t, o.initialize(context.Background()), &ce)

	// Detector that fails its check
	opt = e.opt
	opt.NewDetector = func() (nn.Detector, error) {
		return nn.NewLabelReplayDetector(filepath.Join(e.root, "no-labels.json")), nil
	}
	o = NewOrchestrator(logs.NewTestingLog(t), opt, e.request(), "")
	require.ErrorAs(t, o.initialize(context.Background()), &ce)

	// Video that can't be opened
	opt = e.opt
	opt.Sources = MemorySources{}
	o = NewOrchestrator(logs.NewTestingLog(t), opt, e.request(), "")
	var ve *InvalidVideoError
	require.ErrorAs(t, o.initialize(context.Background()), &ve)
	require.True(t, IsFatal(ve))

	// Video without frames
	opt.Sources = MemorySources{e.video: &MemorySource{FPS: 25}}
	o = NewOrchestrator(logs.NewTestingLog(t), opt, e.request(), "")
	require.ErrorAs(t, o.initialize(context.Background()), &ve)

	// Video without a frame rate
	opt.Sources = MemorySources{e.video: &MemorySource{FPS: 0, Frames: e.source.Frames}}
	o = NewOrchestrator(logs.NewTestingLog(t), opt, e.request(), "")
	err = o.initialize(context.Background())
	require.ErrorAs(t, err, &ve)
	require.Contains(t, err.Error(), "no frame rate")

	require.False(t, IsFatal(ErrMalformedSeverity))
}

func TestMalformedSeverityFallsBack(t *testing.T) {
	e := newTestEnv(t, 1)
	e.addDetection(1, defects.CategoryCrack, 3)
	req := e.request()
	req.CriticalLevels = `{not json`
	s := decodeSummary(t, Run(context.Background(), logs.NewTestingLog(t), e.opt, req))
	require.Equal(t, StatusSuccess, s.Status)

	records := []*defects.DefectRecord{}
	e.readJSON(t, "RESULT_JSON/drive01.json", &records)
	require.Len(t, records, 1)
	require.Equal(t, defects.CategoryCrack.DefaultSeverity(), records[0].CriticalLevel)
}

func TestFrameSkipAndResize(t *testing.T) {
	e := newTestEnv(t, 4)
	// Source frames are twice the target size
	for i := range e.source.Frames {
		e.source.Frames[i] = cimg.NewImage(1600, 900, cimg.PixelFormatRGB)
	}
	e.addDetection(1, defects.CategoryGraffiti, 1) // skipped
	e.addDetection(2, defects.CategoryGraffiti, 2)
	e.addDetection(3, defects.CategoryGraffiti, 3) // skipped
	e.addDetection(4, defects.CategoryGraffiti, 2)

	sizes := [][2]int{}
	opt := e.opt
	inner := opt.NewDetector
	opt.NewDetector = func() (nn.Detector, error) {
		d, err := inner()
		return &sizeRecorder{Detector: d, sizes: &sizes}, err
	}
	req := e.request()
	req.FrameSkip = 2
	s := decodeSummary(t, Run(context.Background(), logs.NewTestingLog(t), opt, req))
	require.Equal(t, StatusSuccess, s.Status, s.Error)
	require.Equal(t, 1, s.TotalObjects)
	require.Equal(t, 2, s.ClassCounts[defects.CategoryGraffiti.Label()])
	require.Equal(t, [][2]int{{800, 450}, {800, 450}}, sizes)
}

type sizeRecorder struct {
	nn.Detector
	sizes *[][2]int
}

func (d *sizeRecorder) Detect(ctx context.Context, frame *nn.Frame, params *nn.DetectionParams) ([]nn.Detection, error) {
	*d.sizes = append(*d.sizes, [2]int{frame.Image.Width, frame.Image.Height})
	return d.Detector.Detect(ctx, frame, params)
}

// failingDetector fails on one frame, and otherwise defers to the wrapped detector
type failingDetector struct {
	nn.Detector
	failOn int
}

func (d *failingDetector) Detect(ctx context.Context, frame *nn.Frame, params *nn.DetectionParams) ([]nn.Detection, error) {
	if frame.Number == d.failOn {
		return nil, errors.New("inference server went away")
	}
	return d.Detector.Detect(ctx, frame, params)
}

func TestDetectionFailureWhileRunning(t *testing.T) {
	e := newTestEnv(t, 3)
	e.addDetection(1, defects.CategoryPothole, 7)
	e.addDetection(2, defects.CategoryCrack, 8)

	opt := e.opt
	inner := opt.NewDetector
	opt.NewDetector = func() (nn.Detector, error) {
		d, err := inner()
		return &failingDetector{Detector: d, failOn: 2}, err
	}

	o := NewOrchestrator(logs.NewTestingLog(t), opt, e.request(), "")
	s := decodeSummary(t, o.Run(context.Background()))
	require.Equal(t, StateFailed, o.State())
	require.True(t, e.source.Closed())
	require.Equal(t, StatusError, s.Status)
	require.Contains(t, s.Error, "frame 2")
	require.Contains(t, s.Error, "inference server went away")
	require.Equal(t, "0:00:00", s.ProcessingTime)
	require.Equal(t, ClassCounts{}, s.ClassCounts)
	require.Equal(t, 0, s.TotalObjects)
	require.Equal(t, 0.0, s.TotalDistance)
	require.Equal(t, "drive01.mp4", s.VideoName)

	// The error summary replaces the success summary at the same location
	fileSummary := RunSummary{}
	e.readJSON(t, "RESULT_JSON/drive01_summary.json", &fileSummary)
	require.Equal(t, s, fileSummary)
	_, err := os.Stat(filepath.Join(e.store.Root, "RESULT_JSON", "drive01.json"))
	require.True(t, errors.Is(err, os.ErrNotExist))

	// Frame 1's capture was already written, and stays
	require.Len(t, e.events, 1)
	require.Equal(t, []string{e.events[0].ImageName}, e.imageFiles(t))
}

func TestQuitIsPartialSuccess(t *testing.T) {
	e := newTestEnv(t, 5)
	e.addDetection(1, defects.CategoryPatch, 4)
	quit := make(chan struct{})
	close(quit)
	opt := e.opt
	opt.Quit = quit
	o := NewOrchestrator(logs.NewTestingLog(t), opt, e.request(), "run-1")
	s := decodeSummary(t, o.Run(context.Background()))
	require.Equal(t, StatusSuccess, s.Status)
	require.Equal(t, 0, s.TotalObjects)
	require.Equal(t, StateCompleted, o.State())
	require.Equal(t, "run-1", e.updates[0].RunID)

	// Cancelling the context behaves the same way
	e = newTestEnv(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s = decodeSummary(t, Run(ctx, logs.NewTestingLog(t), e.opt, e.request()))
	require.Equal(t, StatusSuccess, s.Status)
}

type memorySink struct {
	filename string
	frames   int
	closed   bool
}

func (m *memorySink) WriteFrame(img *cimg.Image) error {
	m.frames++
	return nil
}

func (m *memorySink) Close() error {
	m.closed = true
	return nil
}

func TestSaveVideo(t *testing.T) {
	e := newTestEnv(t, 3)
	e.addDetection(2, defects.CategoryDirtyPole, 9)
	sink := &memorySink{}
	opt := e.opt
	opt.Sinks = func(filename string, width, height, fps int) (FrameSink, error) {
		require.Equal(t, 800, width)
		require.Equal(t, 450, height)
		require.Equal(t, 1, fps)
		sink.filename = filename
		return sink, nil
	}
	req := e.request()
	req.SaveVideo = true
	s := decodeSummary(t, Run(context.Background(), logs.NewTestingLog(t), opt, req))
	require.Equal(t, StatusSuccess, s.Status, s.Error)
	require.Equal(t, 3, sink.frames)
	require.True(t, sink.closed)
	require.Equal(t, filepath.Join(e.store.Root, "RESULT_VIDEO", "drive01.mp4"), sink.filename)
	st, err := os.Stat(filepath.Dir(sink.filename))
	require.NoError(t, err)
	require.True(t, st.IsDir())
}

func TestAnnotatedCaptureLeavesSourceUntouched(t *testing.T) {
	e := newTestEnv(t, 1)
	e.addDetection(1, defects.CategoryDamagedPole, 1)
	s := decodeSummary(t, Run(context.Background(), logs.NewTestingLog(t), e.opt, e.request()))
	require.Equal(t, StatusSuccess, s.Status, s.Error)
	for _, p := range e.source.Frames[0].Pixels {
		require.Equal(t, byte(0), p)
	}
}

func TestLoadRequest(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "req.json")
	raw := `{"RoadName":"M-11","VideoFilePath":"/v/drive 01.MP4","TextFilePath":"/v/gps.csv","CriticalLevels":"{}","FrameSkip":3}`
	require.NoError(t, os.WriteFile(fn, []byte(raw), 0644))
	req, err := LoadRequest(fn)
	require.NoError(t, err)
	require.Equal(t, "drive 01.MP4", req.VideoName())
	require.Equal(t, "drive 01", req.VideoStem())
	require.Equal(t, 3, req.frameSkip())
	require.NoError(t, req.Validate())

	_, err = LoadRequest(filepath.Join(dir, "nope.json"))
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)

	require.Error(t, (&Request{TextFilePath: "x"}).Validate())
	require.Error(t, (&Request{VideoFilePath: "x"}).Validate())
}

func TestFormatElapsed(t *testing.T) {
	require.Equal(t, "0:00:00", FormatElapsed(0))
	require.Equal(t, "0:00:05.250000", FormatElapsed(5250*time.Millisecond))
	require.Equal(t, "1:02:03", FormatElapsed(time.Hour+2*time.Minute+3*time.Second))
	require.Equal(t, "1 day, 0:00:01", FormatElapsed(24*time.Hour+time.Second))
	require.Equal(t, "2 days, 3:00:00", FormatElapsed(51*time.Hour))
}

func TestSummaryJSON(t *testing.T) {
	s := &RunSummary{
		VideoName:      "a.mp4",
		ClassCounts:    ClassCounts{defects.CategoryCrack.Label(): 2, defects.CategoryBadGarden.Label(): 1, "zzz": 0},
		ProcessingTime: "0:00:01",
		Status:         StatusSuccess,
	}
	compact := string(s.Compact())
	require.Contains(t, compact, `"ClassCounts":{"`+defects.CategoryBadGarden.Label()+`":1,"`+defects.CategoryCrack.Label()+`":2,"zzz":0}`)
	require.NotContains(t, compact, `"Error"`)
	require.NotContains(t, compact, "\n")
	require.Contains(t, string(s.Indented()), "\n    \"VideoName\": \"a.mp4\"")

	e := NewErrorSummary(&Request{VideoFilePath: "/x/b.mp4", RoadName: "R"}, errors.New("boom <bad>"))
	require.Equal(t, `{"VideoName":"b.mp4","RoadName":"R","SectionOfRoad":"","RoadClass":"","RoadCategory":"","Contractor":"","ClassCounts":{},"TotalObjects":0,"TotalDistance":0,"ProcessingTime":"0:00:00","Status":"error","Error":"boom <bad>"}`, string(e.Compact()))
}
