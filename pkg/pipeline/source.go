package pipeline

import (
	"errors"
	"io"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/roadscan/pkg/defects"
	"github.com/cyclopcam/roadscan/pkg/videox"
)

// SourceInfo is the native geometry and frame rate of a video
type SourceInfo struct {
	Width  int
	Height int
	FPS    int // Truncated to an integer
}

// FrameSource produces RGB frames in order. NextFrame returns io.EOF after the last frame.
type FrameSource interface {
	Info() SourceInfo
	NextFrame() (*cimg.Image, error)
	Close() error
}

// FrameSourceFactory opens a video
type FrameSourceFactory interface {
	Open(path string) (FrameSource, error)
}

// FrameSink receives annotated frames, all of the same size
type FrameSink interface {
	WriteFrame(img *cimg.Image) error
	Close() error
}

// FrameSinkFactory creates a sink that writes to a local file
type FrameSinkFactory func(filename string, width, height, fps int) (FrameSink, error)

// DefectListener is told about every new defect record, as soon as it is emitted.
// Errors are logged, but do not stop the run.
type DefectListener interface {
	OnDefect(runID string, rec *defects.DefectRecord) error
}

// FFmpegSources decodes video files with ffmpeg
type FFmpegSources struct{}

type ffmpegSource struct {
	reader *videox.FrameReader
}

func (FFmpegSources) Open(path string) (FrameSource, error) {
	r, err := videox.NewFrameReader(path, 0, 0)
	if err != nil {
		return nil, err
	}
	return &ffmpegSource{reader: r}, nil
}

func (s *ffmpegSource) Info() SourceInfo {
	return SourceInfo{
		Width:  s.reader.Width,
		Height: s.reader.Height,
		FPS:    s.reader.Info.FPS(),
	}
}

func (s *ffmpegSource) NextFrame() (*cimg.Image, error) {
	return s.reader.NextFrame()
}

func (s *ffmpegSource) Close() error {
	return s.reader.Close()
}

// NewFFmpegSink encodes frames into an mp4 file with ffmpeg
func NewFFmpegSink(filename string, width, height, fps int) (FrameSink, error) {
	return videox.NewFrameWriter(filename, width, height, fps)
}

// MemorySource plays back a fixed list of frames
type MemorySource struct {
	Frames []*cimg.Image
	FPS    int
	next   int
	closed bool
}

// MemorySources returns the same MemorySource for any path, or an error if
// the path is not in the map.
type MemorySources map[string]*MemorySource

func (m MemorySources) Open(path string) (FrameSource, error) {
	src, ok := m[path]
	if !ok {
		return nil, errors.New("no such video")
	}
	return src, nil
}

func (s *MemorySource) Info() SourceInfo {
	info := SourceInfo{FPS: s.FPS}
	if len(s.Frames) != 0 {
		info.Width = s.Frames[0].Width
		info.Height = s.Frames[0].Height
	}
	return info
}

func (s *MemorySource) NextFrame() (*cimg.Image, error) {
	if s.next >= len(s.Frames) {
		return nil, io.EOF
	}
	s.next++
	return s.Frames[s.next-1], nil
}

func (s *MemorySource) Close() error {
	s.closed = true
	return nil
}

// Closed is true once the pipeline has released the source
func (s *MemorySource) Closed() bool {
	return s.closed
}
