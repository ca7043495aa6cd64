package videox

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/bmharper/cimg/v2"
)

// FrameReader decodes a video file into RGB frames, by piping raw video out of ffmpeg.
type FrameReader struct {
	Info   VideoInfo // Of the source file
	Width  int       // Of the frames that we return
	Height int

	cmd    *exec.Cmd
	stdout io.ReadCloser
	reader *bufio.Reader
	stderr strings.Builder
	eof    bool
}

// NewFrameReader starts decoding srcFilename.
// If width is not zero, frames are scaled to width x height.
func NewFrameReader(srcFilename string, width, height int) (*FrameReader, error) {
	info, err := Probe(srcFilename)
	if err != nil {
		return nil, err
	}
	if width == 0 {
		width = info.Width
		height = info.Height
	}
	args := []string{
		"-v",
		"error",
		"-nostdin",
		"-i",
		srcFilename,
	}
	if width != info.Width || height != info.Height {
		args = append(args, "-vf", fmt.Sprintf("scale=%v:%v", width, height))
	}
	args = append(args,
		"-f",
		"rawvideo",
		"-pix_fmt",
		"rgb24",
		"-",
	)
	cmd, err := makeCmd("ffmpeg", args)
	if err != nil {
		return nil, err
	}
	r := &FrameReader{
		Info:   *info,
		Width:  width,
		Height: height,
		cmd:    cmd,
	}
	cmd.Stderr = &r.stderr
	r.stdout, err = cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	r.reader = bufio.NewReaderSize(r.stdout, width*height*3)
	return r, nil
}

// NextFrame returns the next frame, or io.EOF when the video is finished.
// A truncated final frame is treated as the end of the video.
func (r *FrameReader) NextFrame() (*cimg.Image, error) {
	if r.eof {
		return nil, io.EOF
	}
	img := cimg.NewImage(r.Width, r.Height, cimg.PixelFormatRGB)
	_, err := io.ReadFull(r.reader, img.Pixels)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		r.eof = true
		if werr := r.cmd.Wait(); werr != nil {
			return nil, fmt.Errorf("ffmpeg decode failed: %w (%v)", werr, strings.TrimSpace(r.stderr.String()))
		}
		r.cmd = nil
		return nil, io.EOF
	} else if err != nil {
		return nil, err
	}
	return img, nil
}

// Close stops the decoder
func (r *FrameReader) Close() error {
	if r.cmd == nil {
		return nil
	}
	r.stdout.Close()
	if r.cmd.Process != nil {
		r.cmd.Process.Kill()
	}
	r.cmd.Wait()
	r.cmd = nil
	return nil
}
