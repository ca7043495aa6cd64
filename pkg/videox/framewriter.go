package videox

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/bmharper/cimg/v2"
)

// FrameWriter encodes RGB frames into an mp4 file by piping raw video into ffmpeg.
type FrameWriter struct {
	Filename string
	Width    int
	Height   int

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr strings.Builder
}

// NewFrameWriter starts an encoder. All frames must be width x height.
func NewFrameWriter(dstFilename string, width, height, fps int) (*FrameWriter, error) {
	args := []string{
		"-v",
		"error",
		"-y", // overwrite output file
		"-f",
		"rawvideo",
		"-pix_fmt",
		"rgb24",
		"-s",
		fmt.Sprintf("%vx%v", width, height),
		"-r",
		strconv.Itoa(max(fps, 1)),
		"-i",
		"-",
		"-vf",
		"pad=ceil(iw/2)*2:ceil(ih/2)*2", // yuv420p needs even dimensions
		"-c:v",
		"mpeg4",
		"-q:v",
		"5",
		"-pix_fmt",
		"yuv420p",
		dstFilename,
	}
	cmd, err := makeCmd("ffmpeg", args)
	if err != nil {
		return nil, err
	}
	w := &FrameWriter{
		Filename: dstFilename,
		Width:    width,
		Height:   height,
		cmd:      cmd,
	}
	cmd.Stderr = &w.stderr
	w.stdin, err = cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *FrameWriter) WriteFrame(img *cimg.Image) error {
	if img.Width != w.Width || img.Height != w.Height || img.NChan() != 3 {
		return fmt.Errorf("Frame is %vx%vx%v, but encoder expects %vx%vx3", img.Width, img.Height, img.NChan(), w.Width, w.Height)
	}
	rowBytes := img.Width * 3
	if img.Stride == rowBytes {
		_, err := w.stdin.Write(img.Pixels[:rowBytes*img.Height])
		return err
	}
	for y := 0; y < img.Height; y++ {
		if _, err := w.stdin.Write(img.Pixels[y*img.Stride : y*img.Stride+rowBytes]); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes the encoder and waits for ffmpeg to finish writing the file
func (w *FrameWriter) Close() error {
	if w.cmd == nil {
		return nil
	}
	w.stdin.Close()
	err := w.cmd.Wait()
	w.cmd = nil
	if err != nil {
		return fmt.Errorf("ffmpeg encode failed: %w (%v)", err, strings.TrimSpace(w.stderr.String()))
	}
	return nil
}
