package videox

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrNoVideoStream is returned by Probe when the file has no decodable video stream
var ErrNoVideoStream = errors.New("no video stream")

// VideoInfo is the geometry and timing of the first video stream in a file
type VideoInfo struct {
	Width     int
	Height    int
	FrameRate float64       // eg 29.97
	NumFrames int           // Zero if the container doesn't say
	Duration  time.Duration // Zero if the container doesn't say
}

// FPS returns the frame rate truncated to an integer.
// It is zero when ffprobe reports no usable rate, or a rate below 1.
func (v *VideoInfo) FPS() int {
	return int(v.FrameRate)
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
}

// Probe reads the geometry and frame rate of a video file with ffprobe
func Probe(srcFilename string) (*VideoInfo, error) {
	args := []string{
		"-v",
		"error",
		"-select_streams",
		"v:0",
		"-show_entries",
		"stream=width,height,r_frame_rate,avg_frame_rate,nb_frames,duration",
		"-of",
		"json",
		srcFilename,
	}
	out, err := RunAppOutput("ffprobe", args)
	if err != nil {
		return nil, err
	}
	return parseProbeOutput(out)
}

func parseProbeOutput(out []byte) (*VideoInfo, error) {
	// ffprobe sometimes emits junk lines before the JSON (eg "Warning: using insecure memory!")
	if start := strings.IndexByte(string(out), '{'); start > 0 {
		out = out[start:]
	}
	p := probeOutput{}
	if err := json.Unmarshal(out, &p); err != nil {
		return nil, fmt.Errorf("Unable to parse ffprobe output: %w", err)
	}
	if len(p.Streams) == 0 || p.Streams[0].Width == 0 || p.Streams[0].Height == 0 {
		return nil, ErrNoVideoStream
	}
	s := p.Streams[0]
	info := &VideoInfo{
		Width:  s.Width,
		Height: s.Height,
	}
	info.FrameRate = parseRational(s.AvgFrameRate)
	if info.FrameRate == 0 {
		info.FrameRate = parseRational(s.RFrameRate)
	}
	info.NumFrames, _ = strconv.Atoi(s.NbFrames)
	if seconds, err := strconv.ParseFloat(s.Duration, 64); err == nil {
		info.Duration = time.Duration(seconds * float64(time.Second))
	}
	return info, nil
}

// Parse "30000/1001" or "25"
func parseRational(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// app_name is an executable, such as "ffmpeg" or "ffprobe"
// args must not include the executable name as the first parameter
// Returns stdout. On failure, stderr is included in the error.
func RunAppOutput(app_name string, args []string) ([]byte, error) {
	cmd, err := makeCmd(app_name, args)
	if err != nil {
		return nil, err
	}
	stderr := strings.Builder{}
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%v execution failed: %w (%v)", app_name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

func makeCmd(app_name string, args []string) (*exec.Cmd, error) {
	app_path, err := exec.LookPath(app_name)
	if err != nil {
		return nil, fmt.Errorf("Unable to find '%v' in your path (%w)", app_name, err)
	}
	args_with_app := append([]string{app_name}, args...)
	return &exec.Cmd{
		Path: app_path,
		Args: args_with_app,
	}, nil
}
