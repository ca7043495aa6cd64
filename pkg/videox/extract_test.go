package videox

import (
	"io"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/bmharper/cimg/v2"
	"github.com/stretchr/testify/require"
)

func TestParseProbeOutput(t *testing.T) {
	out := []byte("Warning: using insecure memory!\n" + `{
		"programs": [],
		"streams": [{"width": 1920, "height": 1080, "r_frame_rate": "30000/1001", "avg_frame_rate": "30000/1001", "nb_frames": "900", "duration": "30.030000"}]
	}`)
	info, err := parseProbeOutput(out)
	require.NoError(t, err)
	require.Equal(t, 1920, info.Width)
	require.Equal(t, 1080, info.Height)
	require.InDelta(t, 29.97, info.FrameRate, 0.01)
	require.Equal(t, 29, info.FPS())
	require.Equal(t, 900, info.NumFrames)

	_, err = parseProbeOutput([]byte(`{"streams": []}`))
	require.ErrorIs(t, err, ErrNoVideoStream)

	info, err = parseProbeOutput([]byte(`{"streams": [{"width": 8, "height": 8, "r_frame_rate": "25/1", "avg_frame_rate": "0/0"}]}`))
	require.NoError(t, err)
	require.Equal(t, 25, info.FPS())

	info, err = parseProbeOutput([]byte(`{"streams": [{"width": 8, "height": 8, "r_frame_rate": "0/0", "avg_frame_rate": "0/0"}]}`))
	require.NoError(t, err)
	require.Equal(t, 0, info.FPS())
}

func TestParseRational(t *testing.T) {
	require.Equal(t, 25.0, parseRational("25"))
	require.Equal(t, 12.5, parseRational("25/2"))
	require.Equal(t, 0.0, parseRational("0/0"))
	require.Equal(t, 0.0, parseRational("x"))
}

// Round trip through ffmpeg, if it's installed
func TestWriteThenRead(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}
	fn := filepath.Join(t.TempDir(), "test.mp4")
	w, err := NewFrameWriter(fn, 64, 48, 10)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		img := cimg.NewImage(64, 48, cimg.PixelFormatRGB)
		for j := range img.Pixels {
			img.Pixels[j] = byte(i * 10)
		}
		require.NoError(t, w.WriteFrame(img))
	}
	require.Error(t, w.WriteFrame(cimg.NewImage(10, 10, cimg.PixelFormatRGB)))
	require.NoError(t, w.Close())

	r, err := NewFrameReader(fn, 32, 24)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, 64, r.Info.Width)
	require.Equal(t, 10, r.Info.FPS())
	n := 0
	for {
		img, err := r.NextFrame()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Equal(t, 32, img.Width)
		n++
	}
	require.Equal(t, 20, n)
}
