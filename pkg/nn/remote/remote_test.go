package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roadscan/pkg/nn"
	"github.com/stretchr/testify/require"
)

func TestClient(t *testing.T) {
	var gotSession, gotConf, gotFrame string
	var gotBytes int
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	})
	mux.HandleFunc("/detect", func(w http.ResponseWriter, r *http.Request) {
		gotSession = r.Header.Get("X-Session")
		gotConf = r.URL.Query().Get("conf")
		gotFrame = r.URL.Query().Get("frame")
		b, _ := io.ReadAll(r.Body)
		gotBytes = len(b)
		json.NewEncoder(w).Encode(detectResponse{Objects: []nn.Detection{
			{Class: 8, Confidence: 0.8, Box: nn.MakeRectXYXY(10, 10, 100, 90), TrackID: 4},
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(logs.NewTestingLog(t), srv.URL+"/")
	require.NoError(t, c.Check(context.Background()))

	img := cimg.NewImage(64, 48, cimg.PixelFormatRGB)
	dets, err := c.Detect(context.Background(), &nn.Frame{Number: 12, Image: img}, nn.NewDetectionParams())
	require.NoError(t, err)
	require.Len(t, dets, 1)
	require.Equal(t, int64(4), dets[0].TrackID)
	// Clipped to the frame
	require.Equal(t, nn.MakeRectXYXY(10, 10, 64, 48), dets[0].Box)
	require.Equal(t, c.Session, gotSession)
	require.Equal(t, "0.5", gotConf)
	require.Equal(t, "12", gotFrame)
	require.NotZero(t, gotBytes)
}

func TestClientUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", 503)
	}))
	defer srv.Close()
	c := NewClient(logs.NewTestingLog(t), srv.URL)
	require.Error(t, c.Check(context.Background()))
	_, err := c.Detect(context.Background(), &nn.Frame{Number: 1, Image: cimg.NewImage(8, 8, cimg.PixelFormatRGB)}, nn.NewDetectionParams())
	require.ErrorContains(t, err, "model not loaded")
}
