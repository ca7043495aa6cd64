// Package remote is an nn.Detector that sends frames to an HTTP inference service.
//
// Protocol:
//
//	POST {url}/detect?conf=0.5&iou=0.4&imgsz=608&frame=N
//	X-Session: <session id>
//	Content-Type: image/jpeg
//	<JPEG bytes>
//
// The response is {"objects": [nn.Detection...]}, with boxes in the pixel space of the posted image.
// If the service tracks objects itself (keyed by the session id), it fills in trackID.
//
//	GET {url}/health returns 200 when the model is loaded.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roadscan/pkg/nn"
	"github.com/cyclopcam/www"
	"github.com/google/uuid"
)

type detectResponse struct {
	Objects []nn.Detection `json:"objects"`
}

// Client is a detector backed by a remote inference service
type Client struct {
	BaseURL     string
	Session     string // Lets the service keep tracking state for this run
	JPEGQuality int

	log logs.Log
}

func NewClient(log logs.Log, baseURL string) *Client {
	return &Client{
		BaseURL:     strings.TrimSuffix(baseURL, "/"),
		Session:     uuid.NewString(),
		JPEGQuality: 90,
		log:         log,
	}
}

// Check that the service is up
func (c *Client) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := www.Do(req)
	if err != nil {
		return fmt.Errorf("Detector at %v is not available: %w", c.BaseURL, err)
	}
	resp.Body.Close()
	return nil
}

func (c *Client) Close() {
}

func (c *Client) Detect(ctx context.Context, frame *nn.Frame, params *nn.DetectionParams) ([]nn.Detection, error) {
	jpg, err := cimg.Compress(frame.Image, cimg.MakeCompressParams(cimg.Sampling420, c.JPEGQuality, 0))
	if err != nil {
		return nil, fmt.Errorf("Failed to compress frame %v: %w", frame.Number, err)
	}
	q := url.Values{}
	q.Set("conf", strconv.FormatFloat(float64(params.ProbabilityThreshold), 'f', -1, 32))
	q.Set("iou", strconv.FormatFloat(float64(params.NmsIouThreshold), 'f', -1, 32))
	q.Set("imgsz", strconv.Itoa(params.InferenceSize))
	q.Set("frame", strconv.Itoa(frame.Number))
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/detect?"+q.Encode(), bytes.NewReader(jpg))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("X-Session", c.Session)

	resp := detectResponse{}
	if err := www.FetchJSON(req, &resp); err != nil {
		return nil, fmt.Errorf("Detection failed on frame %v: %w", frame.Number, err)
	}
	for i := range resp.Objects {
		resp.Objects[i].Box = resp.Objects[i].Box.Clip(frame.Image.Width, frame.Image.Height)
	}
	return resp.Objects, nil
}
