package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/roadscan/pkg/defects"
)

// Request describes one video to process
type Request struct {
	RoadName       string `json:"RoadName"`
	SectionOfRoad  string `json:"SectionOfRoad"`
	VideoFilePath  string `json:"VideoFilePath"`
	TextFilePath   string `json:"TextFilePath"`   // GPS log (CSV)
	CriticalLevels string `json:"CriticalLevels"` // JSON object of category label to severity, inside a string
	RoadClass      string `json:"RoadClass"`
	RoadCategory   string `json:"RoadCategory"`
	Contractor     string `json:"Contractor"`

	FrameSkip int  `json:"FrameSkip,omitempty"` // Process every Nth frame. Zero means 1.
	SaveVideo bool `json:"SaveVideo,omitempty"` // Write an annotated copy of the video
}

// LoadRequest reads a Request from a JSON file
func LoadRequest(filename string) (*Request, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, configErrorf(err, "Failed to read request file '%v'", filename)
	}
	req := &Request{}
	if err := json.Unmarshal(raw, req); err != nil {
		return nil, configErrorf(err, "Failed to decode request file '%v'", filename)
	}
	return req, nil
}

func (r *Request) Road() defects.RoadInfo {
	return defects.RoadInfo{
		RoadName:      r.RoadName,
		SectionOfRoad: r.SectionOfRoad,
		RoadClass:     r.RoadClass,
		RoadCategory:  r.RoadCategory,
		Contractor:    r.Contractor,
	}
}

// VideoName is the base name of the video, eg "drive01.mp4"
func (r *Request) VideoName() string {
	return filepath.Base(r.VideoFilePath)
}

// VideoStem is the base name of the video without its extension, eg "drive01".
// All outputs of the run are named after it.
func (r *Request) VideoStem() string {
	name := r.VideoName()
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func (r *Request) frameSkip() int {
	if r.FrameSkip < 1 {
		return 1
	}
	return r.FrameSkip
}

// Validate checks the fields that don't require touching the filesystem
func (r *Request) Validate() error {
	if strings.TrimSpace(r.VideoFilePath) == "" {
		return configErrorf(nil, "VideoFilePath is empty")
	}
	if strings.TrimSpace(r.TextFilePath) == "" {
		return configErrorf(nil, "TextFilePath is empty")
	}
	if r.FrameSkip < 0 {
		return configErrorf(nil, "FrameSkip may not be negative (%v)", r.FrameSkip)
	}
	return nil
}

func checkFileExists(what, filename string) error {
	st, err := os.Stat(filename)
	if err != nil {
		return configErrorf(err, "%v file '%v' not found", what, filename)
	}
	if st.IsDir() {
		return configErrorf(nil, "%v file '%v' is a directory", what, filename)
	}
	return nil
}

func (r *Request) String() string {
	return fmt.Sprintf("video=%v gps=%v road=%v", r.VideoFilePath, r.TextFilePath, r.RoadName)
}
