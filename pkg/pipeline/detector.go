package pipeline

import (
	"errors"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roadscan/pkg/nn"
	"github.com/cyclopcam/roadscan/pkg/nn/remote"
	"github.com/cyclopcam/roadscan/pkg/tracking"
)

// DetectorConfig selects the detector of a run. Exactly one of URL or Labels must be set.
type DetectorConfig struct {
	URL           string           `json:"url"`           // HTTP inference service
	ServiceTracks bool             `json:"serviceTracks"` // The service assigns track ids itself, so we don't run our own tracker
	Labels        string           `json:"labels"`        // Replay a labels file (which already has track ids)
	Tracker       *tracking.Config `json:"tracker"`       // Nil means tracking.DefaultConfig()
}

// Factory returns a function that creates a new detector for every run
func (c *DetectorConfig) Factory(log logs.Log) (func() (nn.Detector, error), error) {
	if (c.URL == "") == (c.Labels == "") {
		return nil, errors.New("Exactly one of the detector 'url' or 'labels' must be configured")
	}
	if c.Labels != "" {
		labels := c.Labels
		return func() (nn.Detector, error) {
			return nn.NewLabelReplayDetector(labels), nil
		}, nil
	}
	tcfg := tracking.DefaultConfig()
	if c.Tracker != nil {
		tcfg = *c.Tracker
	}
	url := c.URL
	ownTracker := !c.ServiceTracks
	return func() (nn.Detector, error) {
		client := remote.NewClient(log, url)
		if !ownTracker {
			return client, nil
		}
		return tracking.New(log, client, tcfg), nil
	}, nil
}
