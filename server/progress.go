package server

import (
	"context"
	"sync"

	"github.com/cyclopcam/roadscan/pkg/pipeline"
)

// Number of progress messages that a slow subscriber may fall behind, before it starts missing them
const subscriberBacklog = 16

type activeRun struct {
	cancel context.CancelFunc
	last   pipeline.Progress
	subs   map[chan pipeline.Progress]bool
}

// progressHub fans out the progress of active runs to websocket subscribers.
// Publishing never blocks the pipeline: a subscriber that falls behind loses its oldest messages.
type progressHub struct {
	lock sync.Mutex
	runs map[string]*activeRun
}

func newProgressHub() *progressHub {
	return &progressHub{
		runs: map[string]*activeRun{},
	}
}

func (h *progressHub) start(runID string, cancel context.CancelFunc) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.runs[runID] = &activeRun{
		cancel: cancel,
		last:   pipeline.Progress{RunID: runID, State: pipeline.StateInitializing.String()},
		subs:   map[chan pipeline.Progress]bool{},
	}
}

// finish closes the channels of all subscribers, and forgets the run
func (h *progressHub) finish(runID string) {
	h.lock.Lock()
	defer h.lock.Unlock()
	run := h.runs[runID]
	if run == nil {
		return
	}
	for ch := range run.subs {
		close(ch)
	}
	delete(h.runs, runID)
}

func (h *progressHub) publish(p pipeline.Progress) {
	h.lock.Lock()
	defer h.lock.Unlock()
	run := h.runs[p.RunID]
	if run == nil {
		return
	}
	run.last = p
	for ch := range run.subs {
		select {
		case ch <- p:
		default:
			// Drop the oldest message to make space
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- p:
			default:
			}
		}
	}
}

// subscribe returns false if the run is not active
func (h *progressHub) subscribe(runID string) (ch chan pipeline.Progress, last pipeline.Progress, ok bool) {
	h.lock.Lock()
	defer h.lock.Unlock()
	run := h.runs[runID]
	if run == nil {
		return nil, pipeline.Progress{}, false
	}
	ch = make(chan pipeline.Progress, subscriberBacklog)
	run.subs[ch] = true
	return ch, run.last, true
}

func (h *progressHub) unsubscribe(runID string, ch chan pipeline.Progress) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if run := h.runs[runID]; run != nil && run.subs[ch] {
		delete(run.subs, ch)
		close(ch)
	}
}

// cancel stops an active run early. The run still produces a (partial) summary.
func (h *progressHub) cancel(runID string) bool {
	h.lock.Lock()
	defer h.lock.Unlock()
	run := h.runs[runID]
	if run == nil {
		return false
	}
	run.cancel()
	return true
}

func (h *progressHub) active() []pipeline.Progress {
	h.lock.Lock()
	defer h.lock.Unlock()
	all := make([]pipeline.Progress, 0, len(h.runs))
	for _, run := range h.runs {
		all = append(all, run.last)
	}
	return all
}
