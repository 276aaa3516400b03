package core

import (
	"errors"
	"sync"
	"time"

	"github.com/JonMunkholm/payrecon/internal/query"
)

// ErrRunNotFound is returned for an unknown or expired run id.
var ErrRunNotFound = errors.New("run not found")

// RunStatus is the lifecycle state of a report run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run triggers.
const (
	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
	TriggerCLI      = "cli"
)

// RunInfo describes one report run.
type RunInfo struct {
	ID       string        `json:"id"`
	Trigger  string        `json:"trigger"`
	Status   RunStatus     `json:"status"`
	Started  time.Time     `json:"started"`
	Finished *time.Time    `json:"finished,omitempty"`
	Rows     int64         `json:"rows"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Code     string        `json:"code,omitempty"`
	Options  query.Options `json:"options"`
}

// Done reports whether the run has finished either way.
func (r RunInfo) Done() bool {
	return r.Status == RunSucceeded || r.Status == RunFailed
}

// runHistory keeps the last max runs in memory, newest last in order.
type runHistory struct {
	mu    sync.RWMutex
	max   int
	order []string
	runs  map[string]*RunInfo
}

func newRunHistory(max int) *runHistory {
	if max <= 0 {
		max = 50
	}
	return &runHistory{max: max, runs: make(map[string]*RunInfo)}
}

func (h *runHistory) add(info RunInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.runs[info.ID] = &info
	h.order = append(h.order, info.ID)

	// Evict oldest finished runs first; a running entry is never evicted.
	for len(h.order) > h.max {
		evicted := false
		for i, id := range h.order {
			if h.runs[id].Done() {
				delete(h.runs, id)
				h.order = append(h.order[:i], h.order[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			return
		}
	}
}

func (h *runHistory) update(id string, fn func(*RunInfo)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.runs[id]; ok {
		fn(r)
	}
}

func (h *runHistory) get(id string) (RunInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.runs[id]
	if !ok {
		return RunInfo{}, false
	}
	return *r, true
}

// list returns runs newest first.
func (h *runHistory) list() []RunInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]RunInfo, 0, len(h.order))
	for i := len(h.order) - 1; i >= 0; i-- {
		out = append(out, *h.runs[h.order[i]])
	}
	return out
}
