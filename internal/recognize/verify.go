package recognize

import (
	"sync"
	"time"

	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/timeutil"
	"github.com/banshee-data/presence.report/internal/track"
)

// Status is the verification state of a tracked identity.
type Status int

const (
	// StatusUnverified means no recognitions have been observed yet.
	StatusUnverified Status = iota

	// StatusVerifying means recognitions are accumulating but the
	// window has not confirmed an identity.
	StatusVerifying

	// StatusVerified means the window agrees on an identity.
	StatusVerified
)

func (s Status) String() string {
	switch s {
	case StatusUnverified:
		return "unverified"
	case StatusVerifying:
		return "verifying"
	case StatusVerified:
		return "verified"
	default:
		return "invalid"
	}
}

// Confirmation modes for the verification window.
const (
	ConfirmStrict   = "strict"
	ConfirmMajority = "majority"
)

// Verifier maintains a sliding window of recent predictions per
// tracked key and confirms an identity only when the window agrees.
// Safe for concurrent use; the reaper shares it.
type Verifier struct {
	window int
	mode   string
	clock  timeutil.Clock

	mu      sync.Mutex
	buffers map[string]*verifyWindow
}

type verifyWindow struct {
	labels   []string
	lastSeen time.Time
}

// NewVerifier builds a verifier from pipeline configuration.
func NewVerifier(cfg *config.PipelineConfig, clock timeutil.Clock) *Verifier {
	return &Verifier{
		window:  cfg.GetWindowSize(),
		mode:    cfg.GetConfirmMode(),
		clock:   clock,
		buffers: make(map[string]*verifyWindow),
	}
}

// Observe records one prediction for the given track key. An unknown
// result is recorded as an empty label and counts against
// confirmation. It returns the current status and, when verified, the
// confirmed roll number.
func (v *Verifier) Observe(key, rollNo string) (Status, string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	win, ok := v.buffers[key]
	if !ok {
		win = &verifyWindow{}
		v.buffers[key] = win
	}
	win.labels = append(win.labels, rollNo)
	if len(win.labels) > v.window {
		win.labels = win.labels[len(win.labels)-v.window:]
	}
	win.lastSeen = v.clock.Now()

	return v.evaluate(win.labels)
}

// Peek returns the current status without recording a prediction.
func (v *Verifier) Peek(key string) (Status, string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	win, ok := v.buffers[key]
	if !ok {
		return StatusUnverified, ""
	}
	return v.evaluate(win.labels)
}

// Forget discards the window for a key. Called when a track is reaped
// so a returning person starts verification from scratch.
func (v *Verifier) Forget(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.buffers, key)
}

// Reset discards every window. Called when the capture loop stops so a
// restart begins with clean verification state.
func (v *Verifier) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.buffers = make(map[string]*verifyWindow)
}

// Reap removes windows not observed within the timeout and returns
// snapshots of the removed keys. Satisfies track.StaleTracker so the
// reaper can sweep verification state on its own timeout.
func (v *Verifier) Reap(timeout time.Duration) []track.State {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clock.Now()
	var removed []track.State
	for key, win := range v.buffers {
		if now.Sub(win.lastSeen) > timeout {
			removed = append(removed, track.State{TrackID: key, RollNo: key, LastSeen: win.lastSeen})
			delete(v.buffers, key)
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (v *Verifier) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.buffers)
}

func (v *Verifier) evaluate(buf []string) (Status, string) {
	if len(buf) == 0 {
		return StatusUnverified, ""
	}
	if len(buf) < v.window {
		return StatusVerifying, ""
	}

	switch v.mode {
	case ConfirmMajority:
		counts := make(map[string]int)
		for _, label := range buf {
			if label != "" {
				counts[label]++
			}
		}
		for label, n := range counts {
			if n*2 > v.window {
				return StatusVerified, label
			}
		}
	default: // strict
		label := buf[0]
		if label == "" {
			break
		}
		for _, l := range buf[1:] {
			if l != label {
				return StatusVerifying, ""
			}
		}
		return StatusVerified, label
	}

	return StatusVerifying, ""
}
