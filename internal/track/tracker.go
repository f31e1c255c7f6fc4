// Package track follows verified identities across the door line and
// turns horizontal motion into entry and exit transitions.
package track

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

// Side is which side of the door line a track currently occupies.
type Side string

const (
	SideUnknown Side = "unknown"
	SideOutside Side = "outside" // x < line
	SideInside  Side = "inside"  // x >= line
)

// Transition is the movement classification for a single update.
type Transition string

const (
	TransitionNone  Transition = ""
	TransitionEntry Transition = "entry" // outside -> inside
	TransitionExit  Transition = "exit"  // inside -> outside
)

// State is a snapshot of one tracked identity.
type State struct {
	TrackID   string
	RollNo    string
	SmoothedX float64
	Side      Side
	FirstSeen time.Time
	LastSeen  time.Time
	Hits      int
}

// DoorTracker maintains per-identity position state relative to a
// vertical door line. Positions are EMA-smoothed before the side test
// so a face jittering on the line does not generate spurious
// crossings. Safe for concurrent use; the reaper shares it.
type DoorTracker struct {
	lineX float64
	alpha float64
	clock timeutil.Clock

	mu     sync.RWMutex
	tracks map[string]*State
}

// NewDoorTracker builds a tracker from pipeline configuration.
func NewDoorTracker(cfg *config.PipelineConfig, clock timeutil.Clock) *DoorTracker {
	return &DoorTracker{
		lineX:  cfg.GetLineX(),
		alpha:  cfg.GetSmoothingAlpha(),
		clock:  clock,
		tracks: make(map[string]*State),
	}
}

// SideOf classifies a horizontal position against the door line.
func (t *DoorTracker) SideOf(x float64) Side {
	if x < t.lineX {
		return SideOutside
	}
	return SideInside
}

// Update records a new observed position for an identity and returns
// the transition it caused along with a snapshot of the track.
//
// The first sighting of an identity establishes its side without
// producing a transition, so someone who first appears inside is not
// counted as entering.
func (t *DoorTracker) Update(rollNo string, centerX float64) (Transition, State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()

	track, ok := t.tracks[rollNo]
	if !ok {
		track = &State{
			TrackID:   fmt.Sprintf("trk_%s", uuid.NewString()),
			RollNo:    rollNo,
			SmoothedX: centerX,
			Side:      t.SideOf(centerX),
			FirstSeen: now,
		}
		t.tracks[rollNo] = track
	} else {
		track.SmoothedX = t.alpha*centerX + (1-t.alpha)*track.SmoothedX
	}

	track.LastSeen = now
	track.Hits++

	newSide := t.SideOf(track.SmoothedX)
	transition := TransitionNone
	switch {
	case track.Side == SideOutside && newSide == SideInside:
		transition = TransitionEntry
	case track.Side == SideInside && newSide == SideOutside:
		transition = TransitionExit
	}
	track.Side = newSide

	return transition, *track
}

// Get returns a copy of the track for an identity.
func (t *DoorTracker) Get(rollNo string) (State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	track, ok := t.tracks[rollNo]
	if !ok {
		return State{}, false
	}
	return *track, true
}

// ActiveStates returns copies of all current tracks.
func (t *DoorTracker) ActiveStates() []State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	states := make([]State, 0, len(t.tracks))
	for _, track := range t.tracks {
		states = append(states, *track)
	}
	return states
}

// Len returns the number of active tracks.
func (t *DoorTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tracks)
}

// Remove deletes the track for an identity.
func (t *DoorTracker) Remove(rollNo string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tracks, rollNo)
}

// Reset discards all tracks. Positions are rebuilt from scratch when
// the capture loop restarts; the ledger is not touched.
func (t *DoorTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = make(map[string]*State)
}

// Reap removes tracks not seen within the timeout and returns
// snapshots of the removed tracks.
func (t *DoorTracker) Reap(timeout time.Duration) []State {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	var removed []State
	for rollNo, track := range t.tracks {
		if now.Sub(track.LastSeen) > timeout {
			removed = append(removed, *track)
			delete(t.tracks, rollNo)
		}
	}
	return removed
}
