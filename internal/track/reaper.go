package track

import (
	"time"

	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

// StaleTracker is any per-identity state table the reaper can sweep.
// Reap removes entries not seen within the timeout and returns
// snapshots of what it removed.
type StaleTracker interface {
	Reap(timeout time.Duration) []State
}

// ReapTarget pairs a state table with its staleness timeout. The door
// tracker uses a short timeout since a crossing is over in seconds;
// verification windows tolerate long gaps while someone sits facing
// away from the camera.
type ReapTarget struct {
	Name    string
	Tracker StaleTracker
	Timeout time.Duration
}

// Reaper periodically sweeps stale tracks out of its targets so
// identities that left the frame do not hold state forever.
type Reaper struct {
	Clock    timeutil.Clock
	Interval time.Duration
	Targets  []ReapTarget
	StopChan chan struct{}

	// OnReap is called for each removed track, after removal. Used to
	// clear the matching verification window.
	OnReap func(target string, s State)
}

// NewReaper builds a reaper over the given targets.
func NewReaper(clock timeutil.Clock, interval time.Duration, targets ...ReapTarget) *Reaper {
	return &Reaper{
		Clock:    clock,
		Interval: interval,
		Targets:  targets,
		StopChan: make(chan struct{}),
	}
}

// Start runs the periodic sweep loop in a goroutine.
func (r *Reaper) Start() {
	go func() {
		ticker := r.Clock.NewTicker(r.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				r.RunOnce()
			case <-r.StopChan:
				return
			}
		}
	}()
}

// Stop requests the sweep loop to stop.
func (r *Reaper) Stop() {
	close(r.StopChan)
}

// RunOnce sweeps all targets a single time and returns the number of
// tracks removed.
func (r *Reaper) RunOnce() int {
	removed := 0
	for _, target := range r.Targets {
		for _, s := range target.Tracker.Reap(target.Timeout) {
			removed++
			monitoring.Logf("track: reaped %s track %s (roll=%s, last seen %s ago)",
				target.Name, s.TrackID, s.RollNo, r.Clock.Since(s.LastSeen).Round(time.Second))
			if r.OnReap != nil {
				r.OnReap(target.Name, s)
			}
		}
	}
	return removed
}
