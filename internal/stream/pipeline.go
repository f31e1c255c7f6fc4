package stream

import (
	"context"
	"time"

	"github.com/banshee-data/presence.report/internal/ledger"
	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/recognize"
	"github.com/banshee-data/presence.report/internal/schedule"
	"github.com/banshee-data/presence.report/internal/timeutil"
	"github.com/banshee-data/presence.report/internal/track"
	"github.com/banshee-data/presence.report/internal/vision"
)

// unknownCooldown throttles UNKNOWN_DETECTED events so one stranger
// standing in frame does not flood the feed at frame rate.
const unknownCooldown = 5 * time.Second

// Pipeline wires the per-observation stages together: quality gate,
// preprocessing, recognition, temporal verification, door tracking,
// period resolution, and the attendance marks.
type Pipeline struct {
	Gate       *vision.QualityGate
	Pre        *vision.Preprocessor
	Recognizer *recognize.Adapter
	Verifier   *recognize.Verifier
	Tracker    *track.DoorTracker
	Resolver   *schedule.Resolver
	Ledger     *ledger.Ledger
	Simple     *ledger.SimpleLedger // optional flat-file export
	Clock      timeutil.Clock
	Events     *EventLog
	Broadcast  *Broadcaster

	lastUnknownAt time.Time
}

// ProcessFrame runs every face observation from one frame through the
// pipeline. Individual observation failures never abort the frame.
func (p *Pipeline) ProcessFrame(ctx context.Context, observations []vision.FaceObservation) {
	for _, obs := range observations {
		if ctx.Err() != nil {
			return
		}
		p.processObservation(ctx, obs)
	}
}

func (p *Pipeline) processObservation(ctx context.Context, obs vision.FaceObservation) {
	score := p.Gate.Assess(obs)
	if !score.Accepted {
		return
	}

	sample := p.Pre.Prepare(obs.Crop)
	pred, result, ok := p.Recognizer.Evaluate(sample)
	if !ok {
		return
	}

	if !result.Known() {
		p.emitUnknown(result.Distance)
		if pred.Label == "" {
			return
		}
	}

	status, rollNo := p.Verifier.Observe(pred.Label, result.RollNo)
	if status != recognize.StatusVerified {
		return
	}

	transition, state := p.Tracker.Update(rollNo, obs.Box.CenterX())
	switch transition {
	case track.TransitionEntry:
		p.handleEntry(ctx, state, result.Distance)
	case track.TransitionExit:
		p.handleExit(ctx, state, result.Distance)
	}
}

func (p *Pipeline) handleEntry(ctx context.Context, state track.State, distance float64) {
	now := p.Clock.Now()

	if p.Simple != nil {
		if _, err := p.Simple.MarkEntry(state.RollNo); err != nil {
			monitoring.Logf("stream: flat-file entry mark failed for %s: %v", state.RollNo, err)
		}
	}

	event := newEvent(EventEntry, now)
	event.RollNo = state.RollNo
	event.Distance = distance

	period, found := p.Resolver.Current(now)
	if !found {
		monitoring.Logf("stream: %s entered outside any period, no period mark", state.RollNo)
		p.emit(event)
		return
	}
	event.PeriodID = period.ID
	event.PeriodName = period.Name

	inserted, err := p.Ledger.MarkEntry(ctx, state.RollNo, period)
	if err != nil {
		monitoring.Logf("stream: entry mark failed for %s in %s: %v", state.RollNo, period.Name, err)
		return
	}
	if inserted {
		monitoring.Logf("stream: %s entered for %s", state.RollNo, period.Name)
	}
	p.emit(event)
}

func (p *Pipeline) handleExit(ctx context.Context, state track.State, distance float64) {
	now := p.Clock.Now()

	if p.Simple != nil {
		if err := p.Simple.MarkExit(state.RollNo); err != nil {
			monitoring.Logf("stream: flat-file exit mark failed for %s: %v", state.RollNo, err)
		}
	}

	event := newEvent(EventExit, now)
	event.RollNo = state.RollNo
	event.Distance = distance

	period, found := p.Resolver.Current(now)
	if found {
		event.PeriodID = period.ID
		event.PeriodName = period.Name

		if err := p.Ledger.MarkExit(ctx, state.RollNo, period); err != nil {
			monitoring.Logf("stream: exit mark failed for %s in %s: %v", state.RollNo, period.Name, err)
			return
		}
	}

	p.emit(event)
}

func (p *Pipeline) emitUnknown(distance float64) {
	now := p.Clock.Now()
	if now.Sub(p.lastUnknownAt) < unknownCooldown {
		return
	}
	p.lastUnknownAt = now

	event := newEvent(EventUnknown, now)
	event.Distance = distance
	p.emit(event)
}

func (p *Pipeline) emit(e Event) {
	if p.Events != nil {
		p.Events.Append(e)
	}
	if p.Broadcast != nil {
		p.Broadcast.Publish(e)
	}
}
