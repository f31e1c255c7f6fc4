package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

func TestReaperRunOnce(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	lineX := 320.0
	cfg := &config.PipelineConfig{LineX: &lineX}

	door := NewDoorTracker(cfg, clock)
	period := NewDoorTracker(cfg, clock)

	var reaped []string
	reaper := NewReaper(clock, 2*time.Second,
		ReapTarget{Name: "door", Tracker: door, Timeout: 10 * time.Second},
		ReapTarget{Name: "period", Tracker: period, Timeout: 120 * time.Second},
	)
	reaper.OnReap = func(target string, s State) {
		reaped = append(reaped, target+":"+s.RollNo)
	}

	door.Update("21CS042", 100)
	period.Update("21CS042", 100)

	// 30s later only the door track is stale.
	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, reaper.RunOnce())
	assert.Equal(t, []string{"door:21CS042"}, reaped)
	assert.Equal(t, 0, door.Len())
	assert.Equal(t, 1, period.Len())

	// Past the period timeout the second target drains too.
	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, reaper.RunOnce())
	assert.Equal(t, []string{"door:21CS042", "period:21CS042"}, reaped)
	assert.Equal(t, 0, period.Len())
}

func TestReaperStartStop(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	lineX := 320.0
	cfg := &config.PipelineConfig{LineX: &lineX}
	door := NewDoorTracker(cfg, clock)

	reaped := make(chan State, 1)
	reaper := NewReaper(clock, 2*time.Second,
		ReapTarget{Name: "door", Tracker: door, Timeout: 10 * time.Second})
	reaper.OnReap = func(_ string, s State) {
		reaped <- s
	}

	reaper.Start()
	defer reaper.Stop()

	door.Update("21CS042", 100)

	// Keep advancing until the loop's ticker fires and sweeps.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-reaped:
			require.Equal(t, "21CS042", s.RollNo)
			return
		case <-deadline:
			t.Fatal("reaper loop did not sweep after ticker fired")
		default:
			clock.Advance(30 * time.Second)
			time.Sleep(5 * time.Millisecond)
		}
	}
}
