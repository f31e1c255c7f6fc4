package recognize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

func verifierWith(window int, mode string) *Verifier {
	clock := timeutil.NewMockClock(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	return NewVerifier(&config.PipelineConfig{WindowSize: &window, ConfirmMode: &mode}, clock)
}

func TestVerifierStrict(t *testing.T) {
	t.Parallel()

	v := verifierWith(5, ConfirmStrict)

	// Window filling up.
	for i := 0; i < 4; i++ {
		status, roll := v.Observe("trk_1", "21CS042")
		assert.Equal(t, StatusVerifying, status, "observation %d", i)
		assert.Empty(t, roll)
	}

	// Fifth agreeing observation confirms.
	status, roll := v.Observe("trk_1", "21CS042")
	assert.Equal(t, StatusVerified, status)
	assert.Equal(t, "21CS042", roll)
}

func TestVerifierStrictDisagreement(t *testing.T) {
	t.Parallel()

	v := verifierWith(5, ConfirmStrict)

	for i := 0; i < 4; i++ {
		v.Observe("trk_1", "21CS042")
	}

	// One unknown breaks the streak.
	status, _ := v.Observe("trk_1", "")
	assert.Equal(t, StatusVerifying, status)

	// Recovery requires a fresh full window of agreement.
	for i := 0; i < 4; i++ {
		status, _ = v.Observe("trk_1", "21CS042")
		assert.Equal(t, StatusVerifying, status)
	}
	status, roll := v.Observe("trk_1", "21CS042")
	assert.Equal(t, StatusVerified, status)
	assert.Equal(t, "21CS042", roll)
}

func TestVerifierMajority(t *testing.T) {
	t.Parallel()

	v := verifierWith(5, ConfirmMajority)

	// Three of five matching is enough in majority mode.
	v.Observe("trk_1", "21CS042")
	v.Observe("trk_1", "")
	v.Observe("trk_1", "21CS042")
	v.Observe("trk_1", "")
	status, roll := v.Observe("trk_1", "21CS042")

	assert.Equal(t, StatusVerified, status)
	assert.Equal(t, "21CS042", roll)
}

func TestVerifierMajoritySplit(t *testing.T) {
	t.Parallel()

	v := verifierWith(5, ConfirmMajority)

	// 2-2-1 split: no label holds a majority.
	v.Observe("trk_1", "21CS042")
	v.Observe("trk_1", "21CS042")
	v.Observe("trk_1", "21CS099")
	v.Observe("trk_1", "21CS099")
	status, roll := v.Observe("trk_1", "")

	assert.Equal(t, StatusVerifying, status)
	assert.Empty(t, roll)
}

func TestVerifierAllUnknown(t *testing.T) {
	t.Parallel()

	v := verifierWith(3, ConfirmStrict)

	v.Observe("trk_1", "")
	v.Observe("trk_1", "")
	status, roll := v.Observe("trk_1", "")

	// A full window of unknowns never verifies.
	assert.Equal(t, StatusVerifying, status)
	assert.Empty(t, roll)
}

func TestVerifierIndependentKeys(t *testing.T) {
	t.Parallel()

	v := verifierWith(2, ConfirmStrict)

	v.Observe("trk_1", "21CS042")
	v.Observe("trk_2", "21CS099")

	status, roll := v.Observe("trk_1", "21CS042")
	assert.Equal(t, StatusVerified, status)
	assert.Equal(t, "21CS042", roll)

	status, _ = v.Peek("trk_2")
	assert.Equal(t, StatusVerifying, status)
}

func TestVerifierForget(t *testing.T) {
	t.Parallel()

	v := verifierWith(2, ConfirmStrict)

	v.Observe("trk_1", "21CS042")
	v.Observe("trk_1", "21CS042")
	assert.Equal(t, 1, v.Len())

	v.Forget("trk_1")
	assert.Equal(t, 0, v.Len())

	status, _ := v.Peek("trk_1")
	assert.Equal(t, StatusUnverified, status)

	// The next observation starts a fresh window.
	status, _ = v.Observe("trk_1", "21CS042")
	assert.Equal(t, StatusVerifying, status)
}

func TestVerifierReap(t *testing.T) {
	t.Parallel()

	window := 3
	mode := ConfirmStrict
	clock := timeutil.NewMockClock(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	v := NewVerifier(&config.PipelineConfig{WindowSize: &window, ConfirmMode: &mode}, clock)

	v.Observe("trk_1", "21CS042")
	clock.Advance(90 * time.Second)
	v.Observe("trk_2", "21CS099")

	// Only trk_1 has gone quiet for longer than the timeout.
	removed := v.Reap(time.Minute)
	assert.Len(t, removed, 1)
	assert.Equal(t, "trk_1", removed[0].RollNo)
	assert.Equal(t, 1, v.Len())

	clock.Advance(2 * time.Minute)
	removed = v.Reap(time.Minute)
	assert.Len(t, removed, 1)
	assert.Equal(t, 0, v.Len())
}

func TestStatusString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "unverified", StatusUnverified.String())
	assert.Equal(t, "verifying", StatusVerifying.String())
	assert.Equal(t, "verified", StatusVerified.String())
	assert.Equal(t, "invalid", Status(99).String())
}
