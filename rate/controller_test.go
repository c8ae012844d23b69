package rate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRateStaysWithinBoundsUnderChurn(t *testing.T) {
	c := New(nil, nil)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	samples := []Sample{
		{RttMs: 10, PrevRttMs: 10},
		{RttMs: 200, PrevRttMs: 10, DelayedFrames: 9, QueueDepth: 11},
		{RttMs: 15, PrevRttMs: 200},
		{RttMs: 500, PrevRttMs: 15, DelayedFrames: 20, QueueDepth: 30},
		{RttMs: 8, PrevRttMs: 500},
	}

	for _, s := range samples {
		clock = clock.Add(retargetInterval + time.Millisecond)
		c.OnRttSample(s)
		assert.GreaterOrEqual(t, c.FrameRate(), minFrameRate)
		assert.LessOrEqual(t, c.FrameRate(), maxFrameRate)
		assert.GreaterOrEqual(t, c.CongestionQPBias(), 0)
		assert.LessOrEqual(t, c.CongestionQPBias(), 8)
	}
}

func TestHeavyCongestionSnapsDownImmediately(t *testing.T) {
	c := New(nil, nil)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }
	c.current = 100

	c.OnRttSample(Sample{RttMs: 10, PrevRttMs: 10, DelayedFrames: 6, QueueDepth: 9})

	assert.LessOrEqual(t, c.FrameRate(), 10, "the penalized estimate puts the target at the floor and heavy congestion (delayedFrames>=2) snaps to it instead of stepping down by 5")
}

func TestGentleDecreaseStepsDownByAtMostFive(t *testing.T) {
	c := New(nil, nil)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }
	c.current = 60

	c.OnRttSample(Sample{RttMs: 40, PrevRttMs: 40})

	assert.GreaterOrEqual(t, c.FrameRate(), 55)
}

func TestIncreaseStepsUpByAtMostTwo(t *testing.T) {
	c := New(nil, nil)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }
	c.current = 5

	c.OnRttSample(Sample{RttMs: 5, PrevRttMs: 5})

	assert.LessOrEqual(t, c.FrameRate(), 7)
}

func TestRetargetOnlyOncePerSecond(t *testing.T) {
	changes := 0
	c := New(nil, func(int) { changes++ })
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	c.OnRttSample(Sample{RttMs: 5, PrevRttMs: 5})
	firstChanges := changes

	clock = clock.Add(100 * time.Millisecond)
	c.OnRttSample(Sample{RttMs: 5, PrevRttMs: 5})

	assert.Equal(t, firstChanges, changes, "no retarget before 1s has elapsed")
}

func TestCongestionBiasDecreasesByAtMostOnePerTick(t *testing.T) {
	c := New(nil, nil)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	c.OnRttSample(Sample{RttMs: 10, PrevRttMs: 10, DelayedFrames: 6})
	require.Equal(t, 8, c.CongestionQPBias())

	c.OnRttSample(Sample{RttMs: 10, PrevRttMs: 10})
	assert.Equal(t, 7, c.CongestionQPBias())
}

func TestCongestionBiasIncreasesInstantly(t *testing.T) {
	c := New(nil, nil)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	c.OnRttSample(Sample{RttMs: 10, PrevRttMs: 10})
	require.Equal(t, 0, c.CongestionQPBias())

	c.OnRttSample(Sample{RttMs: 10, PrevRttMs: 10, QueueDepth: 8})
	assert.Equal(t, 8, c.CongestionQPBias())
}
