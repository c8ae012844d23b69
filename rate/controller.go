// Package rate implements the closed-loop frame-rate and congestion-QP
// controller driven by RTT, decoder backlog, and decode delay.
package rate

import (
	"time"

	"go.uber.org/zap"
)

const (
	minFrameRate = 5
	maxFrameRate = 120

	minEstimate = 5
	maxEstimate = 120

	retargetInterval = time.Second
	ringWindow       = time.Second

	maxStepUp   = 2
	maxStepDown = 5
)

// Sample is one RTT-estimator observation fed to the controller.
type Sample struct {
	RttMs         int
	PrevRttMs     int
	DelayedFrames int
	QueueDepth    int
}

type ringEntry struct {
	at       time.Time
	estimate float64
}

// Controller tracks the requested frame rate and congestion QP bias,
// recomputed on every RTT sample but retargeted at most once per second.
type Controller struct {
	log *zap.SugaredLogger
	now func() time.Time

	ring []ringEntry

	current      float64
	lastRetarget time.Time
	haveRetarget bool

	bias float64

	onFrameRateChanged func(int)
}

// New creates a Controller seeded at the minimum frame rate with zero
// congestion bias. onFrameRateChanged, if non-nil, is invoked whenever
// the requested frame rate actually changes.
func New(log *zap.SugaredLogger, onFrameRateChanged func(int)) *Controller {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Controller{
		log:                log,
		now:                time.Now,
		current:            minFrameRate,
		onFrameRateChanged: onFrameRateChanged,
	}
}

// FrameRate returns the currently requested frame rate.
func (c *Controller) FrameRate() int { return int(c.current) }

// CongestionQPBias returns the current bias fed into the quality
// selector. It never decreases qp and never increases quality (enforced
// by the selector itself), only nudges toward more aggressive
// compression under congestion.
func (c *Controller) CongestionQPBias() int { return int(c.bias) }

// OnRttSample processes one RTT-estimator update.
func (c *Controller) OnRttSample(s Sample) {
	rtt := s.RttMs
	if rtt < 1 {
		rtt = 1
	}
	rttRiseMs := clampInt(s.RttMs-s.PrevRttMs, 0, 1<<30)

	estimate := computeEstimate(rtt, s.DelayedFrames, s.QueueDepth, rttRiseMs)

	now := c.now()
	c.ring = append(c.ring, ringEntry{at: now, estimate: estimate})
	c.pruneRing(now)

	c.updateBias(s.DelayedFrames, s.QueueDepth, rttRiseMs)

	if !c.haveRetarget || now.Sub(c.lastRetarget) >= retargetInterval {
		c.retarget(now, s.DelayedFrames, s.QueueDepth, rttRiseMs)
	}
}

func computeEstimate(rttMs, delayedFrames, queueDepth, rttRiseMs int) float64 {
	baseline := 1000.0 / float64(rttMs)
	delayPenalty := 1 + 0.75*float64(delayedFrames)
	queuePenalty := 1 + 0.25*float64(minInt(queueDepth, 12))
	trendPenalty := 1 + float64(clampInt(rttRiseMs, 0, 20))/20

	estimate := baseline / (delayPenalty * queuePenalty * trendPenalty)
	return clampFloat(estimate, minEstimate, maxEstimate)
}

func (c *Controller) pruneRing(now time.Time) {
	cutoff := now.Add(-ringWindow)
	i := 0
	for i < len(c.ring) && c.ring[i].at.Before(cutoff) {
		i++
	}
	c.ring = c.ring[i:]
}

func (c *Controller) averageEstimate() float64 {
	if len(c.ring) == 0 {
		return c.current
	}
	sum := 0.0
	for _, e := range c.ring {
		sum += e.estimate
	}
	return sum / float64(len(c.ring))
}

func (c *Controller) retarget(now time.Time, delayedFrames, queueDepth, rttRiseMs int) {
	c.lastRetarget = now
	c.haveRetarget = true

	average := c.averageEstimate()
	target := clampFloat(0.8*average, minFrameRate, maxFrameRate)
	target = applyHardClamps(target, delayedFrames, queueDepth, rttRiseMs)

	next := c.current
	switch {
	case target < c.current:
		if heavyCongestion(delayedFrames, queueDepth, rttRiseMs) {
			next = target
		} else {
			next = c.current - minFloat(maxStepDown, c.current-target)
		}
	case target > c.current:
		next = c.current + minFloat(maxStepUp, target-c.current)
	}
	next = clampFloat(next, minFrameRate, maxFrameRate)

	if next != c.current {
		c.current = next
		if c.onFrameRateChanged != nil {
			c.onFrameRateChanged(int(next))
		}
	}
}

// applyHardClamps enforces the ordered, most-severe-first ceilings.
func applyHardClamps(target float64, delayedFrames, queueDepth, rttRiseMs int) float64 {
	switch {
	case delayedFrames >= 8 || queueDepth >= 10:
		return minFloat(target, 10)
	case delayedFrames >= 4 || queueDepth >= 6:
		return minFloat(target, 20)
	case delayedFrames >= 2 || queueDepth >= 3:
		return minFloat(target, 30)
	}
	switch {
	case rttRiseMs >= 12:
		return minFloat(target, 24)
	case rttRiseMs >= 6:
		return minFloat(target, 36)
	}
	return target
}

func heavyCongestion(delayedFrames, queueDepth, rttRiseMs int) bool {
	return delayedFrames >= 2 || queueDepth >= 3 || rttRiseMs >= 8
}

func (c *Controller) updateBias(delayedFrames, queueDepth, rttRiseMs int) {
	target := biasTarget(delayedFrames, queueDepth, rttRiseMs)
	if target >= c.bias {
		c.bias = target
	} else {
		c.bias = maxFloat(target, c.bias-1)
	}
}

func biasTarget(delayedFrames, queueDepth, rttRiseMs int) float64 {
	switch {
	case delayedFrames >= 6 || queueDepth >= 8 || rttRiseMs >= 12:
		return 8
	case delayedFrames >= 3 || queueDepth >= 5 || rttRiseMs >= 8:
		return 5
	case delayedFrames >= 1 || queueDepth >= 2 || rttRiseMs >= 4:
		return 2
	default:
		return 0
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
