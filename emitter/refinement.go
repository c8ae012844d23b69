package emitter

import "time"

// refinementState is one state of the progressive-refinement state
// machine: Idle -> Pending -> Armed -> ReadyToSend -> Idle.
type refinementState int

const (
	refinementIdle refinementState = iota
	refinementPending
	refinementArmed
	refinementReadyToSend
)

// minStableFrames is how many consecutive low-motion, non-delayed
// frames must pass while Pending before a refinement frame is armed.
const minStableFrames = 3

// minRefinementInterval is the minimum spacing between two refinement
// emissions.
const minRefinementInterval = 600 * time.Millisecond

// stableCoverageThreshold is the damage-coverage ceiling below which a
// frame counts toward stableFramesSinceMotion.
const stableCoverageThreshold = 0.03

type fsmInput struct {
	isKeyFrame    bool
	highMotion    bool
	delayedFrames int
	coverage      float64
	now           time.Time
}

// refinementFSM tracks whether the emitter owes the client a
// high-fidelity full-frame "refinement" pass once motion has settled.
type refinementFSM struct {
	state                   refinementState
	stableFramesSinceMotion int
	lastEmission            time.Time
	haveLastEmission        bool
}

func newRefinementFSM() *refinementFSM {
	return &refinementFSM{}
}

// readyToSend reports whether the current frame (the one just passed to
// observe) should be emitted as the refinement pass.
func (f *refinementFSM) readyToSend() bool {
	return f.state == refinementReadyToSend
}

// emitted must be called exactly once, right after a ReadyToSend frame
// is actually sent, to reset the state and record the emission time.
func (f *refinementFSM) emitted(now time.Time) {
	f.state = refinementIdle
	f.lastEmission = now
	f.haveLastEmission = true
}

// observe advances the state machine by one frame. A frame that
// completes the stable run only arms the refinement pass; it takes
// effect starting with the following frame, so the frame that
// satisfies minStableFrames is never itself the refinement frame.
func (f *refinementFSM) observe(in fsmInput) {
	if f.state == refinementArmed {
		f.state = refinementReadyToSend
	}

	if in.highMotion || in.delayedFrames >= 1 {
		f.state = refinementPending
		f.stableFramesSinceMotion = 0
		return
	}

	switch f.state {
	case refinementPending:
		if in.coverage <= stableCoverageThreshold && in.delayedFrames == 0 {
			f.stableFramesSinceMotion++
		} else {
			f.stableFramesSinceMotion = 0
		}

		if f.stableFramesSinceMotion >= minStableFrames &&
			in.delayedFrames == 0 &&
			!in.isKeyFrame &&
			(!f.haveLastEmission || in.now.Sub(f.lastEmission) >= minRefinementInterval) {
			f.state = refinementArmed
		}
	case refinementReadyToSend:
		// waiting for emitted() to be called by the caller
	case refinementIdle:
		// nothing pending, nothing to do
	}
}
