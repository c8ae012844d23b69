package cmd

import (
	"math/rand"
	"time"

	"github.com/krdpgfx/core/internal/rdpgfx"
	"github.com/krdpgfx/core/pairing"
	"github.com/krdpgfx/core/stream"
)

// syntheticCapture feeds a stream.Session with generated packets and
// metadata at a fixed rate, standing in for the real desktop-capture
// pipeline this core depends on only through callbacks.
type syntheticCapture struct {
	session        *stream.Session
	size           rdpgfx.Size
	keyFrameEveryN int
	rng            *rand.Rand

	frameCount int
}

func newSyntheticCapture(session *stream.Session, size rdpgfx.Size, keyFrameEveryN int) *syntheticCapture {
	return &syntheticCapture{
		session:        session,
		size:           size,
		keyFrameEveryN: keyFrameEveryN,
		rng:            rand.New(rand.NewSource(1)),
	}
}

// Run feeds one frame every interval until stop is closed.
func (c *syntheticCapture) Run(stop <-chan struct{}, interval time.Duration) {
	c.session.SizeChanged(c.size)
	c.session.MetadataSignalAvailable(true)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.emitOne()
		}
	}
}

func (c *syntheticCapture) emitOne() {
	isKeyFrame := c.keyFrameEveryN > 0 && c.frameCount%c.keyFrameEveryN == 0
	c.frameCount++

	damage := c.randomDamage()

	c.session.FrameMetadata(pairing.Metadata{
		Damage: pairing.OptionalRects{Ok: true, Value: damage},
	})
	c.session.QueueFrame(pairing.Packet{
		Payload:    []byte{0x00}, // placeholder bitstream; this harness never decodes it
		IsKeyFrame: isKeyFrame,
	})
}

// randomDamage returns a handful of small rectangles scattered across
// the frame, simulating low-to-moderate motion.
func (c *syntheticCapture) randomDamage() []rdpgfx.Rect {
	n := 1 + c.rng.Intn(4)
	rects := make([]rdpgfx.Rect, 0, n)
	for i := 0; i < n; i++ {
		w, h := 16+c.rng.Intn(48), 16+c.rng.Intn(48)
		left := c.rng.Intn(maxInt(c.size.Width-w, 1))
		top := c.rng.Intn(maxInt(c.size.Height-h, 1))
		rects = append(rects, rdpgfx.Rect{
			Left:   uint16(left),
			Top:    uint16(top),
			Right:  uint16(left + w),
			Bottom: uint16(top + h),
		})
	}
	return rects
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
