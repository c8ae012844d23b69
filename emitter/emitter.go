// Package emitter drives the RDPEGFX one-time surface setup and the
// per-frame StartFrame/SurfaceCommand/EndFrame sequence, wiring
// together damage shaping, the quality selector, and the activity grid.
package emitter

import (
	"time"

	"go.uber.org/zap"

	"github.com/krdpgfx/core/damage"
	"github.com/krdpgfx/core/internal/rdpgfx"
	"github.com/krdpgfx/core/quality"
)

// highMotionCoverage is the damage-coverage ratio above which a frame is
// treated as high-motion regardless of rectangle count.
const highMotionCoverage = 0.15

// highMotionRectCount is the rectangle count above which a frame is
// treated as high-motion regardless of coverage.
const highMotionRectCount = 8

// maxFramesSinceFullDamage forces a full-frame refresh after this many
// consecutive partial-damage frames, bounding decoder drift.
const maxFramesSinceFullDamage = 8

// Frame is the shaped input the emitter turns into wire PDUs.
type Frame struct {
	Payload       []byte
	Size          rdpgfx.Size
	Damage        []rdpgfx.Rect // nil means full-frame
	IsKeyFrame    bool
	DelayedFrames int
}

// Clock abstracts wall-clock time for StartFrame timestamp packing and
// refinement-interval bookkeeping, so tests can control it.
type Clock func() time.Time

// Emitter owns the one-time surface setup, the monotonic frame/surface
// id counters, the damage-shaping and quality-selection pipeline, and
// the refinement state machine, and emits PDUs through a Transport.
type Emitter struct {
	log       *zap.SugaredLogger
	transport rdpgfx.Transport
	bandwidth rdpgfx.BandwidthMeasurer
	now       Clock

	activity *quality.Grid
	fsm      *refinementFSM

	codec  rdpgfx.Codec
	size   rdpgfx.Size
	hasSize bool

	pendingReset bool
	surfaceID    uint16
	nextSurface  uint16

	nextFrameID uint32

	framesSinceFullDamage int

	channelID    uint32
	hasChannelID bool

	congestionBias func() int

	onFrameSent func(frameID uint32)
}

// New creates an Emitter. transport delivers the wire PDUs; bandwidth
// may be nil if no throughput estimator is wired. congestionBias is
// consulted once per frame to read the rate controller's current
// congestion QP bias; it may be nil, in which case bias is always 0.
// onFrameSent, if non-nil, is invoked with every frame id right after
// StartFrame is emitted, so the ack handler can start tracking it.
func New(log *zap.SugaredLogger, transport rdpgfx.Transport, bandwidth rdpgfx.BandwidthMeasurer, congestionBias func() int, onFrameSent func(uint32)) *Emitter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Emitter{
		log:            log,
		transport:      transport,
		bandwidth:      bandwidth,
		now:            time.Now,
		activity:       &quality.Grid{},
		fsm:            newRefinementFSM(),
		codec:          rdpgfx.CodecAVC420,
		congestionBias: congestionBias,
		onFrameSent:    onFrameSent,
	}
}

// SetCodec records the codec negotiated by the capability negotiator.
func (e *Emitter) SetCodec(codec rdpgfx.Codec) { e.codec = codec }

// OnChannelIDAssigned records the RDPEGFX channel id assigned to this
// session, purely for diagnostics/log correlation.
func (e *Emitter) OnChannelIDAssigned(channelID uint32) {
	e.channelID = channelID
	e.hasChannelID = true
	e.log.Debugw("rdpegfx channel assigned", "channelID", channelID)
}

// RequestReset marks that the next frame must run the one-time
// ResetGraphics/CreateSurface/MapSurfaceToOutput setup sequence again,
// e.g. after a client-driven monitor layout change.
func (e *Emitter) RequestReset() {
	e.pendingReset = true
}

// Emit runs the full per-frame pipeline: lazily performing setup,
// shaping damage, scoring activity, selecting per-rectangle
// QP/quality, and emitting StartFrame/SurfaceCommand/EndFrame.
func (e *Emitter) Emit(f Frame) error {
	if f.Size.Empty() {
		return nil
	}

	if err := e.ensureSetup(f.Size); err != nil {
		return err
	}

	trackedDamage := f.Damage // pre-override list, used to boost activity

	damageCoverage := coverageOf(trackedDamage, f.Size)
	highMotion := damageCoverage >= highMotionCoverage || len(trackedDamage) > highMotionRectCount

	e.fsm.observe(fsmInput{
		isKeyFrame:    f.IsKeyFrame,
		highMotion:    highMotion,
		delayedFrames: f.DelayedFrames,
		coverage:      damageCoverage,
		now:           e.now(),
	})

	isRefinement := e.fsm.readyToSend()

	forceFullFrame := f.IsKeyFrame || isRefinement || damageCoverage >= highMotionCoverage ||
		f.DelayedFrames >= 1 || len(trackedDamage) > highMotionRectCount ||
		e.framesSinceFullDamage >= maxFramesSinceFullDamage

	var chosen []rdpgfx.Rect
	if forceFullFrame {
		chosen = nil
		e.framesSinceFullDamage = 0
	} else {
		chosen = damage.Shape(f.Damage, f.Size, false)
		e.framesSinceFullDamage++
	}

	e.activity.Decay()

	bias := 0
	if e.congestionBias != nil {
		bias = e.congestionBias()
	}

	regions, quants := e.selectQuality(chosen, f.Size, f.IsKeyFrame, isRefinement, bias)
	e.activity.Boost(trackedDamage)
	bbox := boundingBox(regions, f.Size)

	if e.bandwidth != nil {
		e.bandwidth.StartBandwidthMeasure()
		defer e.bandwidth.StopBandwidthMeasure()
	}

	frameID := e.nextFrameID
	e.nextFrameID++

	if err := e.transport.StartFrame(rdpgfx.StartFramePdu{
		FrameID:   frameID,
		Timestamp: packTimestamp(e.now()),
	}); err != nil {
		return err
	}
	if e.onFrameSent != nil {
		e.onFrameSent(frameID)
	}

	cmd := rdpgfx.SurfaceCommand{
		SurfaceID: e.surfaceID,
		CodecID:   e.codec.WireCodecID(),
		Format:    rdpgfx.PixelFormatBGRX32,
		Length:    0,
		Data:      nil,
		Left:      bbox.Left,
		Top:       bbox.Top,
		Right:     bbox.Right,
		Bottom:    bbox.Bottom,
		Extra: &rdpgfx.AvcBitmapStream{
			Data:             f.Payload,
			NumRegionRects:   uint16(len(regions)),
			RegionRects:      regions,
			QuantQualityVals: quants,
		},
	}
	if err := e.transport.SurfaceCommand(cmd); err != nil {
		return err
	}

	if isRefinement {
		e.fsm.emitted(e.now())
	}

	return e.transport.EndFrame(rdpgfx.EndFramePdu{FrameID: frameID})
}

func (e *Emitter) ensureSetup(size rdpgfx.Size) error {
	if e.hasSize && !e.pendingReset && e.size == size {
		return nil
	}

	if err := e.transport.ResetGraphics(rdpgfx.ResetGraphicsPdu{
		Width:        int32(size.Width),
		Height:       int32(size.Height),
		MonitorCount: 1,
		MonitorDefs: []rdpgfx.MonitorDef{
			{Left: 0, Top: 0, Right: int32(size.Width), Bottom: int32(size.Height), Flags: rdpgfx.MonitorPrimary},
		},
	}); err != nil {
		return err
	}

	e.nextSurface++
	e.surfaceID = e.nextSurface

	if err := e.transport.CreateSurface(rdpgfx.CreateSurfacePdu{
		SurfaceID:   e.surfaceID,
		Width:       uint16(size.Width),
		Height:      uint16(size.Height),
		PixelFormat: rdpgfx.PixelFormatXRGB8888,
	}); err != nil {
		return err
	}

	if err := e.transport.MapSurfaceToOutput(rdpgfx.MapSurfaceToOutputPdu{
		SurfaceID: e.surfaceID,
		OriginX:   0,
		OriginY:   0,
	}); err != nil {
		return err
	}

	e.size = size
	e.hasSize = true
	e.pendingReset = false
	e.activity.ResetIfSizeChanged(size)
	e.framesSinceFullDamage = 0
	return nil
}

// selectQuality builds the per-rectangle region/quant list. A nil
// chosen slice means full-frame: a single rectangle covering the
// surface.
func (e *Emitter) selectQuality(chosen []rdpgfx.Rect, size rdpgfx.Size, isKeyFrame, isRefinement bool, bias int) ([]rdpgfx.Rect, []rdpgfx.QuantQuality) {
	regions := chosen
	if len(regions) == 0 {
		regions = []rdpgfx.Rect{fullFrameRect(size)}
	}

	quants := make([]rdpgfx.QuantQuality, len(regions))
	for i, r := range regions {
		score := e.activity.Score(r)
		res := quality.Select(r, size, quality.Input{
			IsKeyFrame:        isKeyFrame,
			IsRefinementFrame: isRefinement,
			ActivityScore:     score,
			CongestionQPBias:  bias,
		})
		quants[i] = rdpgfx.QuantQuality{QP: uint8(res.QP), QualityVal: uint8(res.Quality)}
	}
	return regions, quants
}

func fullFrameRect(size rdpgfx.Size) rdpgfx.Rect {
	return rdpgfx.Rect{Left: 0, Top: 0, Right: clampCoord(size.Width), Bottom: clampCoord(size.Height)}
}

func clampCoord(v int) uint16 {
	if v < 0 {
		return 0
	}
	if v > rdpgfx.MaxRdpCoordinate {
		return rdpgfx.MaxRdpCoordinate
	}
	return uint16(v)
}

func coverageOf(rects []rdpgfx.Rect, size rdpgfx.Size) float64 {
	frameArea := size.Width * size.Height
	if frameArea <= 0 || len(rects) == 0 {
		return 1 // empty damage list means full-frame, i.e. full coverage
	}
	sum := 0
	for _, r := range rects {
		sum += r.Area()
	}
	return float64(sum) / float64(frameArea)
}

func boundingBox(rects []rdpgfx.Rect, size rdpgfx.Size) rdpgfx.Rect {
	if len(rects) == 0 {
		return fullFrameRect(size)
	}
	box := rects[0]
	for _, r := range rects[1:] {
		box = box.Union(r)
	}
	return box
}

func packTimestamp(t time.Time) uint32 {
	h, m, s := t.Clock()
	ms := t.Nanosecond() / int(time.Millisecond)
	return uint32(h)<<22 | uint32(m)<<16 | uint32(s)<<10 | uint32(ms)
}
