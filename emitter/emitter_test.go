package emitter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krdpgfx/core/internal/rdpgfx"
	"github.com/krdpgfx/core/quality"
)

type fakeTransport struct {
	resetGraphics      []rdpgfx.ResetGraphicsPdu
	createSurface      []rdpgfx.CreateSurfacePdu
	mapSurfaceToOutput []rdpgfx.MapSurfaceToOutputPdu
	startFrame         []rdpgfx.StartFramePdu
	surfaceCommand     []rdpgfx.SurfaceCommand
	endFrame           []rdpgfx.EndFramePdu
}

func (f *fakeTransport) ResetGraphics(p rdpgfx.ResetGraphicsPdu) error {
	f.resetGraphics = append(f.resetGraphics, p)
	return nil
}
func (f *fakeTransport) CreateSurface(p rdpgfx.CreateSurfacePdu) error {
	f.createSurface = append(f.createSurface, p)
	return nil
}
func (f *fakeTransport) MapSurfaceToOutput(p rdpgfx.MapSurfaceToOutputPdu) error {
	f.mapSurfaceToOutput = append(f.mapSurfaceToOutput, p)
	return nil
}
func (f *fakeTransport) CapsConfirm(rdpgfx.CapsConfirmPdu) error { return nil }
func (f *fakeTransport) StartFrame(p rdpgfx.StartFramePdu) error {
	f.startFrame = append(f.startFrame, p)
	return nil
}
func (f *fakeTransport) SurfaceCommand(p rdpgfx.SurfaceCommand) error {
	f.surfaceCommand = append(f.surfaceCommand, p)
	return nil
}
func (f *fakeTransport) EndFrame(p rdpgfx.EndFramePdu) error {
	f.endFrame = append(f.endFrame, p)
	return nil
}

func newTestEmitter() (*Emitter, *fakeTransport) {
	tr := &fakeTransport{}
	e := New(nil, tr, nil, nil, nil)
	return e, tr
}

func TestEmitRunsSetupSequenceOnFirstFrame(t *testing.T) {
	e, tr := newTestEmitter()
	err := e.Emit(Frame{Payload: []byte("x"), Size: rdpgfx.Size{Width: 1920, Height: 1080}, IsKeyFrame: true})
	require.NoError(t, err)

	require.Len(t, tr.resetGraphics, 1)
	assert.EqualValues(t, 1920, tr.resetGraphics[0].Width)
	require.Len(t, tr.createSurface, 1)
	assert.EqualValues(t, 1, tr.createSurface[0].SurfaceID)
	require.Len(t, tr.mapSurfaceToOutput, 1)
}

func TestEmitSkipsSetupOnSubsequentFramesOfSameSize(t *testing.T) {
	e, tr := newTestEmitter()
	size := rdpgfx.Size{Width: 800, Height: 600}
	require.NoError(t, e.Emit(Frame{Payload: []byte("x"), Size: size, IsKeyFrame: true}))
	require.NoError(t, e.Emit(Frame{Payload: []byte("y"), Size: size}))

	assert.Len(t, tr.resetGraphics, 1)
	assert.Len(t, tr.createSurface, 1)
	assert.Len(t, tr.startFrame, 2)
}

func TestEmitRerunsSetupOnSizeChange(t *testing.T) {
	e, tr := newTestEmitter()
	require.NoError(t, e.Emit(Frame{Payload: []byte("x"), Size: rdpgfx.Size{Width: 800, Height: 600}, IsKeyFrame: true}))
	require.NoError(t, e.Emit(Frame{Payload: []byte("y"), Size: rdpgfx.Size{Width: 1024, Height: 768}, IsKeyFrame: true}))

	assert.Len(t, tr.resetGraphics, 2)
	assert.Len(t, tr.createSurface, 2)
	assert.EqualValues(t, 2, tr.createSurface[1].SurfaceID)
}

func TestEmitRerunsSetupOnExplicitReset(t *testing.T) {
	e, tr := newTestEmitter()
	size := rdpgfx.Size{Width: 800, Height: 600}
	require.NoError(t, e.Emit(Frame{Payload: []byte("x"), Size: size, IsKeyFrame: true}))
	e.RequestReset()
	require.NoError(t, e.Emit(Frame{Payload: []byte("y"), Size: size, IsKeyFrame: true}))

	assert.Len(t, tr.resetGraphics, 2)
}

func TestEmitKeyFrameUsesFullFrameDamage(t *testing.T) {
	e, tr := newTestEmitter()
	size := rdpgfx.Size{Width: 800, Height: 600}
	require.NoError(t, e.Emit(Frame{
		Payload:    []byte("x"),
		Size:       size,
		IsKeyFrame: true,
		Damage:     []rdpgfx.Rect{{Left: 10, Top: 10, Right: 20, Bottom: 20}},
	}))

	require.Len(t, tr.surfaceCommand, 1)
	cmd := tr.surfaceCommand[0]
	assert.Equal(t, uint16(0), cmd.Left)
	assert.Equal(t, uint16(0), cmd.Top)
	assert.EqualValues(t, 800, cmd.Right)
	assert.EqualValues(t, 600, cmd.Bottom)
}

func TestEmitSmallDamageUsesPartialRegion(t *testing.T) {
	e, tr := newTestEmitter()
	size := rdpgfx.Size{Width: 800, Height: 600}
	require.NoError(t, e.Emit(Frame{Payload: []byte("x"), Size: size, IsKeyFrame: true}))

	require.NoError(t, e.Emit(Frame{
		Payload: []byte("y"),
		Size:    size,
		Damage:  []rdpgfx.Rect{{Left: 10, Top: 10, Right: 20, Bottom: 20}},
	}))

	cmd := tr.surfaceCommand[1]
	assert.Less(t, int(cmd.Right-cmd.Left), 800)
	require.NotNil(t, cmd.Extra)
	assert.Len(t, cmd.Extra.RegionRects, 1)
}

func TestEmitFramesSinceFullDamageForcesPeriodicRefresh(t *testing.T) {
	e, tr := newTestEmitter()
	size := rdpgfx.Size{Width: 800, Height: 600}
	require.NoError(t, e.Emit(Frame{Payload: []byte("x"), Size: size, IsKeyFrame: true}))

	tiny := []rdpgfx.Rect{{Left: 0, Top: 0, Right: 2, Bottom: 2}}
	// The key frame's full coverage puts the refinement FSM in Pending, so
	// the tiny frame after minStableFrames stable ones is a full-frame
	// refinement pass that resets the counter; the periodic refresh then
	// fires after maxFramesSinceFullDamage further partial frames.
	for i := 0; i < minStableFrames+1+maxFramesSinceFullDamage+1; i++ {
		require.NoError(t, e.Emit(Frame{Payload: []byte("y"), Size: size, Damage: tiny}))
	}

	last := tr.surfaceCommand[len(tr.surfaceCommand)-1]
	assert.EqualValues(t, 800, last.Right, "periodic full-frame refresh should have fired by now")
}

func TestEmitHighMotionForcesFullFrame(t *testing.T) {
	e, tr := newTestEmitter()
	size := rdpgfx.Size{Width: 800, Height: 600}
	require.NoError(t, e.Emit(Frame{Payload: []byte("x"), Size: size, IsKeyFrame: true}))

	manyRects := make([]rdpgfx.Rect, 0, 9)
	for i := 0; i < 9; i++ {
		manyRects = append(manyRects, rdpgfx.Rect{Left: uint16(i * 10), Top: 0, Right: uint16(i*10 + 5), Bottom: 5})
	}
	require.NoError(t, e.Emit(Frame{Payload: []byte("y"), Size: size, Damage: manyRects}))

	last := tr.surfaceCommand[len(tr.surfaceCommand)-1]
	assert.EqualValues(t, 800, last.Right)
}

func TestEmitDelayedFramesForcesFullFrame(t *testing.T) {
	e, tr := newTestEmitter()
	size := rdpgfx.Size{Width: 800, Height: 600}
	require.NoError(t, e.Emit(Frame{Payload: []byte("x"), Size: size, IsKeyFrame: true}))

	require.NoError(t, e.Emit(Frame{
		Payload:       []byte("y"),
		Size:          size,
		Damage:        []rdpgfx.Rect{{Left: 10, Top: 10, Right: 20, Bottom: 20}},
		DelayedFrames: 1,
	}))

	last := tr.surfaceCommand[len(tr.surfaceCommand)-1]
	assert.EqualValues(t, 800, last.Right)
}

func TestEmitFrameIDsAreMonotonic(t *testing.T) {
	e, tr := newTestEmitter()
	size := rdpgfx.Size{Width: 800, Height: 600}
	for i := 0; i < 3; i++ {
		require.NoError(t, e.Emit(Frame{Payload: []byte("x"), Size: size, IsKeyFrame: true}))
	}

	require.Len(t, tr.startFrame, 3)
	assert.Equal(t, uint32(0), tr.startFrame[0].FrameID)
	assert.Equal(t, uint32(1), tr.startFrame[1].FrameID)
	assert.Equal(t, uint32(2), tr.startFrame[2].FrameID)
	assert.Equal(t, tr.startFrame[2].FrameID, tr.endFrame[2].FrameID)
}

func TestEmitInvokesOnFrameSentCallback(t *testing.T) {
	var sent []uint32
	tr := &fakeTransport{}
	e := New(nil, tr, nil, nil, func(id uint32) { sent = append(sent, id) })

	require.NoError(t, e.Emit(Frame{Payload: []byte("x"), Size: rdpgfx.Size{Width: 800, Height: 600}, IsKeyFrame: true}))
	require.Len(t, sent, 1)
	assert.Equal(t, uint32(0), sent[0])
}

func TestEmitAppliesCongestionBias(t *testing.T) {
	tr := &fakeTransport{}
	e := New(nil, tr, nil, func() int { return 8 }, nil)
	size := rdpgfx.Size{Width: 800, Height: 600}
	require.NoError(t, e.Emit(Frame{Payload: []byte("x"), Size: size, IsKeyFrame: true}))

	cmd := tr.surfaceCommand[0]
	require.NotEmpty(t, cmd.Extra.QuantQualityVals)
	// key frame always uses defaults regardless of bias
	assert.EqualValues(t, 22, cmd.Extra.QuantQualityVals[0].QP)
}

func TestEmitEmptySizeIsNoop(t *testing.T) {
	e, tr := newTestEmitter()
	require.NoError(t, e.Emit(Frame{Payload: []byte("x"), Size: rdpgfx.Size{}}))
	assert.Empty(t, tr.startFrame)
}

func TestEmitBracketsBandwidthMeasurement(t *testing.T) {
	tr := &fakeTransport{}
	bw := &fakeBandwidth{}
	e := New(nil, tr, bw, nil, nil)
	require.NoError(t, e.Emit(Frame{Payload: []byte("x"), Size: rdpgfx.Size{Width: 800, Height: 600}, IsKeyFrame: true}))

	assert.Equal(t, 1, bw.starts)
	assert.Equal(t, 1, bw.stops)
}

type fakeBandwidth struct {
	starts, stops int
}

func (f *fakeBandwidth) StartBandwidthMeasure() { f.starts++ }
func (f *fakeBandwidth) StopBandwidthMeasure()  { f.stops++ }

func TestEmitRefinementFrameUsesRefinementQuality(t *testing.T) {
	tr := &fakeTransport{}
	e := New(nil, tr, nil, nil, nil)
	size := rdpgfx.Size{Width: 800, Height: 600}
	now := time.Now()
	e.now = func() time.Time { return now }

	require.NoError(t, e.Emit(Frame{Payload: []byte("x"), Size: size, IsKeyFrame: true}))

	tiny := []rdpgfx.Rect{{Left: 0, Top: 0, Right: 1, Bottom: 1}}
	// The frame that completes the stable run only arms the refinement
	// pass; it is delivered starting with the frame after it.
	for i := 0; i < minStableFrames+1; i++ {
		now = now.Add(700 * time.Millisecond)
		require.NoError(t, e.Emit(Frame{Payload: []byte("y"), Size: size, Damage: tiny}))
	}

	last := tr.surfaceCommand[len(tr.surfaceCommand)-1]
	assert.EqualValues(t, quality.RefinementQP, last.Extra.QuantQualityVals[0].QP)
}
