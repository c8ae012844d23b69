package cmd

import (
	"go.uber.org/zap"

	"github.com/krdpgfx/core/internal/rdpgfx"
)

// loggingTransport is a loopback rdpgfx.Transport that just logs every
// PDU it receives, standing in for the real RDP virtual-channel
// plumbing this core depends on only through the interface.
type loggingTransport struct {
	log *zap.SugaredLogger
}

func newLoggingTransport(log *zap.SugaredLogger) *loggingTransport {
	return &loggingTransport{log: log}
}

func (t *loggingTransport) ResetGraphics(p rdpgfx.ResetGraphicsPdu) error {
	t.log.Infow("ResetGraphics", "width", p.Width, "height", p.Height)
	return nil
}

func (t *loggingTransport) CreateSurface(p rdpgfx.CreateSurfacePdu) error {
	t.log.Infow("CreateSurface", "surfaceID", p.SurfaceID, "width", p.Width, "height", p.Height)
	return nil
}

func (t *loggingTransport) MapSurfaceToOutput(p rdpgfx.MapSurfaceToOutputPdu) error {
	t.log.Infow("MapSurfaceToOutput", "surfaceID", p.SurfaceID)
	return nil
}

func (t *loggingTransport) CapsConfirm(p rdpgfx.CapsConfirmPdu) error {
	t.log.Infow("CapsConfirm", "version", p.CapSet.Version)
	return nil
}

func (t *loggingTransport) StartFrame(p rdpgfx.StartFramePdu) error {
	t.log.Debugw("StartFrame", "frameID", p.FrameID)
	return nil
}

func (t *loggingTransport) SurfaceCommand(p rdpgfx.SurfaceCommand) error {
	numRects := 0
	if p.Extra != nil {
		numRects = len(p.Extra.RegionRects)
	}
	t.log.Debugw("SurfaceCommand", "codecID", p.CodecID, "regionRects", numRects,
		"bbox", [4]uint16{p.Left, p.Top, p.Right, p.Bottom})
	return nil
}

func (t *loggingTransport) EndFrame(p rdpgfx.EndFramePdu) error {
	t.log.Debugw("EndFrame", "frameID", p.FrameID)
	return nil
}

func (t *loggingTransport) StartBandwidthMeasure() {
	t.log.Debugw("StartBandwidthMeasure")
}

func (t *loggingTransport) StopBandwidthMeasure() {
	t.log.Debugw("StopBandwidthMeasure")
}
