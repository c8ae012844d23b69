// Package ack tracks in-flight frames and processes the client's
// FrameAcknowledge/QoeFrameAcknowledge PDUs.
package ack

import (
	"go.uber.org/zap"

	"github.com/krdpgfx/core/internal/rdpgfx"
)

// maxDecoderQueueDepth is the saturation ceiling applied when the
// client reports a queue depth.
const maxDecoderQueueDepth = 16

// Sample is what the handler reports back to the rate controller for
// every acknowledged frame.
type Sample struct {
	FrameID           uint32
	FrameDelay        int // encodedFrames - totalFramesDecoded at ack time
	DecoderQueueDepth int
	Suspended         bool
}

// Handler correlates outgoing frame IDs with their acknowledgements,
// tracks how many frames this core has sent so far, and computes the
// per-ack frame delay the rate controller consumes.
type Handler struct {
	log *zap.SugaredLogger

	pending       map[uint32]struct{}
	encodedFrames uint32
}

// New creates a Handler.
func New(log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{
		log:     log,
		pending: make(map[uint32]struct{}),
	}
}

// FrameSent records that frameID was just submitted to the wire.
func (h *Handler) FrameSent(frameID uint32) {
	h.pending[frameID] = struct{}{}
	h.encodedFrames++
}

// Reset discards all in-flight bookkeeping, e.g. after a surface reset.
func (h *Handler) Reset() {
	h.pending = make(map[uint32]struct{})
	h.encodedFrames = 0
}

// Pending returns the number of frames sent but not yet acknowledged.
func (h *Handler) Pending() int { return len(h.pending) }

// HandleFrameAcknowledge processes a RDPGFX_FRAME_ACKNOWLEDGE_PDU. A
// frame ID with no matching pending entry is logged and ignored (the
// PDU itself is still valid per MS-RDPEGFX and must not error out the
// channel). The SUSPEND_FRAME_ACKNOWLEDGEMENT sentinel in queueDepth
// tells this core the client wants no further frames until explicitly
// resumed, and is reported as a saturated decoder queue depth;
// QUEUE_DEPTH_UNAVAILABLE means the field simply was not
// populated, and the previously known depth is left unreported.
func (h *Handler) HandleFrameAcknowledge(pdu rdpgfx.FrameAcknowledgePdu) Sample {
	if _, ok := h.pending[pdu.FrameID]; !ok {
		h.log.Warnw("frame acknowledge for unknown or already-acked frame", "frameID", pdu.FrameID)
		return Sample{FrameID: pdu.FrameID}
	}
	delete(h.pending, pdu.FrameID)

	s := Sample{
		FrameID:    pdu.FrameID,
		FrameDelay: int(h.encodedFrames) - int(pdu.TotalFramesDecoded),
	}

	switch {
	case pdu.QueueDepth == rdpgfx.SuspendFrameAcknowledgement:
		s.Suspended = true
		s.DecoderQueueDepth = maxDecoderQueueDepth
	case pdu.QueueDepth == rdpgfx.QueueDepthUnavailable:
		// leave DecoderQueueDepth unreported
	default:
		depth := int(pdu.QueueDepth)
		if depth > maxDecoderQueueDepth {
			depth = maxDecoderQueueDepth
		}
		s.DecoderQueueDepth = depth
	}

	return s
}

// HandleQoeFrameAcknowledge processes a RDPGFX_QOE_FRAME_ACKNOWLEDGE_PDU.
// This core has no per-frame QoE metric to act on yet; the PDU is
// simply accepted and otherwise ignored.
func (h *Handler) HandleQoeFrameAcknowledge(pdu rdpgfx.QoeFrameAcknowledgePdu) {
	h.log.Debugw("qoe frame acknowledge received", "frameID", pdu.FrameID)
}
