// Package stream provides the per-client session facade: it owns the
// submission worker, the metadata pairer, the emitter, the capability
// negotiator, the ack handler and the rate controller, and wires them
// together into the public operations a transport-level RDPEGFX channel
// implementation drives.
package stream

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/krdpgfx/core/ack"
	"github.com/krdpgfx/core/caps"
	"github.com/krdpgfx/core/emitter"
	"github.com/krdpgfx/core/internal/rdpgfx"
	"github.com/krdpgfx/core/pairing"
	"github.com/krdpgfx/core/rate"
	"github.com/krdpgfx/core/submit"
)

// CloseReason enumerates why a Session closed. It mirrors the one
// fatal reason this core is responsible for producing; the rest of
// RdpConnection::CloseReason belongs to session lifecycle outside this
// core's scope.
type CloseReason int

const (
	// CloseReasonClientRequested means the caller initiated Close.
	CloseReasonClientRequested CloseReason = iota
	// CloseReasonVideoInitFailed means capability negotiation found no
	// advertised capset supporting AVC420/YUV420.
	CloseReasonVideoInitFailed
)

func (r CloseReason) String() string {
	switch r {
	case CloseReasonVideoInitFailed:
		return "VideoInitFailed"
	default:
		return "ClientRequested"
	}
}

// state is the session's lifecycle state.
type state int

const (
	stateCreated state = iota
	stateStreaming
	stateClosed
)

// Callbacks are the events the session facade raises. Any of them may
// be nil.
type Callbacks struct {
	OnClosed func(reason CloseReason)
}

// Session is a single client's RDPEGFX graphics pipeline core. It is
// safe for concurrent use: queueFrame and the metadata/ack callbacks
// may be invoked from different goroutines, matching the concurrency
// model of capture thread vs. transport I/O thread.
type Session struct {
	id  string
	log *zap.SugaredLogger

	mu      sync.Mutex
	state   state
	enabled bool

	transport rdpgfx.Transport
	wants     caps.Wants

	negotiator *caps.Negotiator
	pairer     *pairing.Pairer
	worker     *submit.Worker
	emitter    *emitter.Emitter
	ackHandler *ack.Handler
	rate       *rate.Controller

	callbacks Callbacks

	workerStop chan struct{}
	workerDone chan struct{}

	lastRttMs             int
	lastDelayedFrames     int
	lastDecoderQueueDepth int
}

// New creates a Session bound to transport and bw (which may be nil).
// wants carries the codec preference booleans and local-encoder-support
// flag read once by the caller from config/environment.
func New(log *zap.SugaredLogger, transport rdpgfx.Transport, bw rdpgfx.BandwidthMeasurer, wants caps.Wants, callbacks Callbacks) *Session {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	id := uuid.New().String()[:8]
	sessionLog := log.With("session", id)

	s := &Session{
		id:         id,
		log:        sessionLog,
		transport:  transport,
		wants:      wants,
		negotiator: caps.New(sessionLog),
		ackHandler: ack.New(sessionLog),
		callbacks:  callbacks,
	}

	s.rate = rate.New(sessionLog, s.onFrameRateChanged)
	s.emitter = emitter.New(sessionLog, transport, bw, s.rate.CongestionQPBias, s.ackHandler.FrameSent)
	s.pairer = pairing.New(sessionLog, s.onPairedFrame)
	s.worker = submit.New(sessionLog, s.rate.FrameRate, s.onWorkerFrame)

	return s
}

// Initialize is idempotent after success: it has no setup of its own
// beyond marking the session Streaming and starting the worker, since
// RDPEGFX channel-open and ack/caps callback registration are owned by
// the transport-level collaborator that constructs a Session.
func (s *Session) Initialize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateCreated {
		return
	}
	s.state = stateStreaming
	s.enabled = true

	s.workerStop = make(chan struct{})
	s.workerDone = make(chan struct{})
	go func() {
		s.worker.Run(s.workerStop)
		close(s.workerDone)
	}()
}

// Close stops the worker, marks the session closed, and emits the
// closed callback. Calling Close more than once is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return
	}
	s.state = stateClosed
	stop := s.workerStop
	done := s.workerDone
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	if s.callbacks.OnClosed != nil {
		s.callbacks.OnClosed(CloseReasonClientRequested)
	}
}

// QueueFrame enqueues an encoded packet for pairing and eventual
// submission. It is a no-op unless the session is Streaming and
// enabled.
func (s *Session) QueueFrame(pkt pairing.Packet) {
	s.mu.Lock()
	streaming := s.state == stateStreaming && s.enabled
	s.mu.Unlock()
	if !streaming {
		return
	}
	s.pairer.PushPacket(pkt)
}

// FrameMetadata forwards capture-supplied per-frame metadata to the
// pairer.
func (s *Session) FrameMetadata(meta pairing.Metadata) {
	s.pairer.PushMetadata(meta)
}

// SizeChanged updates the frame size used for full-frame damage when
// metadata carries none.
func (s *Session) SizeChanged(size rdpgfx.Size) {
	s.pairer.SizeChanged(size)
}

// MetadataSignalAvailable records whether a metadata callback has
// connected to the capture source.
func (s *Session) MetadataSignalAvailable(available bool) {
	s.pairer.SetMetadataSignalAvailable(available)
}

// SetEnabled toggles whether queued frames are accepted. Disabling
// purges the worker's queue.
func (s *Session) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
	if !enabled {
		s.worker.Purge()
	}
}

// Reset marks that the next frame must rerun the emitter's one-time
// surface setup sequence.
func (s *Session) Reset() {
	s.emitter.RequestReset()
}

// RequestedFrameRate is the observable pacing hint the capture source
// should use.
func (s *Session) RequestedFrameRate() int {
	return s.rate.FrameRate()
}

// OnChannelIDAssigned records the RDPEGFX channel id for diagnostics
// correlation.
func (s *Session) OnChannelIDAssigned(channelID uint32) {
	s.emitter.OnChannelIDAssigned(channelID)
}

// HandleCapsAdvertise runs capability negotiation and, on success,
// confirms the winning capset and records the selected codec on the
// emitter. On failure it closes the session with CloseReasonVideoInitFailed
// and returns the error so the caller can surface an initialization
// failure to the RDP stack.
func (s *Session) HandleCapsAdvertise(pdu rdpgfx.CapsAdvertisePdu) error {
	res, err := s.negotiator.Negotiate(pdu.CapsSets, s.wants)
	if err != nil {
		s.log.Warnw("caps negotiation failed", "err", err)
		s.closeWithReason(CloseReasonVideoInitFailed)
		return fmt.Errorf("rdpegfx session init: %w", err)
	}

	s.emitter.SetCodec(res.SelectedCodec)
	return s.transport.CapsConfirm(rdpgfx.CapsConfirmPdu{CapSet: res.WinningCapset})
}

func (s *Session) closeWithReason(reason CloseReason) {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return
	}
	s.state = stateClosed
	stop := s.workerStop
	done := s.workerDone
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	if s.callbacks.OnClosed != nil {
		s.callbacks.OnClosed(reason)
	}
}

// HandleFrameAcknowledge processes a client frame-acknowledge PDU. The
// resulting delay/queue-depth figures are cached and folded into the
// next RTT-triggered rate recompute, since the rate controller only
// recomputes on RTT change, not on every ack.
func (s *Session) HandleFrameAcknowledge(pdu rdpgfx.FrameAcknowledgePdu) {
	sample := s.ackHandler.HandleFrameAcknowledge(pdu)
	if sample.Suspended {
		s.worker.Purge()
	}
	s.mu.Lock()
	s.lastDelayedFrames = sample.FrameDelay
	s.lastDecoderQueueDepth = sample.DecoderQueueDepth
	s.mu.Unlock()
}

// HandleQoeFrameAcknowledge processes a client QoE-acknowledge PDU.
// Accepted and otherwise ignored.
func (s *Session) HandleQoeFrameAcknowledge(pdu rdpgfx.QoeFrameAcknowledgePdu) {
	s.ackHandler.HandleQoeFrameAcknowledge(pdu)
}

// OnRttSample forwards a transport-level RTT estimator update to the
// rate controller, combined with the delayed-frames/queue-depth figures
// most recently observed from FrameAcknowledge PDUs. The transport
// layer is responsible for computing RTT itself; this core only reacts
// to it.
func (s *Session) OnRttSample(rttMs int) {
	s.mu.Lock()
	prev := s.lastRttMs
	s.lastRttMs = rttMs
	delayed := s.lastDelayedFrames
	queue := s.lastDecoderQueueDepth
	s.mu.Unlock()

	s.rate.OnRttSample(rate.Sample{
		RttMs:         rttMs,
		PrevRttMs:     prev,
		DelayedFrames: delayed,
		QueueDepth:    queue,
	})
}

func (s *Session) onFrameRateChanged(fps int) {
	s.log.Debugw("requested frame rate changed", "fps", fps)
}

// onPairedFrame is the pairer's emit callback: it hands the paired
// frame to the submission worker, applying the hard queue cap there.
func (s *Session) onPairedFrame(pf pairing.PairedFrame) {
	s.worker.Enqueue(emitterFrame{
		payload:  pf.Packet.Payload,
		size:     pf.Size,
		damage:   pf.Damage,
		keyFrame: pf.Packet.IsKeyFrame,
	})
}

// onWorkerFrame is the worker's submit callback: it hands the chosen
// frame to the emitter.
func (s *Session) onWorkerFrame(f submit.Frame) {
	ef, ok := f.(emitterFrame)
	if !ok {
		s.log.Warnw("submission worker produced an unexpected frame type")
		return
	}
	s.mu.Lock()
	delayed := s.lastDelayedFrames
	s.mu.Unlock()

	if err := s.emitter.Emit(emitter.Frame{
		Payload:       ef.payload,
		Size:          ef.size,
		Damage:        ef.damage,
		IsKeyFrame:    ef.keyFrame,
		DelayedFrames: delayed,
	}); err != nil {
		s.log.Warnw("frame emission failed", "err", err)
	}
}

type emitterFrame struct {
	payload  []byte
	size     rdpgfx.Size
	damage   []rdpgfx.Rect
	keyFrame bool
}

// ErrSessionClosed names the error for an operation attempted on a
// closed session. No Session method returns it: QueueFrame on a closed
// session is a silent no-op.
var ErrSessionClosed = errors.New("session is closed")
