// Package pairing matches encoded video packets with their per-frame
// damage metadata, degrading gracefully to full-frame emission when
// metadata is absent, late, or disabled entirely.
package pairing

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/krdpgfx/core/internal/rdpgfx"
)

// MaxPacketQueueWithoutMetadata is the packet queue bound once no
// matching metadata has arrived within budget.
const MaxPacketQueueWithoutMetadata = 8

// MaxMetadataQueue is the metadata queue's capacity; the oldest entry is
// dropped on overflow.
const MaxMetadataQueue = 128

// MetadataWaitBudget is how long the pairer will hold a packet waiting
// for its matching metadata before giving up and emitting full-frame.
const MetadataWaitBudget = 12 * time.Millisecond

// logThrottle is the minimum interval between "emitted without
// metadata" warnings.
const logThrottle = 2 * time.Second

// Packet is an encoded video packet as produced by the capture source.
type Packet struct {
	Payload    []byte
	IsKeyFrame bool
}

// OptionalSize is a present/absent frame size.
type OptionalSize struct {
	Value rdpgfx.Size
	Ok    bool
}

// OptionalRects is a present/absent damage region.
type OptionalRects struct {
	Value []rdpgfx.Rect
	Ok    bool
}

// OptionalTime is a present/absent presentation timestamp.
type OptionalTime struct {
	Value time.Time
	Ok    bool
}

// Metadata is per-frame information the capture source may supply
// alongside (or independently of) an encoded packet. Each field is
// independently present or absent.
type Metadata struct {
	Size    OptionalSize
	Damage  OptionalRects
	Presented OptionalTime
}

// PairedFrame is the pairer's output: an encoded packet annotated with
// the best metadata available for it, possibly synthesized.
type PairedFrame struct {
	Packet    Packet
	Size      rdpgfx.Size
	Damage    []rdpgfx.Rect // nil means full-frame
	Presented time.Time
	HasPresented bool
}

type pendingPacket struct {
	packet   Packet
	queuedAt time.Time
}

// Pairer implements the queueing and draining policy. It is safe
// for concurrent use: packet arrival happens on the capture callback
// thread, metadata arrival on the same or a different callback thread,
// and drain() is invoked from both.
type Pairer struct {
	mu sync.Mutex

	log *zap.SugaredLogger
	now func() time.Time

	packets  []pendingPacket
	metadata []Metadata

	metadataSignalAvailable bool
	metadataSeen            bool

	lastSize     rdpgfx.Size
	haveLastSize bool

	lastDropLog time.Time

	emit func(PairedFrame)
}

// New creates a Pairer that calls emit for every paired (or
// full-frame-synthesized) frame. emit is called while the pairer's
// internal lock is held by the calling thread's own stack frame (not
// re-entrantly locked) — callers must not block in emit.
func New(log *zap.SugaredLogger, emit func(PairedFrame)) *Pairer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Pairer{
		log:  log,
		now:  time.Now,
		emit: emit,
	}
}

// SetMetadataSignalAvailable records that a metadata callback has
// connected to the capture source. Until this is called, the pairer
// always emits full-frame, since metadata availability may not be
// known up front.
func (p *Pairer) SetMetadataSignalAvailable(available bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metadataSignalAvailable = available
}

// SizeChanged updates the frame size used to synthesize full-frame
// metadata when none is available.
func (p *Pairer) SizeChanged(size rdpgfx.Size) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSize = size
	p.haveLastSize = true
}

// PushPacket enqueues a newly encoded packet and drains.
func (p *Pairer) PushPacket(pkt Packet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.packets = append(p.packets, pendingPacket{packet: pkt, queuedAt: p.now()})
	p.drain()
}

// PushMetadata enqueues per-frame metadata, capping the queue at
// MaxMetadataQueue by dropping the oldest entry, and drains.
func (p *Pairer) PushMetadata(meta Metadata) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metadataSeen = true
	p.metadata = append(p.metadata, meta)
	if len(p.metadata) > MaxMetadataQueue {
		p.metadata = p.metadata[len(p.metadata)-MaxMetadataQueue:]
	}
	p.drain()
}

// drain runs the matching loop until the queue is empty or a wait is
// required. Must be called with p.mu held.
func (p *Pairer) drain() {
	for {
		if len(p.packets) == 0 {
			return
		}

		if len(p.metadata) > 0 {
			pkt := p.packets[0]
			p.packets = p.packets[1:]
			meta := p.metadata[0]
			p.metadata = p.metadata[1:]
			p.emitPaired(pkt.packet, meta)
			continue
		}

		head := p.packets[0]
		if !p.metadataSignalAvailable || !p.metadataSeen || head.packet.IsKeyFrame {
			p.packets = p.packets[1:]
			p.emitFullFrame(head.packet)
			continue
		}

		waited := p.now().Sub(head.queuedAt)
		if waited >= MetadataWaitBudget || len(p.packets) > MaxPacketQueueWithoutMetadata {
			p.packets = p.packets[1:]
			p.throttledLog()
			p.emitFullFrame(head.packet)
			continue
		}

		return
	}
}

func (p *Pairer) throttledLog() {
	now := p.now()
	if now.Sub(p.lastDropLog) < logThrottle {
		return
	}
	p.lastDropLog = now
	p.log.Debugw("metadata pairer backpressure, emitting full-frame", "queued", len(p.packets))
}

func (p *Pairer) emitPaired(pkt Packet, meta Metadata) {
	frame := PairedFrame{Packet: pkt}

	if meta.Size.Ok {
		frame.Size = meta.Size.Value
		p.lastSize = meta.Size.Value
		p.haveLastSize = true
	} else {
		frame.Size = p.lastSize
	}

	switch {
	case pkt.IsKeyFrame:
		frame.Damage = nil
	case meta.Damage.Ok && len(meta.Damage.Value) > 0:
		frame.Damage = meta.Damage.Value
	default:
		frame.Damage = nil
	}

	if meta.Presented.Ok {
		frame.Presented = meta.Presented.Value
		frame.HasPresented = true
	}

	p.emit(frame)
}

func (p *Pairer) emitFullFrame(pkt Packet) {
	p.emit(PairedFrame{
		Packet:       pkt,
		Size:         p.lastSize,
		Damage:       nil,
		Presented:    p.now(),
		HasPresented: true,
	})
}
