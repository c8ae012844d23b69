package rdpgfx

// CapsAdvertisePdu is sent by the client to advertise the capability
// sets it supports.
type CapsAdvertisePdu struct {
	CapsSets []Capset
}

// FrameAcknowledgePdu is sent by the client once a frame has been
// decoded (or dropped for queue-depth reasons).
type FrameAcknowledgePdu struct {
	FrameID           uint32
	TotalFramesDecoded uint32
	QueueDepth        uint32
}

// QoeFrameAcknowledgePdu carries client-side quality-of-experience
// metrics for a frame. This core accepts and ignores its contents.
type QoeFrameAcknowledgePdu struct {
	FrameID uint32
}

// Transport is the minimal sink the emitter writes PDUs to. It is
// implemented by the RDP virtual-channel plumbing, which is an external
// collaborator out of this core's scope: the core only depends on this
// interface, never on a concrete transport.
type Transport interface {
	ResetGraphics(ResetGraphicsPdu) error
	CreateSurface(CreateSurfacePdu) error
	MapSurfaceToOutput(MapSurfaceToOutputPdu) error
	CapsConfirm(CapsConfirmPdu) error
	StartFrame(StartFramePdu) error
	SurfaceCommand(SurfaceCommand) error
	EndFrame(EndFramePdu) error
}

// BandwidthMeasurer brackets per-frame bandwidth sampling. The transport
// layer's network detector implements it; the core only calls it.
type BandwidthMeasurer interface {
	StartBandwidthMeasure()
	StopBandwidthMeasure()
}
