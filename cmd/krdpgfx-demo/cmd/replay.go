package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/krdpgfx/core/caps"
	"github.com/krdpgfx/core/diagnostics"
	"github.com/krdpgfx/core/internal/rdpgfx"
	"github.com/krdpgfx/core/pairing"
	"github.com/krdpgfx/core/stream"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a fixed set of caps-negotiation and motion scenarios against a logging transport",
	RunE:  runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	log, err := diagnostics.NewLogger(true)
	if err != nil {
		return err
	}

	replayAVC420Only(log)
	replayDowngrade(log)
	replayCapsFailure(log)
	replayRefinementFrame(log)

	return nil
}

func replayAVC420Only(log *zap.SugaredLogger) {
	log.Infow("scenario: caps negotiation, AVC420 only")
	transport := newLoggingTransport(log)
	session := stream.New(log, transport, transport, caps.Wants{}, stream.Callbacks{})
	_ = session.HandleCapsAdvertise(rdpgfx.CapsAdvertisePdu{
		CapsSets: []rdpgfx.Capset{{Version: rdpgfx.CapVersion81, Flags: rdpgfx.CapsFlagAVC420Enabled}},
	})
}

func replayDowngrade(log *zap.SugaredLogger) {
	log.Infow("scenario: caps negotiation downgrade, AVC444 wanted but unsupported")
	transport := newLoggingTransport(log)
	wants := caps.Wants{WantsAVC444: true, LocalAVC444EncodingAvailable: false}
	session := stream.New(log, transport, transport, wants, stream.Callbacks{})
	_ = session.HandleCapsAdvertise(rdpgfx.CapsAdvertisePdu{
		CapsSets: []rdpgfx.Capset{{Version: rdpgfx.CapVersion105}},
	})
}

func replayCapsFailure(log *zap.SugaredLogger) {
	log.Infow("scenario: caps negotiation failure, no AVC support advertised")
	transport := newLoggingTransport(log)
	session := stream.New(log, transport, transport, caps.Wants{}, stream.Callbacks{
		OnClosed: func(reason stream.CloseReason) {
			log.Infow("session closed", "reason", reason.String())
		},
	})
	session.Initialize()
	if err := session.HandleCapsAdvertise(rdpgfx.CapsAdvertisePdu{
		CapsSets: []rdpgfx.Capset{{Version: rdpgfx.CapVersion8}},
	}); err != nil {
		log.Infow("caps negotiation failed as expected", "err", err.Error())
	}
}

func replayRefinementFrame(log *zap.SugaredLogger) {
	log.Infow("scenario: high motion settling into a refinement frame")
	transport := newLoggingTransport(log)
	session := stream.New(log, transport, transport, caps.Wants{}, stream.Callbacks{})
	_ = session.HandleCapsAdvertise(rdpgfx.CapsAdvertisePdu{
		CapsSets: []rdpgfx.Capset{{Version: rdpgfx.CapVersion107}},
	})
	session.Initialize()
	defer session.Close()

	size := rdpgfx.Size{Width: 1920, Height: 1080}
	session.SizeChanged(size)
	session.MetadataSignalAvailable(true)

	highMotion := scatterRects(size, 3)
	for i := range highMotion {
		highMotion[i].Right += 300
		highMotion[i].Bottom += 300
	}
	session.FrameMetadata(pairing.Metadata{Damage: pairing.OptionalRects{Ok: true, Value: highMotion}})
	session.QueueFrame(pairing.Packet{Payload: []byte{0x00}})
	time.Sleep(20 * time.Millisecond)

	stable := []rdpgfx.Rect{{Left: 0, Top: 0, Right: 2, Bottom: 2}}
	for i := 0; i < 4; i++ {
		session.FrameMetadata(pairing.Metadata{Damage: pairing.OptionalRects{Ok: true, Value: stable}})
		session.QueueFrame(pairing.Packet{Payload: []byte{0x00}})
		time.Sleep(20 * time.Millisecond)
	}
}
