package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/krdpgfx/core/caps"
	"github.com/krdpgfx/core/diagnostics"
	"github.com/krdpgfx/core/internal/rdpgfx"
	"github.com/krdpgfx/core/pairing"
	"github.com/krdpgfx/core/stream"
)

var stormRectCount int

var injectPacketStormCmd = &cobra.Command{
	Use:   "inject-packet-storm",
	Short: "Send one frame with a dense scatter of tiny damage rectangles to exercise coalescing",
	RunE:  runInjectPacketStorm,
}

func init() {
	injectPacketStormCmd.Flags().IntVar(&stormRectCount, "rects", 100, "number of 2x2 damage rectangles to scatter across the frame")
}

func runInjectPacketStorm(cmd *cobra.Command, args []string) error {
	log, err := diagnostics.NewLogger(true)
	if err != nil {
		return err
	}

	transport := newLoggingTransport(log)
	session := stream.New(log, transport, transport, caps.Wants{}, stream.Callbacks{})

	if err := session.HandleCapsAdvertise(rdpgfx.CapsAdvertisePdu{
		CapsSets: []rdpgfx.Capset{{Version: rdpgfx.CapVersion107}},
	}); err != nil {
		return err
	}

	session.Initialize()
	defer session.Close()

	size := rdpgfx.Size{Width: 1920, Height: 1080}
	session.SizeChanged(size)
	session.MetadataSignalAvailable(true)

	rects := scatterRects(size, stormRectCount)
	session.FrameMetadata(pairing.Metadata{Damage: pairing.OptionalRects{Ok: true, Value: rects}})
	session.QueueFrame(pairing.Packet{Payload: []byte{0x00}})

	// give the worker a chance to drain before the process exits
	time.Sleep(200 * time.Millisecond)

	log.Infow("packet storm injected", "rectCount", len(rects))
	return nil
}

// scatterRects lays out n evenly-spaced 2x2 rectangles across size,
// matching the dense-coalescing scenario this core is expected to
// collapse down to at most damage.MaxCoalescedRects rectangles.
func scatterRects(size rdpgfx.Size, n int) []rdpgfx.Rect {
	rects := make([]rdpgfx.Rect, 0, n)
	cols := 1
	for cols*cols < n {
		cols++
	}
	rows := (n + cols - 1) / cols
	stepX := size.Width / (cols + 1)
	stepY := size.Height / (rows + 1)

	for i := 0; i < n; i++ {
		col := i % cols
		row := i / cols
		x := stepX * (col + 1)
		y := stepY * (row + 1)
		rects = append(rects, rdpgfx.Rect{
			Left: uint16(x), Top: uint16(y),
			Right: uint16(x + 2), Bottom: uint16(y + 2),
		})
	}
	return rects
}
