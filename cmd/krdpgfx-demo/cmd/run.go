package cmd

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/krdpgfx/core/caps"
	"github.com/krdpgfx/core/diagnostics"
	"github.com/krdpgfx/core/internal/config"
	"github.com/krdpgfx/core/internal/rdpgfx"
	"github.com/krdpgfx/core/stream"
)

var runDuration time.Duration

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the graphics pipeline against a synthetic capture source until interrupted",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().DurationVar(&runDuration, "duration", 0, "stop after this long (0 = run until interrupted)")
}

func runRun(cmd *cobra.Command, args []string) error {
	log, err := diagnostics.NewLogger(true)
	if err != nil {
		return err
	}

	cfg := loadConfigOrDefault()

	feed := diagnostics.NewFeed(log)
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/diagnostics", feed.HandleWebSocket)
		log.Infow("diagnostics websocket listening", "addr", cfg.Listen)
		if err := http.ListenAndServe(cfg.Listen, mux); err != nil {
			log.Warnw("diagnostics listener stopped", "err", err)
		}
	}()

	transport := newLoggingTransport(log)
	wants := caps.Wants{
		WantsAVC444v2:                cfg.Codec.WantsAVC444v2,
		WantsAVC444:                  cfg.Codec.WantsAVC444,
		LocalAVC444EncodingAvailable: cfg.Codec.LocalAVC444EncodingAvailable,
	}

	session := stream.New(log, transport, transport, wants, stream.Callbacks{
		OnClosed: func(reason stream.CloseReason) {
			feed.Publish(diagnostics.EventSessionClosed, map[string]string{"reason": reason.String()})
		},
	})

	if err := session.HandleCapsAdvertise(rdpgfx.CapsAdvertisePdu{
		CapsSets: []rdpgfx.Capset{{Version: rdpgfx.CapVersion107}},
	}); err != nil {
		return err
	}

	session.Initialize()
	defer session.Close()

	size := rdpgfx.Size{Width: cfg.Capture.Width, Height: cfg.Capture.Height}
	capture := newSyntheticCapture(session, size, cfg.Capture.KeyFrameEveryN)

	interval := time.Second / time.Duration(maxInt(cfg.Capture.FPS, 1))
	stop := make(chan struct{})
	go capture.Run(stop, interval)

	go func() {
		for {
			time.Sleep(time.Second)
			feed.Publish(diagnostics.EventFrameRateChanged, diagnostics.FrameRateChanged{
				Fps: session.RequestedFrameRate(),
			})
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	if runDuration > 0 {
		select {
		case <-sig:
		case <-time.After(runDuration):
		}
	} else {
		<-sig
	}

	close(stop)
	log.Infow("shutting down")
	return nil
}

func loadConfigOrDefault() *config.Config {
	if configPath == "" {
		return config.Default()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Default()
	}
	return cfg
}
