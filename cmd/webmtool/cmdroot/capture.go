package cmdroot

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/webmforge/webmforge/internal/capture"
	"github.com/webmforge/webmforge/internal/xlog"
	"github.com/webmforge/webmforge/webm"
)

var (
	captureWhepURL     string
	captureOutput      string
	captureVideoCodec  string
	captureWidth       int
	captureHeight      int
	captureReadTimeout time.Duration
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture a live WHEP video+audio stream to a WebM file",
	RunE:  runCapture,
}

func init() {
	captureCmd.Flags().StringVarP(&captureWhepURL, "url", "u", "http://localhost:8080/whep", "WHEP server URL")
	captureCmd.Flags().StringVarP(&captureOutput, "output", "o", "capture.webm", "output file path")
	captureCmd.Flags().StringVarP(&captureVideoCodec, "codec", "c", "vp8", "video codec to negotiate (vp8, vp9)")
	captureCmd.Flags().IntVar(&captureWidth, "width", 1280, "PixelWidth recorded in the video TrackEntry")
	captureCmd.Flags().IntVar(&captureHeight, "height", 720, "PixelHeight recorded in the video TrackEntry")
	captureCmd.Flags().DurationVar(&captureReadTimeout, "read-timeout", 10*time.Second, "per-packet RTP read timeout, 0 disables it")
}

func runCapture(cmd *cobra.Command, args []string) error {
	mux := webm.NewMuxSession(webm.MuxOptions{})

	codecID := webm.CodecVP8
	if captureVideoCodec == "vp9" {
		codecID = webm.CodecVP9
	}
	videoHandle, err := mux.AddVideoTrack(uint64(captureWidth), uint64(captureHeight), codecID)
	if err != nil {
		return fmt.Errorf("registering video track: %w", err)
	}
	audioHandle, err := mux.AddAudioTrack(48000, 2, webm.CodecOpus)
	if err != nil {
		return fmt.Errorf("registering audio track: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	xlog.Debugf("connecting to WHEP server %s (codec=%s)", captureWhepURL, captureVideoCodec)
	sess, err := capture.Connect(ctx, capture.Options{
		WHEPURL:     captureWhepURL,
		VideoCodec:  captureVideoCodec,
		ReadTimeout: captureReadTimeout,
	}, mux)
	if err != nil {
		return fmt.Errorf("connecting to WHEP server: %w", err)
	}
	defer sess.Close()

	fmt.Fprintln(os.Stderr, "connected, receiving media (press Ctrl+C to stop)...")
	if err := sess.Run(ctx, videoHandle, audioHandle); err != nil && ctx.Err() == nil {
		return fmt.Errorf("capture run: %w", err)
	}

	out, err := mux.Finalize()
	if err != nil {
		return fmt.Errorf("finalizing mux session: %w", err)
	}
	if err := os.WriteFile(captureOutput, out, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", captureOutput, err)
	}

	fmt.Fprintf(os.Stderr, "wrote %s (%d bytes)\n", captureOutput, len(out))
	return nil
}
