package cmdroot

import (
	"fmt"
	"math"
	"os"

	"github.com/spf13/cobra"

	"github.com/webmforge/webmforge/internal/encode"
	"github.com/webmforge/webmforge/webm"
)

var (
	synthOutput     string
	synthWidth      int
	synthHeight     int
	synthFrameCount int
	synthFPS        int
)

var synthCmd = &cobra.Command{
	Use:   "synth",
	Short: "Encode a synthetic VP8+Opus clip and mux it to a WebM file",
	RunE:  runSynth,
}

func init() {
	synthCmd.Flags().StringVarP(&synthOutput, "output", "o", "synth.webm", "output file path")
	synthCmd.Flags().IntVar(&synthWidth, "width", 160, "frame width")
	synthCmd.Flags().IntVar(&synthHeight, "height", 120, "frame height")
	synthCmd.Flags().IntVar(&synthFrameCount, "frames", 90, "number of video frames to generate")
	synthCmd.Flags().IntVar(&synthFPS, "fps", 30, "video frame rate")
}

func runSynth(cmd *cobra.Command, args []string) error {
	vp8, err := encode.NewVP8Encoder(encode.EncoderOptions{
		Width:       synthWidth,
		Height:      synthHeight,
		PixelFormat: "RGBA",
		FrameRate:   synthFPS,
	})
	if err != nil {
		return fmt.Errorf("creating VP8 encoder: %w", err)
	}
	defer vp8.Close()

	opusEnc, err := encode.NewOpusEncoder(48000, 2)
	if err != nil {
		return fmt.Errorf("creating Opus encoder: %w", err)
	}
	defer opusEnc.Close()

	mux := webm.NewMuxSession(webm.MuxOptions{})

	videoHandle, err := mux.AddVideoTrack(uint64(synthWidth), uint64(synthHeight), webm.CodecVP8)
	if err != nil {
		return fmt.Errorf("registering video track: %w", err)
	}
	audioHandle, err := mux.AddAudioTrack(48000, 2, webm.CodecOpus)
	if err != nil {
		return fmt.Errorf("registering audio track: %w", err)
	}

	frameIntervalNs := int64(1_000_000_000) / int64(synthFPS)
	for i := 0; i < synthFrameCount; i++ {
		frame := syntheticRGBAFrame(synthWidth, synthHeight, i)
		payload, keyframe, err := vp8.Encode(frame)
		if err != nil {
			return fmt.Errorf("encoding video frame %d: %w", i, err)
		}
		if payload == nil {
			continue
		}
		tsNs := int64(i) * frameIntervalNs
		if err := mux.WriteVideoFrame(videoHandle, payload, tsNs, keyframe); err != nil {
			return fmt.Errorf("writing video frame %d: %w", i, err)
		}
	}

	totalAudioSamples := synthFrameCount * 48000 / synthFPS
	pcm := syntheticPCM(totalAudioSamples, 2)
	audioFrames, err := opusEnc.Encode(pcm)
	if err != nil {
		return fmt.Errorf("encoding audio: %w", err)
	}
	for _, f := range audioFrames {
		if err := mux.WriteAudioFrame(audioHandle, f.Data, f.TimestampNs); err != nil {
			return fmt.Errorf("writing audio frame: %w", err)
		}
	}

	out, err := mux.Finalize()
	if err != nil {
		return fmt.Errorf("finalizing mux session: %w", err)
	}

	if err := os.WriteFile(synthOutput, out, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", synthOutput, err)
	}

	fmt.Fprintf(os.Stderr, "wrote %s (%d bytes, %d video frames, %d audio frames)\n", synthOutput, len(out), synthFrameCount, len(audioFrames))
	return nil
}

// syntheticRGBAFrame renders a moving diagonal gradient so successive
// frames differ enough for VP8 to produce non-trivial deltas.
func syntheticRGBAFrame(width, height, frameIndex int) []byte {
	buf := make([]byte, width*height*4)
	shift := byte(frameIndex * 4)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := (y*width + x) * 4
			buf[idx+0] = byte(x) + shift
			buf[idx+1] = byte(y) + shift
			buf[idx+2] = byte(x+y) - shift
			buf[idx+3] = 0xff
		}
	}
	return buf
}

// syntheticPCM renders a 220Hz sine tone as signed 16-bit interleaved
// stereo PCM.
func syntheticPCM(samples, channels int) []byte {
	buf := make([]byte, samples*channels*2)
	const freq = 220.0
	for i := 0; i < samples; i++ {
		v := int16(math.Sin(2*math.Pi*freq*float64(i)/48000) * 8000)
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * 2
			buf[off] = byte(v)
			buf[off+1] = byte(v >> 8)
		}
	}
	return buf
}
