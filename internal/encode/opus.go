package encode

import (
	"fmt"

	opus "github.com/qrtc/opus-go"

	"github.com/webmforge/webmforge/internal/xlog"
)

// EncodedAudioFrame is one Opus frame ready for webm.MuxSession.WriteAudioFrame.
type EncodedAudioFrame struct {
	Data        []byte
	TimestampNs int64
}

// OpusEncoder accumulates PCM samples and emits fixed 10ms Opus
// frames with timestamps derived from the running sample count, so
// output is evenly paced regardless of input chunk sizes.
type OpusEncoder struct {
	enc        *opus.OpusEncoder
	sampleRate int
	channels   int
	frameSize  int // samples per channel per frame

	pcmBuffer    []byte
	samplesEmitted int64
}

// NewOpusEncoder constructs an encoder for 48kHz mono/stereo PCM, the
// only configuration libopus's CELT mode needs for WebM's Opus
// profile.
func NewOpusEncoder(sampleRate, channels int) (*OpusEncoder, error) {
	if sampleRate != 48000 {
		return nil, fmt.Errorf("only 48000Hz sample rate is supported, got %d", sampleRate)
	}
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("only 1 or 2 channels are supported, got %d", channels)
	}

	enc, err := opus.CreateOpusEncoder(&opus.OpusEncoderConfig{
		SampleRate:  sampleRate,
		MaxChannels: channels,
		Application: opus.AppAudio,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Opus encoder: %v", err)
	}

	frameSize := sampleRate * 10 / 1000
	xlog.Debugf("Opus encoder initialized: %dHz, %d channels, frame size %d samples", sampleRate, channels, frameSize)

	return &OpusEncoder{
		enc:        enc,
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  frameSize,
	}, nil
}

// Encode appends pcm (signed 16-bit little-endian interleaved
// samples) to the internal buffer and returns every whole 10ms frame
// it can now produce.
func (e *OpusEncoder) Encode(pcm []byte) ([]EncodedAudioFrame, error) {
	e.pcmBuffer = append(e.pcmBuffer, pcm...)

	bytesPerFrame := e.frameSize * e.channels * 2
	var frames []EncodedAudioFrame

	for len(e.pcmBuffer) >= bytesPerFrame {
		frameData := e.pcmBuffer[:bytesPerFrame]
		e.pcmBuffer = e.pcmBuffer[bytesPerFrame:]

		outBuf := make([]byte, 1500)
		n, err := e.enc.Encode(frameData, outBuf)
		if err != nil {
			xlog.Debugf("Opus encode error: %v", err)
			e.samplesEmitted += int64(e.frameSize)
			continue
		}
		if n > 0 {
			tsNs := e.samplesEmitted * 1_000_000_000 / int64(e.sampleRate)
			frames = append(frames, EncodedAudioFrame{Data: append([]byte(nil), outBuf[:n]...), TimestampNs: tsNs})
		}
		e.samplesEmitted += int64(e.frameSize)
	}

	return frames, nil
}

// Close releases the encoder's native resources.
func (e *OpusEncoder) Close() {
	if e.enc != nil {
		e.enc.Close()
		e.enc = nil
	}
}
