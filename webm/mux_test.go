package webm

import (
	"errors"
	"io"
	"testing"
)

func TestMuxParseRoundTripMinimalVP8(t *testing.T) {
	ms := NewMuxSession(MuxOptions{})
	handle, err := ms.AddVideoTrack(640, 480, CodecVP8)
	if err != nil {
		t.Fatalf("add video track: %v", err)
	}
	payload := []byte{0x30, 0x00, 0x00}
	if err := ms.WriteVideoFrame(handle, payload, 0, true); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := ms.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	sess, err := Parse(out, ParseOptions{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sess.TrackCount() != 1 {
		t.Fatalf("got %d tracks, want 1", sess.TrackCount())
	}
	track := sess.TrackInfo(0)
	if track.CodecID != CodecVP8 || track.PixelWidth != 640 || track.PixelHeight != 480 {
		t.Fatalf("unexpected track: %+v", track)
	}

	it, err := sess.Frames()
	if err != nil {
		t.Fatalf("frames: %v", err)
	}
	f, err := it.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if string(f.Payload) != string(payload) || f.TimestampNs != 0 || !f.IsKeyframe {
		t.Fatalf("unexpected frame: %+v", f)
	}
	if _, err := it.Next(); err != io.EOF {
		t.Fatalf("got %v, want io.EOF", err)
	}
}

func TestMuxParseRoundTripTwoTrackMix(t *testing.T) {
	ms := NewMuxSession(MuxOptions{TimecodeScale: 1_000_000})
	video, err := ms.AddVideoTrack(1920, 1080, CodecVP9)
	if err != nil {
		t.Fatalf("add video: %v", err)
	}
	audio, err := ms.AddAudioTrack(48000, 2, CodecOpus)
	if err != nil {
		t.Fatalf("add audio: %v", err)
	}

	const videoFrames = 90
	const videoIntervalNs = 33_333_333
	for i := 0; i < videoFrames; i++ {
		ts := int64(i) * videoIntervalNs
		key := i%30 == 0
		if err := ms.WriteVideoFrame(video, []byte{byte(i), 0x00}, ts, key); err != nil {
			t.Fatalf("write video frame %d: %v", i, err)
		}
	}

	const audioFrames = 150
	const audioIntervalNs = 20_000_000
	for i := 0; i < audioFrames; i++ {
		ts := int64(i) * audioIntervalNs
		if err := ms.WriteAudioFrame(audio, []byte{byte(i)}, ts); err != nil {
			t.Fatalf("write audio frame %d: %v", i, err)
		}
	}

	out, err := ms.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	sess, err := Parse(out, ParseOptions{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if got := sess.DurationNs(); got < 2_980_000_000 || got > 3_020_000_000 {
		t.Fatalf("duration_ns = %d, want within [2.98e9, 3.02e9]", got)
	}

	it, err := sess.Frames()
	if err != nil {
		t.Fatalf("frames: %v", err)
	}
	count := 0
	for {
		_, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		count++
	}
	if count != videoFrames+audioFrames {
		t.Fatalf("got %d frames, want %d", count, videoFrames+audioFrames)
	}
}

func TestMuxClusterBoundaryCrossing(t *testing.T) {
	ms := NewMuxSession(MuxOptions{TimecodeScale: 1_000_000})
	handle, err := ms.AddVideoTrack(640, 480, CodecVP8)
	if err != nil {
		t.Fatalf("add video: %v", err)
	}
	if err := ms.WriteVideoFrame(handle, []byte{0x01}, 0, true); err != nil {
		t.Fatalf("write frame 1: %v", err)
	}
	if err := ms.WriteVideoFrame(handle, []byte{0x02}, 40_000_000_000, true); err != nil {
		t.Fatalf("write frame 2: %v", err)
	}
	out, err := ms.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	sess, err := Parse(out, ParseOptions{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	it, err := sess.Frames()
	if err != nil {
		t.Fatalf("frames: %v", err)
	}
	f1, err := it.Next()
	if err != nil {
		t.Fatalf("next 1: %v", err)
	}
	if f1.TimestampNs != 0 {
		t.Fatalf("got ts %d, want 0", f1.TimestampNs)
	}
	f2, err := it.Next()
	if err != nil {
		t.Fatalf("next 2: %v", err)
	}
	if f2.TimestampNs != 40_000_000_000 {
		t.Fatalf("got ts %d, want 40000000000", f2.TimestampNs)
	}
	if _, err := it.Next(); err != io.EOF {
		t.Fatalf("got %v, want io.EOF", err)
	}
}

// TestMuxClusterReopensOnCrossTrackRewind exercises interleaved tracks
// where the second track's first frame lands far behind a cluster base
// an already-advanced first track established. A muxer that only checks
// the forward cluster boundary would reuse that stale cluster and wrap
// the relative delta when truncated to int16; this asserts a fresh
// cluster is opened instead so both frames round-trip with their exact
// timestamps intact.
func TestMuxClusterReopensOnCrossTrackRewind(t *testing.T) {
	ms := NewMuxSession(MuxOptions{TimecodeScale: 1_000_000})
	video, err := ms.AddVideoTrack(640, 480, CodecVP8)
	if err != nil {
		t.Fatalf("add video: %v", err)
	}
	audio, err := ms.AddAudioTrack(48000, 2, CodecOpus)
	if err != nil {
		t.Fatalf("add audio: %v", err)
	}

	const farTicksNs = 20_000_000_000
	if err := ms.WriteVideoFrame(video, []byte{0x01}, farTicksNs, true); err != nil {
		t.Fatalf("write video frame: %v", err)
	}
	if err := ms.WriteAudioFrame(audio, []byte{0x02}, 0); err != nil {
		t.Fatalf("write audio frame: %v", err)
	}

	out, err := ms.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	sess, err := Parse(out, ParseOptions{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	it, err := sess.Frames()
	if err != nil {
		t.Fatalf("frames: %v", err)
	}

	seen := map[int64]bool{}
	for {
		f, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		seen[f.TimestampNs] = true
	}
	if !seen[farTicksNs] || !seen[0] {
		t.Fatalf("got timestamps %v, want both 0 and %d present and uncorrupted", seen, farTicksNs)
	}
}

func TestMuxRejectsUnknownTrackHandle(t *testing.T) {
	ms := NewMuxSession(MuxOptions{})
	if _, err := ms.AddVideoTrack(640, 480, CodecVP8); err != nil {
		t.Fatalf("add video: %v", err)
	}
	err := ms.WriteVideoFrame(TrackHandle(99), []byte{0x01}, 0, true)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("got %v, want InvalidArgument", err)
	}
}

func TestMuxRejectsOutOfOrderFrame(t *testing.T) {
	ms := NewMuxSession(MuxOptions{})
	handle, err := ms.AddVideoTrack(640, 480, CodecVP8)
	if err != nil {
		t.Fatalf("add video: %v", err)
	}
	if err := ms.WriteVideoFrame(handle, []byte{0x01}, 100, true); err != nil {
		t.Fatalf("write frame at ts=100: %v", err)
	}
	err = ms.WriteVideoFrame(handle, []byte{0x02}, 50, true)
	if !errors.Is(err, ErrOutOfOrderFrame) {
		t.Fatalf("got %v, want OutOfOrderFrame", err)
	}
}

func TestMuxRejectsZeroDimensionVideoTrack(t *testing.T) {
	ms := NewMuxSession(MuxOptions{})
	_, err := ms.AddVideoTrack(0, 480, CodecVP8)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("got %v, want InvalidArgument", err)
	}
}

func TestMuxRejectsUnregisteredCodec(t *testing.T) {
	ms := NewMuxSession(MuxOptions{})
	_, err := ms.AddVideoTrack(640, 480, "V_MPEG4")
	if !errors.Is(err, ErrUnsupportedCodec) {
		t.Fatalf("got %v, want UnsupportedCodec", err)
	}
}

func TestMuxRejectsEmptyPayload(t *testing.T) {
	ms := NewMuxSession(MuxOptions{})
	handle, err := ms.AddVideoTrack(640, 480, CodecVP8)
	if err != nil {
		t.Fatalf("add video: %v", err)
	}
	err = ms.WriteVideoFrame(handle, nil, 0, true)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("got %v, want InvalidArgument", err)
	}
}

func TestMuxFinalizeIsIdempotent(t *testing.T) {
	ms := NewMuxSession(MuxOptions{})
	handle, err := ms.AddVideoTrack(640, 480, CodecVP8)
	if err != nil {
		t.Fatalf("add video: %v", err)
	}
	if err := ms.WriteVideoFrame(handle, []byte{0x01}, 0, true); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out1, err := ms.Finalize()
	if err != nil {
		t.Fatalf("finalize 1: %v", err)
	}
	out2, err := ms.Finalize()
	if err != nil {
		t.Fatalf("finalize 2: %v", err)
	}
	if string(out1) != string(out2) {
		t.Fatal("finalize is not idempotent")
	}
}

func TestMuxSizeFieldsPatchCorrectly(t *testing.T) {
	ms := NewMuxSession(MuxOptions{})
	handle, err := ms.AddVideoTrack(640, 480, CodecVP8)
	if err != nil {
		t.Fatalf("add video: %v", err)
	}
	if err := ms.WriteVideoFrame(handle, []byte{0x01, 0x02, 0x03}, 0, true); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := ms.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if _, err := Parse(out, ParseOptions{}); err != nil {
		t.Fatalf("re-parsing finalized bytes failed, size fields must be wrong: %v", err)
	}
}
