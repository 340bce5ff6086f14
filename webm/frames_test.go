package webm

import (
	"errors"
	"io"
	"testing"

	"github.com/webmforge/webmforge/ebml"
)

func blockHeaderBytes(trackNumber uint64, relTimecode int16, flags byte) []byte {
	b := ebml.EncodeVintAuto(trackNumber)
	b = append(b, byte(uint16(relTimecode)>>8), byte(uint16(relTimecode)))
	b = append(b, flags)
	return b
}

func mustParseSegment(t *testing.T, headerBytes, segmentPayload []byte) *ParseSession {
	t.Helper()
	src := ebml.WriteElement(headerBytes, idSegment, segmentPayload)
	sess, err := Parse(src, ParseOptions{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return sess
}

func TestFrameIteratorFixedLacingThreeFrames(t *testing.T) {
	block := blockHeaderBytes(1, 0, flagKeyframe|lacingFixed)
	frameBytes := []byte{
		0xAA, 0xAA, 0xAA, 0xAA,
		0xBB, 0xBB, 0xBB, 0xBB,
		0xCC, 0xCC, 0xCC, 0xCC,
	}
	block = append(block, byte(2)) // frame_count - 1 == 2 => 3 frames
	block = append(block, frameBytes...)

	var cluster []byte
	cluster = ebml.WriteElement(cluster, idTimecode, encodeUintMinimal(0))
	cluster = ebml.WriteElement(cluster, idSimpleBlock, block)

	sess := newSingleVideoTrackSessionWithCluster(t, cluster)
	it, err := sess.Frames()
	if err != nil {
		t.Fatalf("frames: %v", err)
	}

	var got [][]byte
	for {
		f, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		got = append(got, f.Payload)
	}

	if len(got) != 3 {
		t.Fatalf("got %d frames, want 3", len(got))
	}
	want := [][]byte{frameBytes[0:4], frameBytes[4:8], frameBytes[8:12]}
	for i := range want {
		if string(got[i]) != string(want[i]) {
			t.Fatalf("frame %d: got %x want %x", i, got[i], want[i])
		}
	}
}

func newSingleVideoTrackSessionWithCluster(t *testing.T, cluster []byte) *ParseSession {
	t.Helper()
	te := buildTrackEntryBytes(1, TrackTypeVideo, CodecVP8, 640, 480, 0, 0)
	src := buildMinimalHeader("webm", 2)
	var info []byte
	info = ebml.WriteElement(info, idTimecodeScale, encodeUintMinimal(1_000_000))
	var segment []byte
	segment = ebml.WriteElement(segment, idSegmentInfo, info)
	var tracks []byte
	tracks = ebml.WriteElement(tracks, idTrackEntry, te)
	segment = ebml.WriteElement(segment, idTracks, tracks)
	segment = ebml.WriteElement(segment, idCluster, cluster)
	return mustParseSegment(t, src, segment)
}

func TestFrameIteratorBlockGroupKeyframeInference(t *testing.T) {
	block := blockHeaderBytes(1, 10, 0x00)
	block = append(block, []byte{0x01, 0x02, 0x03}...)

	var withRef []byte
	withRef = ebml.WriteElement(withRef, idBlock, block)
	withRef = ebml.WriteElement(withRef, idReferenceBlock, []byte{0x00})

	var withoutRef []byte
	withoutRef = ebml.WriteElement(withoutRef, idBlock, block)

	var cluster []byte
	cluster = ebml.WriteElement(cluster, idTimecode, encodeUintMinimal(0))
	cluster = ebml.WriteElement(cluster, idBlockGroup, withRef)
	cluster = ebml.WriteElement(cluster, idBlockGroup, withoutRef)

	sess := newSingleVideoTrackSessionWithCluster(t, cluster)
	it, err := sess.Frames()
	if err != nil {
		t.Fatalf("frames: %v", err)
	}

	f1, err := it.Next()
	if err != nil {
		t.Fatalf("next 1: %v", err)
	}
	if f1.IsKeyframe {
		t.Fatal("BlockGroup with ReferenceBlock should not be a keyframe")
	}
	f2, err := it.Next()
	if err != nil {
		t.Fatalf("next 2: %v", err)
	}
	if !f2.IsKeyframe {
		t.Fatal("BlockGroup without ReferenceBlock should be a keyframe")
	}
}

func TestFrameIteratorNoneLacingSingleFrame(t *testing.T) {
	block := blockHeaderBytes(1, 5, flagKeyframe|lacingNone)
	block = append(block, []byte{0x10, 0x20, 0x30}...)

	var cluster []byte
	cluster = ebml.WriteElement(cluster, idTimecode, encodeUintMinimal(100))
	cluster = ebml.WriteElement(cluster, idSimpleBlock, block)

	sess := newSingleVideoTrackSessionWithCluster(t, cluster)
	it, err := sess.Frames()
	if err != nil {
		t.Fatalf("frames: %v", err)
	}
	f, err := it.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	wantTs := int64(105) * 1_000_000
	if f.TimestampNs != wantTs {
		t.Fatalf("got ts %d, want %d", f.TimestampNs, wantTs)
	}
	if string(f.Payload) != "\x10\x20\x30" {
		t.Fatalf("unexpected payload %x", f.Payload)
	}
	if _, err := it.Next(); err != io.EOF {
		t.Fatalf("got %v, want io.EOF", err)
	}
}

func TestFrameIteratorNegativeTimestampClampedByDefault(t *testing.T) {
	block := blockHeaderBytes(1, -50, flagKeyframe)
	block = append(block, []byte{0x01}...)

	var cluster []byte
	cluster = ebml.WriteElement(cluster, idTimecode, encodeUintMinimal(10))
	cluster = ebml.WriteElement(cluster, idSimpleBlock, block)

	sess := newSingleVideoTrackSessionWithCluster(t, cluster)
	it, err := sess.Frames()
	if err != nil {
		t.Fatalf("frames: %v", err)
	}
	f, err := it.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if f.TimestampNs != 0 {
		t.Fatalf("got %d, want clamped 0", f.TimestampNs)
	}
}

func TestFrameIteratorNegativeTimestampStrict(t *testing.T) {
	block := blockHeaderBytes(1, -50, flagKeyframe)
	block = append(block, []byte{0x01}...)

	var cluster []byte
	cluster = ebml.WriteElement(cluster, idTimecode, encodeUintMinimal(10))
	cluster = ebml.WriteElement(cluster, idSimpleBlock, block)

	te := buildTrackEntryBytes(1, TrackTypeVideo, CodecVP8, 640, 480, 0, 0)
	src := buildMinimalHeader("webm", 2)
	var info []byte
	info = ebml.WriteElement(info, idTimecodeScale, encodeUintMinimal(1_000_000))
	var segment []byte
	segment = ebml.WriteElement(segment, idSegmentInfo, info)
	var tracks []byte
	tracks = ebml.WriteElement(tracks, idTrackEntry, te)
	segment = ebml.WriteElement(segment, idTracks, tracks)
	segment = ebml.WriteElement(segment, idCluster, cluster)
	full := ebml.WriteElement(src, idSegment, segment)

	sess, err := Parse(full, ParseOptions{Strict: true})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	it, err := sess.Frames()
	if err != nil {
		t.Fatalf("frames: %v", err)
	}
	if _, err := it.Next(); !errors.Is(err, ErrNegativeTimestamp) {
		t.Fatalf("got %v, want NegativeTimestamp", err)
	}
}
