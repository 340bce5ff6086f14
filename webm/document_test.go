package webm

import (
	"errors"
	"testing"

	"github.com/webmforge/webmforge/ebml"
)

func buildMinimalHeader(docType string, docTypeReadVersion uint64) []byte {
	var hdr []byte
	hdr = ebml.WriteElement(hdr, idEBMLVersion, encodeUintMinimal(1))
	hdr = ebml.WriteElement(hdr, idEBMLReadVersion, encodeUintMinimal(1))
	hdr = ebml.WriteElement(hdr, idDocType, []byte(docType))
	hdr = ebml.WriteElement(hdr, idDocTypeVersion, encodeUintMinimal(2))
	hdr = ebml.WriteElement(hdr, idDocTypeReadVer, encodeUintMinimal(docTypeReadVersion))
	var out []byte
	out = ebml.WriteElement(out, idEBML, hdr)
	return out
}

func buildTrackEntryBytes(number uint64, kind TrackType, codecID string, width, height uint64, freq float64, channels uint64) []byte {
	t := muxTrack{number: number, kind: kind, codecID: codecID, width: width, height: height, sampleRate: freq, channels: channels}
	return buildTrackEntry(t)
}

// buildDocument assembles a complete, well-formed WebM buffer with a
// single SegmentInfo, the given TrackEntry payloads, and the given
// already-framed Cluster payloads, with an optional Void element
// spliced between SegmentInfo and Tracks.
func buildDocument(trackEntries [][]byte, clusters [][]byte, insertVoid bool) []byte {
	out := buildMinimalHeader("webm", 2)

	var info []byte
	info = ebml.WriteElement(info, idTimecodeScale, encodeUintMinimal(1_000_000))
	var segment []byte
	segment = ebml.WriteElement(segment, idSegmentInfo, info)

	if insertVoid {
		segment = ebml.WriteElement(segment, idVoid, make([]byte, 100))
	}

	var tracksPayload []byte
	for _, te := range trackEntries {
		tracksPayload = ebml.WriteElement(tracksPayload, idTrackEntry, te)
	}
	segment = ebml.WriteElement(segment, idTracks, tracksPayload)

	for _, cl := range clusters {
		segment = ebml.WriteElement(segment, idCluster, cl)
	}

	out = ebml.WriteElement(out, idSegment, segment)
	return out
}

func TestParseRejectsNonEBML(t *testing.T) {
	_, err := Parse([]byte{0x00, 0x00, 0x00, 0x00}, ParseOptions{})
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestParseRejectsWrongDocType(t *testing.T) {
	src := buildMinimalHeader("matroska", 2)
	src = ebml.WriteElement(src, idSegment, nil)
	_, err := Parse(src, ParseOptions{})
	if !errors.Is(err, ErrInvalidHeader) {
		t.Fatalf("got %v, want InvalidHeader", err)
	}
}

func TestParseRejectsUnsupportedReadVersion(t *testing.T) {
	src := buildMinimalHeader("webm", 3)
	src = ebml.WriteElement(src, idSegment, nil)
	_, err := Parse(src, ParseOptions{})
	if !errors.Is(err, ErrInvalidHeader) {
		t.Fatalf("got %v, want InvalidHeader", err)
	}
}

func TestParseDetectsDuplicateTrackNumber(t *testing.T) {
	te1 := buildTrackEntryBytes(1, TrackTypeVideo, CodecVP8, 640, 480, 0, 0)
	te2 := buildTrackEntryBytes(1, TrackTypeAudio, CodecOpus, 0, 0, 48000, 2)
	src := buildDocument([][]byte{te1, te2}, nil, false)

	_, err := Parse(src, ParseOptions{})
	if !errors.Is(err, ErrDuplicateTrackNumber) {
		t.Fatalf("got %v, want DuplicateTrackNumber", err)
	}
}

func TestParseSkipsVoidBetweenSegmentInfoAndTracks(t *testing.T) {
	te := buildTrackEntryBytes(1, TrackTypeVideo, CodecVP8, 640, 480, 0, 0)

	withVoid := buildDocument([][]byte{te}, nil, true)
	withoutVoid := buildDocument([][]byte{te}, nil, false)

	s1, err := Parse(withVoid, ParseOptions{})
	if err != nil {
		t.Fatalf("parse with Void: %v", err)
	}
	s2, err := Parse(withoutVoid, ParseOptions{})
	if err != nil {
		t.Fatalf("parse without Void: %v", err)
	}

	if s1.TrackCount() != s2.TrackCount() {
		t.Fatalf("track count differs: %d vs %d", s1.TrackCount(), s2.TrackCount())
	}
	if s1.TrackInfo(0) != s2.TrackInfo(0) {
		t.Fatalf("track info differs between Void and no-Void documents")
	}
}

func TestParseEmptyClusterYieldsZeroFrames(t *testing.T) {
	te := buildTrackEntryBytes(1, TrackTypeVideo, CodecVP8, 640, 480, 0, 0)
	var cluster []byte
	cluster = ebml.WriteElement(cluster, idTimecode, encodeUintMinimal(0))
	src := buildDocument([][]byte{te}, [][]byte{cluster}, false)

	sess, err := Parse(src, ParseOptions{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	it, err := sess.Frames()
	if err != nil {
		t.Fatalf("frames: %v", err)
	}
	if _, err := it.Next(); err == nil {
		t.Fatal("expected io.EOF from an empty cluster")
	}
}

func TestParseRejectsMissingTracksForFrameIteration(t *testing.T) {
	src := buildMinimalHeader("webm", 2)
	var info []byte
	info = ebml.WriteElement(info, idTimecodeScale, encodeUintMinimal(1_000_000))
	var segment []byte
	segment = ebml.WriteElement(segment, idSegmentInfo, info)
	src = ebml.WriteElement(src, idSegment, segment)

	sess, err := Parse(src, ParseOptions{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := sess.Frames(); !errors.Is(err, ErrInvalidStructure) {
		t.Fatalf("got %v, want InvalidStructure from Frames() with no Tracks", err)
	}
}
