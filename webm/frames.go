package webm

import (
	"io"

	"github.com/webmforge/webmforge/ebml"
)

// Lacing type bits, masked out of a Block/SimpleBlock flags byte
// (spec.md 4.4).
const (
	lacingNone  = 0x00
	lacingXiph  = 0x02
	lacingFixed = 0x04
	lacingEBML  = 0x06
	lacingMask  = 0x06

	flagKeyframe = 0x80
)

// FrameIterator pulls frames out of a ParseSession's Clusters one at a
// time, lazily: a later Cluster is not touched until the frames of
// every earlier one have been consumed (spec.md 4.4).
type FrameIterator struct {
	session         *ParseSession
	clusterIdx      int
	cursor          int
	clusterTimecode int64
	queue           []Frame
}

// Frames returns a Frame Iterator over the Document's clusters. It
// fails with InvalidStructure if the Document declared no tracks,
// since a frame can never be attributed to one (spec.md 4.3).
func (s *ParseSession) Frames() (*FrameIterator, error) {
	if len(s.tracks) == 0 {
		return nil, newErr(KindInvalidStructure, "Document has no Tracks; cannot iterate frames")
	}
	return &FrameIterator{session: s}, nil
}

// Next returns the next Frame in file order, or io.EOF once every
// Cluster has been exhausted.
func (it *FrameIterator) Next() (Frame, error) {
	for {
		if len(it.queue) > 0 {
			f := it.queue[0]
			it.queue = it.queue[1:]
			return f, nil
		}

		if it.clusterIdx >= len(it.session.clusters) {
			return Frame{}, io.EOF
		}

		cl := it.session.clusters[it.clusterIdx]
		if it.cursor >= len(cl.payload) {
			it.clusterIdx++
			it.cursor = 0
			it.clusterTimecode = 0
			continue
		}

		h, next, err := ebml.ReadElement(cl.payload, it.cursor)
		if err != nil {
			return Frame{}, fromEBML("reading Cluster child", err)
		}

		switch h.ID {
		case idTimecode:
			it.clusterTimecode = int64(readUint(h.Payload))

		case idSimpleBlock:
			frames, err := it.session.decodeSimpleBlock(h.Payload, it.clusterTimecode)
			if err != nil {
				return Frame{}, err
			}
			it.queue = frames

		case idBlockGroup:
			frames, err := it.session.decodeBlockGroup(h.Payload, it.clusterTimecode)
			if err != nil {
				return Frame{}, err
			}
			it.queue = frames
		}

		it.cursor = next
	}
}

// decodeSimpleBlock parses a SimpleBlock payload into one or more
// frames (lacing may pack several), using the keyframe flag bit
// (spec.md 4.4).
func (s *ParseSession) decodeSimpleBlock(payload []byte, clusterTimecode int64) ([]Frame, error) {
	trackNumber, relTimecode, flags, body, err := parseBlockHeader(payload)
	if err != nil {
		return nil, err
	}
	keyframe := flags&flagKeyframe != 0
	payloads, err := splitLacedPayloads(flags, body)
	if err != nil {
		return nil, err
	}
	return s.buildFrames(trackNumber, clusterTimecode, relTimecode, keyframe, payloads)
}

// decodeBlockGroup parses a BlockGroup's Block child and infers
// keyframe status from the absence of a ReferenceBlock child
// (spec.md 4.4): a block referencing no other frame is a keyframe.
func (s *ParseSession) decodeBlockGroup(payload []byte, clusterTimecode int64) ([]Frame, error) {
	var blockPayload []byte
	keyframe := true

	cursor := 0
	for cursor < len(payload) {
		el, next, err := ebml.ReadElement(payload, cursor)
		if err != nil {
			return nil, fromEBML("reading BlockGroup child", err)
		}
		switch el.ID {
		case idBlock:
			blockPayload = el.Payload
		case idReferenceBlock:
			keyframe = false
		}
		cursor = next
	}
	if blockPayload == nil {
		return nil, newErr(KindInvalidStructure, "BlockGroup has no Block child")
	}

	trackNumber, relTimecode, flags, body, err := parseBlockHeader(blockPayload)
	if err != nil {
		return nil, err
	}
	payloads, err := splitLacedPayloads(flags, body)
	if err != nil {
		return nil, err
	}
	return s.buildFrames(trackNumber, clusterTimecode, relTimecode, keyframe, payloads)
}

// parseBlockHeader decodes the Track Number VINT, the signed 16-bit
// relative timestamp, and the flags byte common to Block and
// SimpleBlock (spec.md 4.4).
func parseBlockHeader(payload []byte) (trackNumber uint64, relTimecode int16, flags byte, body []byte, err error) {
	trackNumber, width, _, err := ebml.DecodeVint(payload, false)
	if err != nil {
		return 0, 0, 0, nil, fromEBML("reading Block track number", err)
	}
	pos := width
	if pos+3 > len(payload) {
		return 0, 0, 0, nil, wrapErr(KindTruncated, "Block header truncated", ebml.ErrTruncated)
	}
	relTimecode = int16(uint16(payload[pos])<<8 | uint16(payload[pos+1]))
	flags = payload[pos+2]
	body = payload[pos+3:]
	return trackNumber, relTimecode, flags, body, nil
}

// splitLacedPayloads separates a Block/SimpleBlock's remaining bytes
// into one payload per laced frame (spec.md 4.4).
func splitLacedPayloads(flags byte, body []byte) ([][]byte, error) {
	switch flags & lacingMask {
	case lacingNone:
		return [][]byte{body}, nil
	case lacingXiph:
		return splitXiphLacing(body)
	case lacingFixed:
		return splitFixedLacing(body)
	case lacingEBML:
		return splitEBMLLacing(body)
	default:
		return nil, newErr(KindInvalidLacing, "unreachable lacing selector")
	}
}

func splitXiphLacing(body []byte) ([][]byte, error) {
	if len(body) < 1 {
		return nil, newErr(KindInvalidLacing, "Xiph lacing missing frame count")
	}
	numFrames := int(body[0]) + 1
	pos := 1
	sizes := make([]int, numFrames)
	total := 0
	for i := 0; i < numFrames-1; i++ {
		size := 0
		for {
			if pos >= len(body) {
				return nil, newErr(KindInvalidLacing, "Xiph lacing size table truncated")
			}
			b := body[pos]
			pos++
			size += int(b)
			if b != 0xFF {
				break
			}
		}
		sizes[i] = size
		total += size
	}

	frames := make([][]byte, numFrames)
	for i := 0; i < numFrames-1; i++ {
		if pos+sizes[i] > len(body) {
			return nil, newErr(KindInvalidLacing, "Xiph lacing frame exceeds block size")
		}
		frames[i] = body[pos : pos+sizes[i]]
		pos += sizes[i]
	}
	if pos > len(body) {
		return nil, newErr(KindInvalidLacing, "Xiph lacing overruns block")
	}
	frames[numFrames-1] = body[pos:]
	return frames, nil
}

func splitFixedLacing(body []byte) ([][]byte, error) {
	if len(body) < 1 {
		return nil, newErr(KindInvalidLacing, "Fixed lacing missing frame count")
	}
	numFrames := int(body[0]) + 1
	rest := body[1:]
	if numFrames <= 0 || len(rest)%numFrames != 0 {
		return nil, newErr(KindInvalidLacing, "Fixed lacing payload not evenly divisible")
	}
	size := len(rest) / numFrames
	frames := make([][]byte, numFrames)
	for i := 0; i < numFrames; i++ {
		frames[i] = rest[i*size : (i+1)*size]
	}
	return frames, nil
}

func splitEBMLLacing(body []byte) ([][]byte, error) {
	if len(body) < 1 {
		return nil, newErr(KindInvalidLacing, "EBML lacing missing frame count")
	}
	numFrames := int(body[0]) + 1
	pos := 1

	sizes := make([]int, numFrames)
	firstSize, width, _, err := ebml.DecodeVint(body[pos:], false)
	if err != nil {
		return nil, fromEBML("reading EBML lacing first size", err)
	}
	pos += width
	sizes[0] = int(firstSize)
	total := sizes[0]

	prev := int64(firstSize)
	for i := 1; i < numFrames-1; i++ {
		delta, dwidth, err := decodeSignedVint(body[pos:])
		if err != nil {
			return nil, err
		}
		pos += dwidth
		prev += delta
		if prev < 0 {
			return nil, newErr(KindInvalidLacing, "EBML lacing size delta went negative")
		}
		sizes[i] = int(prev)
		total += sizes[i]
	}

	frames := make([][]byte, numFrames)
	for i := 0; i < numFrames-1; i++ {
		if pos+sizes[i] > len(body) {
			return nil, newErr(KindInvalidLacing, "EBML lacing frame exceeds block size")
		}
		frames[i] = body[pos : pos+sizes[i]]
		pos += sizes[i]
	}
	if pos > len(body) {
		return nil, newErr(KindInvalidLacing, "EBML lacing overruns block")
	}
	frames[numFrames-1] = body[pos:]
	return frames, nil
}

// decodeSignedVint reads a Matroska signed integer VINT: an unsigned
// VINT biased by 2^(7*width-1) - 1 (spec.md 4.4).
func decodeSignedVint(data []byte) (int64, int, error) {
	raw, width, _, err := ebml.DecodeVint(data, false)
	if err != nil {
		return 0, 0, fromEBML("reading EBML lacing size delta", err)
	}
	bias := int64(1)<<(uint(7*width)-1) - 1
	return int64(raw) - bias, width, nil
}

// buildFrames attaches the track/timestamp/keyframe metadata common to
// every payload produced by a single (possibly laced) block. Laced
// frames share the block's timestamp (spec.md 4.4).
func (s *ParseSession) buildFrames(trackNumber uint64, clusterTimecode int64, relTimecode int16, keyframe bool, payloads [][]byte) ([]Frame, error) {
	if _, ok := s.byNumber[trackNumber]; !ok {
		return nil, newErr(KindInvalidStructure, "Block references unknown track number")
	}

	ticks := clusterTimecode + int64(relTimecode)
	if ticks < 0 {
		if s.strict {
			return nil, newErr(KindNegativeTimestamp, "frame timestamp is negative")
		}
		ticks = 0
	}
	tsNs := ticks * int64(s.info.TimecodeScale)

	frames := make([]Frame, len(payloads))
	for i, p := range payloads {
		frames[i] = Frame{
			TrackNumber: trackNumber,
			TimestampNs: tsNs,
			Payload:     p,
			IsKeyframe:  keyframe,
		}
	}
	return frames, nil
}
