package capture

import (
	"github.com/pion/rtp"

	"github.com/webmforge/webmforge/webm"
)

// vpxDepacketizer reassembles VP8 or VP9 RTP payloads into whole
// encoded frames, tracking keyframe state and a per-track RTP
// timestamp base. The payload-descriptor parsing mirrors the
// teacher's processVP8Packet/processVP9Packet; H.264 is not carried
// forward here since capture only negotiates VP8 and VP9.
type vpxDepacketizer struct {
	codec string

	currentFrame   []byte
	seenKeyframe   bool
	firstTimestamp uint32
	haveFirst      bool
}

// accumulate feeds one RTP packet in and reports a completed frame
// when the packet closes one out (marker bit set for VP8, marker or
// end-of-frame bit for VP9).
func (d *vpxDepacketizer) accumulate(packet *rtp.Packet) (frame []byte, keyframe bool, ok bool) {
	if packet == nil || len(packet.Payload) == 0 {
		return nil, false, false
	}
	if !d.haveFirst {
		d.firstTimestamp = packet.Timestamp
		d.haveFirst = true
	}

	switch d.codec {
	case webm.CodecVP9:
		return d.accumulateVP9(packet)
	default:
		return d.accumulateVP8(packet)
	}
}

// timestampNs converts an RTP timestamp (90kHz clock, the rate both
// VP8 and VP9 profiles use) to a nanosecond offset from the first
// packet seen.
func (d *vpxDepacketizer) timestampNs(rtpTimestamp uint32) int64 {
	return int64(rtpTimestamp-d.firstTimestamp) * 1_000_000_000 / 90000
}

func (d *vpxDepacketizer) accumulateVP8(packet *rtp.Packet) ([]byte, bool, bool) {
	payload := packet.Payload
	headerSize := 1

	if payload[0]&0x80 != 0 {
		headerSize++
		if len(payload) < headerSize {
			return nil, false, false
		}
	}

	isStart := payload[0]&0x10 != 0
	if len(payload) <= headerSize {
		return nil, false, false
	}
	payloadData := payload[headerSize:]

	if isStart && len(payloadData) >= 3 {
		isKeyFrame := payloadData[0]&0x01 == 0
		if !d.seenKeyframe && !isKeyFrame {
			return nil, false, false
		}
		d.seenKeyframe = true
	}

	if isStart {
		d.currentFrame = nil
	}
	d.currentFrame = append(d.currentFrame, payloadData...)

	if packet.Marker && len(d.currentFrame) > 0 {
		frame := d.currentFrame
		d.currentFrame = nil
		return frame, len(frame) > 0 && frame[0]&0x01 == 0, true
	}
	return nil, false, false
}

func (d *vpxDepacketizer) accumulateVP9(packet *rtp.Packet) ([]byte, bool, bool) {
	payload := packet.Payload
	headerSize := 1

	if payload[0]&0x80 != 0 {
		headerSize++
		if len(payload) < headerSize {
			return nil, false, false
		}
		if payload[1]&0x80 != 0 {
			headerSize++
		}
	}
	if payload[0]&0x40 != 0 {
		headerSize++
	}
	if payload[0]&0x10 != 0 {
		headerSize++
	}
	if len(payload) < headerSize {
		return nil, false, false
	}

	isStart := payload[0]&0x08 != 0
	isEnd := payload[0]&0x04 != 0
	isInterFrame := payload[0]&0x01 != 0
	payloadData := payload[headerSize:]

	if isStart && !isInterFrame {
		d.seenKeyframe = true
	} else if !d.seenKeyframe {
		return nil, false, false
	}

	if isStart {
		d.currentFrame = nil
	}
	d.currentFrame = append(d.currentFrame, payloadData...)

	if (isEnd || packet.Marker) && len(d.currentFrame) > 0 {
		frame := d.currentFrame
		d.currentFrame = nil
		return frame, isStart && !isInterFrame, true
	}
	return nil, false, false
}
