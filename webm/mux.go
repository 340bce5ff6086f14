package webm

import (
	"math"

	"github.com/webmforge/webmforge/ebml"
)

// MuxState is the Muxer Segment Builder's lifecycle (spec.md 4.5).
type MuxState int

const (
	MuxIdle MuxState = iota
	MuxTracksOpen
	MuxFramesAccepted
	MuxFinalized
)

func (s MuxState) String() string {
	switch s {
	case MuxIdle:
		return "Idle"
	case MuxTracksOpen:
		return "TracksOpen"
	case MuxFramesAccepted:
		return "FramesAccepted"
	case MuxFinalized:
		return "Finalized"
	default:
		return "Unknown"
	}
}

// TrackHandle is the opaque positive integer add_*_track returns
// (spec.md 3).
type TrackHandle int

const (
	segmentSizeWidth = 8
	clusterSizeWidth = 4
	maxClusterDelta   = 32767
	defaultClusterSoftCapNs = 5_000_000_000
	muxingAppName     = "webmforge"
)

type muxTrack struct {
	handle          TrackHandle
	number          uint64
	kind            TrackType
	codecID         string
	width, height   uint64
	sampleRate      float64
	channels        uint64
	lastTimestampNs int64
}

// MuxOptions configures a MuxSession.
type MuxOptions struct {
	// TimecodeScale is the nanoseconds-per-tick factor; defaults to
	// 1,000,000 (1ms per tick) when zero.
	TimecodeScale uint64
	// MaxClusterDurationNs is the soft cap on buffered cluster duration
	// before a new cluster is opened; defaults to 5 seconds when zero,
	// and is always clamped so the tick count fits a signed 16-bit
	// delta (spec.md 4.5).
	MaxClusterDurationNs int64
}

// MuxSession assembles a WebM byte stream from track declarations and
// frames (spec.md 4.5). Zero value is not usable; construct with
// NewMuxSession.
type MuxSession struct {
	timecodeScale   uint64
	maxClusterTicks int64

	state    MuxState
	tracks   []muxTrack
	nextHandle TrackHandle

	buf []byte

	tracksEmitted      bool
	segmentPayloadStart int
	segmentSizeOffset    int
	durationValueOffset  int

	clusterOpen         bool
	clusterBaseTicks    int64
	clusterPayloadStart int
	clusterSizeOffset   int

	lastFrameTimestampNs int64

	finalBytes []byte
}

// NewMuxSession constructs an empty MuxSession in state Idle.
func NewMuxSession(opts MuxOptions) *MuxSession {
	scale := opts.TimecodeScale
	if scale == 0 {
		scale = defaultTimecodeScale
	}
	softCapNs := opts.MaxClusterDurationNs
	if softCapNs == 0 {
		softCapNs = defaultClusterSoftCapNs
	}
	maxTicks := int64(float64(softCapNs) / float64(scale))
	if maxTicks > maxClusterDelta {
		maxTicks = maxClusterDelta
	}
	if maxTicks < 1 {
		maxTicks = 1
	}

	ms := &MuxSession{
		timecodeScale:   scale,
		maxClusterTicks: maxTicks,
		nextHandle:      1,
	}
	ms.writeEBMLHeader()
	ms.openSegment()
	return ms
}

// State returns the session's current lifecycle state.
func (ms *MuxSession) State() MuxState { return ms.state }

func (ms *MuxSession) writeEBMLHeader() {
	var payload []byte
	payload = ebml.WriteElement(payload, idEBMLVersion, encodeUintMinimal(1))
	payload = ebml.WriteElement(payload, idEBMLReadVersion, encodeUintMinimal(1))
	payload = ebml.WriteElement(payload, idEBMLMaxIDLength, encodeUintMinimal(4))
	payload = ebml.WriteElement(payload, idEBMLMaxSizeLen, encodeUintMinimal(8))
	payload = ebml.WriteElement(payload, idDocType, []byte("webm"))
	payload = ebml.WriteElement(payload, idDocTypeVersion, encodeUintMinimal(2))
	payload = ebml.WriteElement(payload, idDocTypeReadVer, encodeUintMinimal(2))
	ms.buf = ebml.WriteElement(ms.buf, idEBML, payload)
}

// openSegment appends the Segment element with an 8-byte reserved size
// field, back-patched at Finalize (spec.md 4.5).
func (ms *MuxSession) openSegment() {
	ms.buf = append(ms.buf, ebml.EncodeID(uint32(idSegment))...)
	ms.segmentSizeOffset = len(ms.buf)
	ms.buf = append(ms.buf, make([]byte, segmentSizeWidth)...)
	ms.segmentPayloadStart = len(ms.buf)
}

// AddVideoTrack registers a video track. Valid only before any frame
// has been written (spec.md 4.5).
func (ms *MuxSession) AddVideoTrack(width, height uint64, codecID string) (TrackHandle, error) {
	if err := ms.checkTrackRegistrationOpen(); err != nil {
		return 0, err
	}
	if width == 0 || height == 0 {
		return 0, newErr(KindInvalidArgument, "video track dimensions must be nonzero")
	}
	if !IsVideoCodec(codecID) {
		return 0, newErr(KindUnsupportedCodec, "codec_id not in video Codec Registry: "+codecID)
	}
	handle := ms.nextHandle
	ms.nextHandle++
	ms.tracks = append(ms.tracks, muxTrack{
		handle:          handle,
		number:          uint64(handle),
		kind:            TrackTypeVideo,
		codecID:         codecID,
		width:           width,
		height:          height,
		lastTimestampNs: -1,
	})
	ms.state = MuxTracksOpen
	return handle, nil
}

// AddAudioTrack registers an audio track. Valid only before any frame
// has been written (spec.md 4.5).
func (ms *MuxSession) AddAudioTrack(samplingFrequency float64, channels uint64, codecID string) (TrackHandle, error) {
	if err := ms.checkTrackRegistrationOpen(); err != nil {
		return 0, err
	}
	if samplingFrequency <= 0 || channels == 0 {
		return 0, newErr(KindInvalidArgument, "audio track requires positive sampling frequency and channels")
	}
	if !IsAudioCodec(codecID) {
		return 0, newErr(KindUnsupportedCodec, "codec_id not in audio Codec Registry: "+codecID)
	}
	handle := ms.nextHandle
	ms.nextHandle++
	ms.tracks = append(ms.tracks, muxTrack{
		handle:          handle,
		number:          uint64(handle),
		kind:            TrackTypeAudio,
		codecID:         codecID,
		sampleRate:      samplingFrequency,
		channels:        channels,
		lastTimestampNs: -1,
	})
	ms.state = MuxTracksOpen
	return handle, nil
}

func (ms *MuxSession) checkTrackRegistrationOpen() error {
	if ms.state == MuxFramesAccepted || ms.state == MuxFinalized {
		return newErr(KindInvalidStructure, "cannot add a track after frames have been written")
	}
	return nil
}

// WriteVideoFrame appends a video frame to the stream.
func (ms *MuxSession) WriteVideoFrame(handle TrackHandle, payload []byte, timestampNs int64, isKeyframe bool) error {
	return ms.writeFrame(handle, payload, timestampNs, isKeyframe, TrackTypeVideo)
}

// WriteAudioFrame appends an audio frame; it is always marked a
// keyframe in the emitted stream (spec.md 3).
func (ms *MuxSession) WriteAudioFrame(handle TrackHandle, payload []byte, timestampNs int64) error {
	return ms.writeFrame(handle, payload, timestampNs, true, TrackTypeAudio)
}

func (ms *MuxSession) writeFrame(handle TrackHandle, payload []byte, timestampNs int64, isKeyframe bool, wantKind TrackType) error {
	if ms.state == MuxFinalized {
		return newErr(KindInvalidArgument, "session already finalized")
	}
	if len(payload) == 0 {
		return newErr(KindInvalidArgument, "frame payload is empty")
	}

	track := ms.trackByHandle(handle)
	if track == nil {
		return newErr(KindInvalidArgument, "unknown track handle")
	}
	if track.kind != wantKind {
		return newErr(KindInvalidArgument, "handle does not refer to a "+wantKind.String()+" track")
	}
	if track.lastTimestampNs >= 0 && timestampNs < track.lastTimestampNs {
		return newErr(KindOutOfOrderFrame, "frame timestamp precedes the last one written on this track")
	}

	if err := ms.ensureTracksEmitted(); err != nil {
		return err
	}

	ticks := int64(math.Round(float64(timestampNs) / float64(ms.timecodeScale)))

	// A cluster's base timecode must be the minimum tick of any block it
	// carries: ticks running ahead of maxClusterTicks need a new cluster,
	// and so does a tick landing behind the current base (a different
	// track interleaving an earlier frame), since the relative delta
	// below would otherwise wrap when cast to int16.
	if !ms.clusterOpen {
		ms.openCluster(ticks)
	} else if ticks-ms.clusterBaseTicks > ms.maxClusterTicks || ticks < ms.clusterBaseTicks {
		if err := ms.closeCluster(); err != nil {
			return err
		}
		ms.openCluster(ticks)
	}

	delta := int16(ticks - ms.clusterBaseTicks)

	blockPayload := make([]byte, 0, len(payload)+16)
	blockPayload = append(blockPayload, ebml.EncodeVintAuto(track.number)...)
	blockPayload = append(blockPayload, byte(uint16(delta)>>8), byte(uint16(delta)))
	flags := byte(0)
	if isKeyframe {
		flags |= flagKeyframe
	}
	blockPayload = append(blockPayload, flags)
	blockPayload = append(blockPayload, payload...)

	ms.buf = ebml.WriteElement(ms.buf, idSimpleBlock, blockPayload)

	track.lastTimestampNs = timestampNs
	if timestampNs > ms.lastFrameTimestampNs {
		ms.lastFrameTimestampNs = timestampNs
	}
	ms.state = MuxFramesAccepted
	return nil
}

func (ms *MuxSession) trackByHandle(handle TrackHandle) *muxTrack {
	for i := range ms.tracks {
		if ms.tracks[i].handle == handle {
			return &ms.tracks[i]
		}
	}
	return nil
}

// openCluster starts a new Cluster with a 4-byte reserved size field
// (spec.md 4.5).
func (ms *MuxSession) openCluster(baseTicks int64) {
	ms.buf = append(ms.buf, ebml.EncodeID(uint32(idCluster))...)
	ms.clusterSizeOffset = len(ms.buf)
	ms.buf = append(ms.buf, make([]byte, clusterSizeWidth)...)
	ms.clusterPayloadStart = len(ms.buf)
	ms.buf = ebml.WriteElement(ms.buf, idTimecode, encodeUintMinimal(uint64(baseTicks)))
	ms.clusterBaseTicks = baseTicks
	ms.clusterOpen = true
}

// closeCluster back-patches the open Cluster's reserved size field.
func (ms *MuxSession) closeCluster() error {
	if !ms.clusterOpen {
		return nil
	}
	size := uint64(len(ms.buf) - ms.clusterPayloadStart)
	if err := patchReservedVint(ms.buf, ms.clusterSizeOffset, clusterSizeWidth, size); err != nil {
		return err
	}
	ms.clusterOpen = false
	return nil
}

// ensureTracksEmitted writes SegmentInfo and Tracks exactly once, at
// the point the track list is locked in: the first frame write, or
// Finalize if no frame was ever written (spec.md 4.5).
func (ms *MuxSession) ensureTracksEmitted() error {
	if ms.tracksEmitted {
		return nil
	}
	if len(ms.tracks) == 0 {
		return newErr(KindInvalidStructure, "no tracks registered")
	}

	var info []byte
	info = ebml.WriteElement(info, idTimecodeScale, encodeUintMinimal(ms.timecodeScale))
	info = ebml.WriteElement(info, idMuxingApp, []byte(muxingAppName))
	info = ebml.WriteElement(info, idWritingApp, []byte(muxingAppName))
	info = append(info, ebml.EncodeID(uint32(idDuration))...)
	durSizeVint, err := ebml.EncodeVint(8, 1)
	if err != nil {
		return wrapErr(KindSizeFieldOverflow, "encoding Duration size field", err)
	}
	info = append(info, durSizeVint...)
	durRelOffset := len(info)
	info = append(info, make([]byte, 8)...)

	ms.buf = ebml.WriteElement(ms.buf, idSegmentInfo, info)
	payloadStart := len(ms.buf) - len(info)
	ms.durationValueOffset = payloadStart + durRelOffset

	var tracksPayload []byte
	for _, t := range ms.tracks {
		tracksPayload = ebml.WriteElement(tracksPayload, idTrackEntry, buildTrackEntry(t))
	}
	ms.buf = ebml.WriteElement(ms.buf, idTracks, tracksPayload)

	ms.tracksEmitted = true
	return nil
}

func buildTrackEntry(t muxTrack) []byte {
	var te []byte
	te = ebml.WriteElement(te, idTrackNumber, encodeUintMinimal(t.number))
	te = ebml.WriteElement(te, idTrackType, encodeUintMinimal(uint64(t.kind)))
	te = ebml.WriteElement(te, idCodecID, []byte(t.codecID))

	switch t.kind {
	case TrackTypeVideo:
		var video []byte
		video = ebml.WriteElement(video, idPixelWidth, encodeUintMinimal(t.width))
		video = ebml.WriteElement(video, idPixelHeight, encodeUintMinimal(t.height))
		te = ebml.WriteElement(te, idVideo, video)
	case TrackTypeAudio:
		var audio []byte
		audio = ebml.WriteElement(audio, idSamplingFreq, encodeFloat64(t.sampleRate))
		audio = ebml.WriteElement(audio, idChannels, encodeUintMinimal(t.channels))
		te = ebml.WriteElement(te, idAudio, audio)
	}
	return te
}

// Finalize closes the open cluster, back-patches every reserved size
// and the Duration value, and returns the complete WebM byte stream.
// Subsequent calls return the same bytes (spec.md 4.5).
func (ms *MuxSession) Finalize() ([]byte, error) {
	if ms.state == MuxFinalized {
		return ms.finalBytes, nil
	}
	if ms.state == MuxIdle {
		return nil, newErr(KindInvalidStructure, "finalize called with no tracks registered")
	}

	if err := ms.ensureTracksEmitted(); err != nil {
		return nil, err
	}
	if err := ms.closeCluster(); err != nil {
		return nil, err
	}

	segmentSize := uint64(len(ms.buf) - ms.segmentPayloadStart)
	if err := patchReservedVint(ms.buf, ms.segmentSizeOffset, segmentSizeWidth, segmentSize); err != nil {
		return nil, err
	}

	durationTicks := float64(ms.lastFrameTimestampNs) / float64(ms.timecodeScale)
	bits := math.Float64bits(durationTicks)
	for i := 0; i < 8; i++ {
		ms.buf[ms.durationValueOffset+i] = byte(bits >> uint(8*(7-i)))
	}

	ms.finalBytes = ms.buf
	ms.state = MuxFinalized
	return ms.finalBytes, nil
}

// patchReservedVint overwrites a reserved-width size field in place.
// Failing to fit is a programming error in the reservation policy
// (spec.md 4.5), reported as SizeFieldOverflow rather than truncated.
func patchReservedVint(buf []byte, offset, width int, value uint64) error {
	encoded, err := ebml.EncodeVint(value, width)
	if err != nil {
		return wrapErr(KindSizeFieldOverflow, "reserved size field too narrow for actual size", err)
	}
	copy(buf[offset:offset+width], encoded)
	return nil
}

func encodeUintMinimal(v uint64) []byte {
	n := 8
	for n > 1 && (v>>uint((n-1)*8))&0xFF == 0 {
		n--
	}
	b := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func encodeFloat64(v float64) []byte {
	bits := math.Float64bits(v)
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(bits >> uint(8*(7-i)))
	}
	return b
}
