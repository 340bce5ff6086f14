package webm

// TrackType distinguishes the two kinds of track the WebM profile
// carries (spec.md 3).
type TrackType uint8

const (
	TrackTypeVideo TrackType = 1
	TrackTypeAudio TrackType = 2
)

func (t TrackType) String() string {
	switch t {
	case TrackTypeVideo:
		return "video"
	case TrackTypeAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// EbmlHeader is immutable after parse (spec.md 3).
type EbmlHeader struct {
	DocType            string
	DocTypeVersion     uint64
	DocTypeReadVersion uint64
	MaxIDLength        uint64
	MaxSizeLength      uint64
}

// SegmentInfo holds the Segment-wide timing fields.
type SegmentInfo struct {
	// TimecodeScale is the nanoseconds-per-tick factor; defaults to
	// 1,000,000 (1ms per tick) when absent from the source.
	TimecodeScale uint64
	// DurationTicks is the Segment duration in TimecodeScale units. Zero
	// when absent from the source (spec.md 3 allows this).
	DurationTicks float64
}

// DurationNs converts DurationTicks to nanoseconds using TimecodeScale.
func (si SegmentInfo) DurationNs() int64 {
	return int64(si.DurationTicks * float64(si.TimecodeScale))
}

// Track describes one TrackEntry (spec.md 3). Fields that only apply to
// one track type are zero-valued on the other.
type Track struct {
	Number   uint64
	Type     TrackType
	CodecID  string
	Name     string
	Language string

	// Video-only.
	PixelWidth        uint64
	PixelHeight       uint64
	DefaultDurationNs uint64 // 0 if absent

	// Audio-only.
	SamplingFrequency float64
	Channels          uint64
	BitDepth          uint64 // 0 if absent
}

// Frame is the value yielded by the Frame Iterator and consumed by the
// Muxer Segment Builder (spec.md 3).
type Frame struct {
	TrackNumber uint64
	TimestampNs int64
	Payload     []byte
	IsKeyframe  bool
}
