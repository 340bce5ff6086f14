package webm

import (
	"errors"
	"math"

	"github.com/webmforge/webmforge/ebml"
)

// maxSupportedDocTypeReadVersion is the highest DocTypeReadVersion this
// implementation promises to parse correctly (spec.md 3).
const maxSupportedDocTypeReadVersion = 2

// defaultTimecodeScale is used when SegmentInfo omits TimecodeScale.
const defaultTimecodeScale = 1_000_000

// segmentLevelIDs are the elements permitted directly inside Segment
// (spec.md 4.3's InSegment state) plus the set a boundary scan for an
// unknown-length Cluster looks for.
var segmentLevelIDs = map[ebml.ElementID]bool{
	idSegmentInfo: true,
	idTracks:      true,
	idCluster:     true,
	idSeekHead:    true,
	idCues:        true,
	idVoid:        true,
}

// clusterRange is a byte-range reference into the parse source; it is
// captured during the single forward Document Walker pass but its
// contents are not decoded into frames until the caller pulls from the
// Frame Iterator (spec.md 4.4's laziness requirement).
type clusterRange struct {
	payload []byte
}

// ParseOptions configures a Parse call.
type ParseOptions struct {
	// Strict, when true, makes the Frame Iterator report
	// NegativeTimestamp instead of clamping to zero (spec.md 4.4).
	Strict bool
}

// ParseSession is the parsed, self-contained result of Parse. It
// borrows from the input byte slice: the caller's slice must outlive
// the session and any Frame/Track values it has handed out (spec.md 3).
type ParseSession struct {
	header   EbmlHeader
	info     SegmentInfo
	tracks   []Track
	byNumber map[uint64]*Track
	clusters []clusterRange
	strict   bool
}

// Parse walks src in one forward pass (spec.md 4.3) and returns a
// ParseSession exposing metadata and a lazy Frame Iterator.
func Parse(src []byte, opts ParseOptions) (*ParseSession, error) {
	cursor := 0

	headerElem, next, err := ebml.ReadElement(src, cursor)
	if err != nil {
		if errors.Is(err, ebml.ErrInvalidVint) {
			return nil, wrapErr(KindInvalidHeader, "input does not start with an EBML element", err)
		}
		return nil, fromEBML("reading EBML header element", err)
	}
	if headerElem.ID != idEBML {
		return nil, newErr(KindInvalidHeader, "first element is not the EBML header")
	}
	header, err := parseEBMLHeader(headerElem.Payload)
	if err != nil {
		return nil, err
	}
	if header.DocType != "webm" {
		return nil, newErr(KindInvalidHeader, "DocType is not \"webm\": "+header.DocType)
	}
	if header.DocTypeReadVersion > maxSupportedDocTypeReadVersion {
		return nil, newErr(KindInvalidHeader, "DocTypeReadVersion exceeds supported level")
	}
	cursor = next

	segElem, next, err := ebml.ReadElement(src, cursor)
	if err != nil {
		return nil, fromEBML("reading Segment element", err)
	}
	if segElem.ID != idSegment {
		return nil, newErr(KindInvalidStructure, "expected Segment after EBML header")
	}

	var segmentPayload []byte
	if segElem.UnknownSize {
		segmentPayload = src[next:]
	} else {
		segmentPayload = segElem.Payload
	}

	session := &ParseSession{
		header:   header,
		byNumber: make(map[uint64]*Track),
		strict:   opts.Strict,
	}
	session.info.TimecodeScale = defaultTimecodeScale

	if err := session.walkSegment(segmentPayload); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *ParseSession) walkSegment(payload []byte) error {
	cursor := 0
	sawSegmentInfo := false

	for cursor < len(payload) {
		h, next, err := ebml.ReadElement(payload, cursor)
		if err != nil {
			return fromEBML("reading Segment child element", err)
		}

		switch h.ID {
		case idSegmentInfo:
			info, err := parseSegmentInfo(h.Payload)
			if err != nil {
				return err
			}
			s.info = info
			sawSegmentInfo = true

		case idTracks:
			tracks, err := parseTracks(h.Payload)
			if err != nil {
				return err
			}
			for i := range tracks {
				t := &tracks[i]
				if _, dup := s.byNumber[t.Number]; dup {
					return newErr(KindDuplicateTrackNumber, "track number repeated in Tracks")
				}
				s.byNumber[t.Number] = t
			}
			s.tracks = tracks

		case idCluster:
			if h.UnknownSize {
				end := scanForBoundary(payload, next, segmentLevelIDs)
				s.clusters = append(s.clusters, clusterRange{payload: payload[next:end]})
				cursor = end
				continue
			}
			s.clusters = append(s.clusters, clusterRange{payload: h.Payload})

		case idSeekHead, idCues, idVoid:
			// Semantically skipped (spec.md 4.3).

		default:
			// Unknown elements at Segment level are skipped, not errors
			// (spec.md 4.2).
		}

		cursor = next
	}

	_ = sawSegmentInfo // TimecodeScale default is already primed; presence isn't otherwise load-bearing.
	if s.info.TimecodeScale == 0 {
		return newErr(KindInvalidStructure, "TimecodeScale must be greater than zero")
	}
	return nil
}

// scanForBoundary resolves an unknown-length element's end by scanning
// forward for the next offset at which a valid sibling element header
// can be decoded (spec.md 4.1). Used only for unknown-length Clusters;
// an unknown-length Segment is taken to extend to the end of the buffer
// (see Parse).
func scanForBoundary(src []byte, start int, siblings map[ebml.ElementID]bool) int {
	for i := start; i < len(src); i++ {
		h, _, err := ebml.ReadElement(src, i)
		if err != nil {
			continue
		}
		if siblings[h.ID] {
			return i
		}
	}
	return len(src)
}

func parseEBMLHeader(payload []byte) (EbmlHeader, error) {
	h := EbmlHeader{
		DocTypeVersion:     1,
		DocTypeReadVersion: 1,
		MaxIDLength:        4,
		MaxSizeLength:      8,
	}
	cursor := 0
	for cursor < len(payload) {
		el, next, err := ebml.ReadElement(payload, cursor)
		if err != nil {
			return EbmlHeader{}, fromEBML("reading EBML header child", err)
		}
		switch el.ID {
		case idDocType:
			h.DocType = string(el.Payload)
		case idDocTypeVersion:
			h.DocTypeVersion = readUint(el.Payload)
		case idDocTypeReadVer:
			h.DocTypeReadVersion = readUint(el.Payload)
		case idEBMLMaxIDLength:
			h.MaxIDLength = readUint(el.Payload)
		case idEBMLMaxSizeLen:
			h.MaxSizeLength = readUint(el.Payload)
		}
		cursor = next
	}
	return h, nil
}

func parseSegmentInfo(payload []byte) (SegmentInfo, error) {
	info := SegmentInfo{TimecodeScale: defaultTimecodeScale}
	cursor := 0
	for cursor < len(payload) {
		el, next, err := ebml.ReadElement(payload, cursor)
		if err != nil {
			return SegmentInfo{}, fromEBML("reading SegmentInfo child", err)
		}
		switch el.ID {
		case idTimecodeScale:
			info.TimecodeScale = readUint(el.Payload)
		case idDuration:
			info.DurationTicks = readFloat(el.Payload)
		}
		cursor = next
	}
	return info, nil
}

func parseTracks(payload []byte) ([]Track, error) {
	var tracks []Track
	cursor := 0
	for cursor < len(payload) {
		el, next, err := ebml.ReadElement(payload, cursor)
		if err != nil {
			return nil, fromEBML("reading Tracks child", err)
		}
		if el.ID == idTrackEntry {
			t, err := parseTrackEntry(el.Payload)
			if err != nil {
				return nil, err
			}
			tracks = append(tracks, t)
		}
		cursor = next
	}
	if len(tracks) == 0 {
		return nil, newErr(KindInvalidStructure, "Tracks has no TrackEntry")
	}
	return tracks, nil
}

func parseTrackEntry(payload []byte) (Track, error) {
	var t Track
	var sawType bool
	cursor := 0
	for cursor < len(payload) {
		el, next, err := ebml.ReadElement(payload, cursor)
		if err != nil {
			return Track{}, fromEBML("reading TrackEntry child", err)
		}
		switch el.ID {
		case idTrackNumber:
			t.Number = readUint(el.Payload)
		case idTrackType:
			t.Type = TrackType(readUint(el.Payload))
			sawType = true
		case idCodecID:
			t.CodecID = string(el.Payload)
		case idName:
			t.Name = string(el.Payload)
		case idLanguage:
			t.Language = string(el.Payload)
		case idDefaultDuration:
			t.DefaultDurationNs = readUint(el.Payload)
		case idVideo:
			if err := parseVideoSettings(el.Payload, &t); err != nil {
				return Track{}, err
			}
		case idAudio:
			if err := parseAudioSettings(el.Payload, &t); err != nil {
				return Track{}, err
			}
		}
		cursor = next
	}

	if !sawType {
		// spec.md 9's Open Question: TrackType absence is a structural
		// error, not something to infer from the codec ID prefix.
		return Track{}, newErr(KindInvalidStructure, "TrackEntry missing TrackType")
	}
	if t.Type == TrackTypeVideo && (t.PixelWidth == 0 || t.PixelHeight == 0) {
		return Track{}, newErr(KindInvalidStructure, "video TrackEntry missing pixel dimensions")
	}
	if t.Type == TrackTypeAudio && (t.SamplingFrequency <= 0 || t.Channels == 0) {
		return Track{}, newErr(KindInvalidStructure, "audio TrackEntry missing sampling frequency/channels")
	}
	return t, nil
}

func parseVideoSettings(payload []byte, t *Track) error {
	cursor := 0
	for cursor < len(payload) {
		el, next, err := ebml.ReadElement(payload, cursor)
		if err != nil {
			return fromEBML("reading Video child", err)
		}
		switch el.ID {
		case idPixelWidth:
			t.PixelWidth = readUint(el.Payload)
		case idPixelHeight:
			t.PixelHeight = readUint(el.Payload)
		}
		cursor = next
	}
	return nil
}

func parseAudioSettings(payload []byte, t *Track) error {
	cursor := 0
	for cursor < len(payload) {
		el, next, err := ebml.ReadElement(payload, cursor)
		if err != nil {
			return fromEBML("reading Audio child", err)
		}
		switch el.ID {
		case idSamplingFreq:
			t.SamplingFrequency = readFloat(el.Payload)
		case idChannels:
			t.Channels = readUint(el.Payload)
		case idBitDepth:
			t.BitDepth = readUint(el.Payload)
		}
		cursor = next
	}
	return nil
}

// readUint decodes a big-endian unsigned integer stored in the minimal
// number of bytes, the representation every Matroska "uinteger" uses.
func readUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// readFloat decodes a Matroska "float" element: 4 bytes (float32) or 8
// bytes (float64), big-endian.
func readFloat(b []byte) float64 {
	switch len(b) {
	case 4:
		bits := uint32(readUint(b))
		return float64(math.Float32frombits(bits))
	case 8:
		bits := readUint(b)
		return math.Float64frombits(bits)
	default:
		return 0
	}
}

// Header returns the parsed EBML header.
func (s *ParseSession) Header() EbmlHeader { return s.header }

// Info returns the parsed SegmentInfo.
func (s *ParseSession) Info() SegmentInfo { return s.info }

// DurationNs returns the Segment duration in nanoseconds, 0 if absent.
func (s *ParseSession) DurationNs() int64 { return s.info.DurationNs() }

// TrackCount returns the number of parsed tracks.
func (s *ParseSession) TrackCount() int { return len(s.tracks) }

// Tracks returns all parsed tracks in file order.
func (s *ParseSession) Tracks() []Track { return s.tracks }

// TrackInfo returns the i-th parsed track (file order).
func (s *ParseSession) TrackInfo(i int) Track { return s.tracks[i] }

// TrackByNumber looks up a track by its TrackNumber field.
func (s *ParseSession) TrackByNumber(number uint64) (Track, bool) {
	t, ok := s.byNumber[number]
	if !ok {
		return Track{}, false
	}
	return *t, true
}
