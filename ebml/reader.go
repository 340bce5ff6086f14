package ebml

// ElementID identifies an EBML tag. Element IDs retain their length
// marker as part of their numeric identity (spec.md 4.1), so the same
// constant used in a lookup table is exactly what DecodeVint(..., true)
// returns.
type ElementID uint32

// Header describes one element as returned by ReadElement: its ID, its
// declared size, whether that size used the EBML unknown-length
// sentinel, and the payload slice (nil when UnknownSize is true, since
// the true extent is unknown until a sibling is located).
type Header struct {
	ID          ElementID
	Size        uint64
	UnknownSize bool
	// HeaderLen is the number of bytes occupied by the ID+size VINTs,
	// i.e. payload starts at the offset passed to ReadElement plus
	// HeaderLen.
	HeaderLen int
	// Payload is src[start+HeaderLen : start+HeaderLen+Size], bounds
	// checked. It is nil when UnknownSize is true.
	Payload []byte
}

// ReadElement reads one element beginning at src[cursor:] and returns
// its Header plus the cursor position immediately after it (after the
// payload for known-size elements, after the size VINT for
// unknown-length elements — the Document Walker advances further for
// those by locating the next valid sibling).
//
// Zero-length payloads are valid and return a non-nil empty slice.
func ReadElement(src []byte, cursor int) (Header, int, error) {
	if cursor < 0 || cursor > len(src) {
		return Header{}, cursor, ErrTruncated
	}

	idVal, idWidth, _, err := DecodeVint(src[cursor:], true)
	if err != nil {
		return Header{}, cursor, err
	}
	pos := cursor + idWidth

	if pos > len(src) {
		return Header{}, cursor, ErrTruncated
	}
	sizeVal, sizeWidth, unknown, err := DecodeVint(src[pos:], false)
	if err != nil {
		return Header{}, cursor, err
	}
	pos += sizeWidth

	h := Header{
		ID:          ElementID(idVal),
		Size:        sizeVal,
		UnknownSize: unknown,
		HeaderLen:   idWidth + sizeWidth,
	}

	if unknown {
		return h, pos, nil
	}

	end := pos + int(sizeVal)
	if sizeVal > uint64(len(src)) || end > len(src) || end < pos {
		return Header{}, cursor, ErrTruncated
	}
	h.Payload = src[pos:end]
	return h, end, nil
}

// WriteElement appends id and data (with its size VINT) to dst and
// returns the extended slice. It is the inverse of ReadElement for
// known-size elements and is used directly by components that don't
// need back-patching (everything except the muxer's reserved-width
// containers, which compose EncodeID/EncodeVint with a fixed width
// themselves — see webm.MuxSession).
func WriteElement(dst []byte, id ElementID, data []byte) []byte {
	dst = append(dst, EncodeID(uint32(id))...)
	dst = append(dst, EncodeVintAuto(uint64(len(data)))...)
	dst = append(dst, data...)
	return dst
}
