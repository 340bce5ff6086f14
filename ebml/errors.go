// Package ebml implements the variable-length integer codec and the
// element reader that sit underneath both the WebM parser and muxer.
package ebml

import "errors"

// ErrTruncated is returned when fewer bytes remain in the source than a
// VINT or element header/payload requires.
var ErrTruncated = errors.New("ebml: truncated input")

// ErrInvalidVint is returned when a VINT's leading byte is zero. An
// unknown-length size is not reported through this error: DecodeVint
// and ReadElement flag it in their unknown/UnknownSize results, and
// nothing in this package rejects it by element context.
var ErrInvalidVint = errors.New("ebml: invalid vint")

// ErrValueTooLarge is returned by EncodeVint when value does not fit in
// the requested width.
var ErrValueTooLarge = errors.New("ebml: value too large for vint width")
