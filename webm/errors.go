package webm

import (
	"errors"
	"fmt"

	"github.com/webmforge/webmforge/ebml"
)

// Kind is the error taxonomy from spec.md 7. It is not a type name
// consumers are expected to switch on directly — use errors.Is against
// the sentinel Err* values instead, since a Kind alone doesn't carry
// the failing detail.
type Kind int

const (
	KindInvalidHeader Kind = iota
	KindTruncated
	KindInvalidVint
	KindInvalidStructure
	KindDuplicateTrackNumber
	KindUnsupportedCodec
	KindInvalidLacing
	KindNegativeTimestamp
	KindOutOfOrderFrame
	KindSizeFieldOverflow
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindInvalidHeader:
		return "InvalidHeader"
	case KindTruncated:
		return "Truncated"
	case KindInvalidVint:
		return "InvalidVint"
	case KindInvalidStructure:
		return "InvalidStructure"
	case KindDuplicateTrackNumber:
		return "DuplicateTrackNumber"
	case KindUnsupportedCodec:
		return "UnsupportedCodec"
	case KindInvalidLacing:
		return "InvalidLacing"
	case KindNegativeTimestamp:
		return "NegativeTimestamp"
	case KindOutOfOrderFrame:
		return "OutOfOrderFrame"
	case KindSizeFieldOverflow:
		return "SizeFieldOverflow"
	case KindInvalidArgument:
		return "InvalidArgument"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type every exported core operation
// returns on failure. Use errors.Is(err, webm.ErrTruncated) (etc) to
// test the kind, and errors.Unwrap to reach a wrapped cause such as an
// ebml package error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webm: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("webm: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, webm.ErrTruncated) match any *Error of that
// Kind, regardless of message or wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func wrapErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Sentinel values for errors.Is comparisons; only Kind is consulted.
var (
	ErrInvalidHeader        = &Error{Kind: KindInvalidHeader}
	ErrTruncated            = &Error{Kind: KindTruncated}
	ErrInvalidVint          = &Error{Kind: KindInvalidVint}
	ErrInvalidStructure     = &Error{Kind: KindInvalidStructure}
	ErrDuplicateTrackNumber = &Error{Kind: KindDuplicateTrackNumber}
	ErrUnsupportedCodec     = &Error{Kind: KindUnsupportedCodec}
	ErrInvalidLacing        = &Error{Kind: KindInvalidLacing}
	ErrNegativeTimestamp    = &Error{Kind: KindNegativeTimestamp}
	ErrOutOfOrderFrame      = &Error{Kind: KindOutOfOrderFrame}
	ErrSizeFieldOverflow    = &Error{Kind: KindSizeFieldOverflow}
	ErrInvalidArgument      = &Error{Kind: KindInvalidArgument}
)

// fromEBML maps a lower-level ebml package error to the Truncated /
// InvalidVint kinds so callers never need to know about the ebml
// package's own sentinel errors.
func fromEBML(msg string, err error) *Error {
	kind := KindInvalidVint
	if errors.Is(err, ebml.ErrTruncated) {
		kind = KindTruncated
	}
	return wrapErr(kind, msg, err)
}
