package segmap

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the failure modes a segment operation can surface,
// per the error handling design: LockTimeout and SegmentFull are ordinary
// operation failures the caller is expected to handle, IoError and
// CorruptHeader are fatal to the operation (or to opening the map), and
// IllegalArgument is caught at builder time before any allocation happens.
type ErrorKind int

const (
	// ErrLockTimeoutKind is returned when a segment's lock could not be
	// acquired within the configured deadline.
	ErrLockTimeoutKind ErrorKind = iota
	// ErrSegmentFullKind is returned when a segment's arena has no free
	// run of chunks large enough to satisfy an allocation.
	ErrSegmentFullKind
	// ErrIoErrorKind is returned when the backing store fails a read,
	// write, or flush.
	ErrIoErrorKind
	// ErrCorruptHeaderKind is returned when an existing file's header does
	// not match the expected magic/version/layout.
	ErrCorruptHeaderKind
	// ErrIllegalArgumentKind is returned for builder misconfiguration.
	ErrIllegalArgumentKind
)

func (k ErrorKind) String() string {
	switch k {
	case ErrLockTimeoutKind:
		return "LockTimeout"
	case ErrSegmentFullKind:
		return "SegmentFull"
	case ErrIoErrorKind:
		return "IoError"
	case ErrCorruptHeaderKind:
		return "CorruptHeader"
	case ErrIllegalArgumentKind:
		return "IllegalArgument"
	default:
		return "Unknown"
	}
}

// MapError is the concrete error type returned by segment and map
// operations. It wraps an underlying cause (if any) and is comparable via
// errors.Is against the sentinel Err* values below.
type MapError struct {
	Kind    ErrorKind
	Segment int // -1 if not applicable
	Cause   error
	msg     string
}

func (e *MapError) Error() string {
	if e.Segment >= 0 {
		return fmt.Sprintf("segmap: %s (segment %d): %s", e.Kind, e.Segment, e.msg)
	}
	return fmt.Sprintf("segmap: %s: %s", e.Kind, e.msg)
}

func (e *MapError) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, ErrLockTimeout) to match any *MapError of the
// same Kind, regardless of message or wrapped cause.
func (e *MapError) Is(target error) bool {
	var other *MapError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func newMapError(kind ErrorKind, segment int, cause error, format string, args ...any) *MapError {
	return &MapError{
		Kind:    kind,
		Segment: segment,
		Cause:   cause,
		msg:     fmt.Sprintf(format, args...),
	}
}

// Sentinel values usable with errors.Is. Each carries Segment=-1 and no
// message; real errors returned by the library carry more context but
// compare equal via (*MapError).Is.
var (
	ErrLockTimeout     = &MapError{Kind: ErrLockTimeoutKind, Segment: -1}
	ErrSegmentFull     = &MapError{Kind: ErrSegmentFullKind, Segment: -1}
	ErrIoError         = &MapError{Kind: ErrIoErrorKind, Segment: -1}
	ErrCorruptHeader   = &MapError{Kind: ErrCorruptHeaderKind, Segment: -1}
	ErrIllegalArgument = &MapError{Kind: ErrIllegalArgumentKind, Segment: -1}
)

// OutOfBoundsError signals that the map's image is internally inconsistent
// (an offset computed from the header/hash-lookup/free-bits points outside
// the declared region). Per spec §7 this is not locally recoverable: it is
// raised via panic, never returned as an error value.
type OutOfBoundsError struct {
	Offset, Length int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("segmap: OutOfBounds: offset %d exceeds region length %d", e.Offset, e.Length)
}

func panicOutOfBounds(offset, length int) {
	panic(&OutOfBoundsError{Offset: offset, Length: length})
}
