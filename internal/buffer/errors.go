package buffer

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSpace reports that a write does not fit the current capacity. The
	// encoder grows the buffer and retries; callers never see it.
	ErrNoSpace = errors.New("buffer: no space")
	// ErrOccurrenceGap reports a write past the next free occurrence.
	ErrOccurrenceGap = errors.New("buffer: occurrence gap")
	// ErrEmbeddedNull reports a NUL byte inside text.
	ErrEmbeddedNull = errors.New("buffer: embedded null byte in text")
	ErrUnknownTag   = errors.New("buffer: unknown buffer type")
	ErrTagMismatch  = errors.New("buffer: wrapper type does not match nested buffer")
)

// CapacityError reports a write beyond a declared width or count.
type CapacityError struct {
	Field     string
	Declared  int
	Requested int
}

func (e CapacityError) Error() string {
	return fmt.Sprintf("buffer: No space in `%s` (declared %d, requested %d)", e.Field, e.Declared, e.Requested)
}

// OccurrenceOutOfRangeError reports an occurrence index at or past the
// field's declared maximum.
type OccurrenceOutOfRangeError struct {
	Field string
	Index int
	Max   int
}

func (e OccurrenceOutOfRangeError) Error() string {
	return fmt.Sprintf("buffer: occurrence %d of %s out of range (max %d)", e.Index, e.Field, e.Max)
}

// DecodeTruncatedError reports storage shorter than its own structure claims.
type DecodeTruncatedError struct {
	What string
	Need int
	Have int
	Err  error
}

func (e DecodeTruncatedError) Error() string {
	msg := "buffer: truncated " + e.What
	if e.Need > 0 || e.Have > 0 {
		msg += fmt.Sprintf(" (need %d, have %d)", e.Need, e.Have)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e DecodeTruncatedError) Unwrap() error { return e.Err }

// NestedBufferLeakError reports a broken ownership graph: a cycle, a
// double release, or a buffer released by something other than its owner.
type NestedBufferLeakError struct {
	ID     ID
	Reason string
}

func (e NestedBufferLeakError) Error() string {
	return fmt.Sprintf("buffer: nested buffer %d: %s", e.ID, e.Reason)
}
