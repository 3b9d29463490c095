package buffer

import (
	"bytes"
	"strings"
)

// ID identifies a buffer within its Resolver. IDs are never reused.
type ID uint64

// Buffer is one of Null, Text, ByteArray, Fielded, ViewRecord or Wrapper.
type Buffer interface {
	ID() ID
	Tag() Tag
	Subtype() string
	// Len is the number of occupied bytes.
	Len() int
	// Cap is the allocated size in bytes.
	Cap() int
	// Accept dispatches to the Visitor method for the concrete variant.
	Accept(v Visitor) error

	sealed()
}

// Visitor has one method per variant, so adding a variant breaks every
// visitor at compile time.
type Visitor interface {
	VisitNull(b *Null) error
	VisitText(b *Text) error
	VisitByteArray(b *ByteArray) error
	VisitFielded(b *Fielded) error
	VisitView(b *ViewRecord) error
	VisitWrapper(b *Wrapper) error
}

// Growable buffers can be reallocated to a larger capacity.
type Growable interface {
	Buffer
	Grow(capacity int)
}

type header struct {
	id  ID
	tag Tag
}

func (h *header) ID() ID   { return h.id }
func (h *header) Tag() Tag { return h.tag }
func (*header) sealed()    {}

// grow reallocates data to capacity, keeping its contents.
func grow(data []byte, capacity int) []byte {
	if capacity <= cap(data) {
		return data
	}
	next := make([]byte, len(data), capacity)
	copy(next, data)
	return next
}

// Null is the empty buffer.
type Null struct{ header }

func (*Null) Subtype() string          { return "" }
func (*Null) Len() int                 { return 0 }
func (*Null) Cap() int                 { return 0 }
func (b *Null) Accept(v Visitor) error { return v.VisitNull(b) }

// Text is a null-terminated string buffer, tagged STRING or JSON.
type Text struct {
	header
	data []byte
}

func (*Text) Subtype() string          { return "" }
func (b *Text) Len() int               { return len(b.data) }
func (b *Text) Cap() int               { return cap(b.data) }
func (b *Text) Accept(v Visitor) error { return v.VisitText(b) }
func (b *Text) Grow(capacity int)      { b.data = grow(b.data, capacity) }

// Set stores s plus its terminator.
func (b *Text) Set(s string) error {
	if strings.IndexByte(s, 0) >= 0 {
		return ErrEmbeddedNull
	}
	if len(s)+1 > cap(b.data) {
		return ErrNoSpace
	}
	b.data = append(b.data[:0], s...)
	b.data = append(b.data, 0)
	return nil
}

// String returns the text without its terminator.
func (b *Text) String() string {
	if i := bytes.IndexByte(b.data, 0); i >= 0 {
		return string(b.data[:i])
	}
	return string(b.data)
}

// ByteArray is an exact-length raw byte buffer.
type ByteArray struct {
	header
	data []byte
}

func (*ByteArray) Subtype() string          { return "" }
func (b *ByteArray) Len() int               { return len(b.data) }
func (b *ByteArray) Cap() int               { return cap(b.data) }
func (b *ByteArray) Accept(v Visitor) error { return v.VisitByteArray(b) }
func (b *ByteArray) Grow(capacity int)      { b.data = grow(b.data, capacity) }

// Set stores a copy of p.
func (b *ByteArray) Set(p []byte) error {
	if len(p) > cap(b.data) {
		return ErrNoSpace
	}
	b.data = append(b.data[:0], p...)
	return nil
}

// Bytes returns a copy of the stored bytes.
func (b *ByteArray) Bytes() []byte {
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Wrapper owns one nested buffer together with its type and subtype.
type Wrapper struct {
	header
	inner        Buffer
	innerTag     Tag
	innerSubtype string
}

func (*Wrapper) Subtype() string          { return "" }
func (b *Wrapper) Len() int               { return b.inner.Len() }
func (b *Wrapper) Cap() int               { return b.inner.Cap() }
func (b *Wrapper) Accept(v Visitor) error { return v.VisitWrapper(b) }

// Inner returns the owned buffer.
func (b *Wrapper) Inner() Buffer { return b.inner }

// Wrapped returns the nested buffer's type and subtype.
func (b *Wrapper) Wrapped() (Tag, string) { return b.innerTag, b.innerSubtype }
