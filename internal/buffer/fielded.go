package buffer

import (
	"github.com/danmuck/typedbuf/internal/wire/tlv"
)

// Unbounded is the capacity of a Store that never reports ErrNoSpace.
const Unbounded = -1

// Store is sorted occurrence storage. Entries are ordered by field id and
// occurrences of one field are adjacent, in occurrence order.
type Store struct {
	data     []byte
	capacity int
}

// NewStore returns an empty store. A capacity of Unbounded disables the
// space check; nested records are built that way before being copied into
// their parent.
func NewStore(capacity int) *Store {
	if capacity == Unbounded {
		return &Store{capacity: Unbounded}
	}
	return &Store{data: make([]byte, 0, capacity), capacity: capacity}
}

// StoreFrom wraps an existing payload. The payload is validated and copied.
func StoreFrom(payload []byte) (*Store, error) {
	if err := tlv.Walk(payload, func(tlv.Entry) error { return nil }); err != nil {
		return nil, DecodeTruncatedError{What: "record", Err: err}
	}
	data := make([]byte, len(payload))
	copy(data, payload)
	return &Store{data: data, capacity: Unbounded}, nil
}

func (s *Store) Len() int { return len(s.data) }

func (s *Store) Cap() int {
	if s.capacity == Unbounded {
		return len(s.data)
	}
	return s.capacity
}

// Grow raises the capacity, reallocating the storage.
func (s *Store) Grow(capacity int) {
	if s.capacity == Unbounded || capacity <= s.capacity {
		return
	}
	s.data = grow(s.data, capacity)
	s.capacity = capacity
}

// Payload returns the raw entries. The slice aliases the store.
func (s *Store) Payload() []byte { return s.data }

// Reset drops every entry, keeping the capacity.
func (s *Store) Reset() { s.data = s.data[:0] }

// Walk visits every entry in storage order.
func (s *Store) Walk(fn func(tlv.Entry) error) error {
	return tlv.Walk(s.data, fn)
}

// span locates field id: start is the offset of its first occurrence (or
// the insertion point), end the offset just past its last, and count the
// number of occurrences.
func (s *Store) span(id uint32) (start, end, count int, err error) {
	start = -1
	for offset := 0; offset < len(s.data); {
		e, err := tlv.Next(s.data, offset)
		if err != nil {
			return 0, 0, 0, DecodeTruncatedError{What: "record", Err: err}
		}
		if e.ID > id {
			if start < 0 {
				start = offset
			}
			return start, offset, count, nil
		}
		if e.ID == id {
			if start < 0 {
				start = offset
			}
			count++
		}
		offset += e.Size()
	}
	if start < 0 {
		start = len(s.data)
	}
	return start, len(s.data), count, nil
}

// Occurrences returns how many occurrences field id holds.
func (s *Store) Occurrences(id uint32) int {
	_, _, count, err := s.span(id)
	if err != nil {
		return 0
	}
	return count
}

// Get returns occurrence occ of field id. The value aliases the store.
func (s *Store) Get(id uint32, occ int) (tlv.Entry, bool) {
	start, end, count, err := s.span(id)
	if err != nil || occ < 0 || occ >= count {
		return tlv.Entry{}, false
	}
	offset := start
	for i := 0; offset < end; i++ {
		e, err := tlv.Next(s.data, offset)
		if err != nil {
			return tlv.Entry{}, false
		}
		if i == occ {
			return e, true
		}
		offset += e.Size()
	}
	return tlv.Entry{}, false
}

// Put changes occurrence occ of field id, or appends it when occ equals the
// current count. Writes past the next free occurrence fail with
// ErrOccurrenceGap; writes that exceed the capacity fail with ErrNoSpace and
// leave the store untouched.
func (s *Store) Put(id uint32, occ int, kind uint8, value []byte) error {
	start, end, count, err := s.span(id)
	if err != nil {
		return err
	}
	if occ < 0 || occ > count {
		return ErrOccurrenceGap
	}
	at, oldSize := end, 0
	if occ < count {
		at = start
		for i := 0; i < occ; i++ {
			e, _ := tlv.Next(s.data, at)
			at += e.Size()
		}
		e, _ := tlv.Next(s.data, at)
		oldSize = e.Size()
	}
	newSize := tlv.EntrySize(len(value))
	total := len(s.data) - oldSize + newSize
	if s.capacity != Unbounded && total > s.capacity {
		return ErrNoSpace
	}
	s.splice(at, oldSize, newSize)
	tlv.PutEntry(s.data[at:at+newSize], id, kind, value)
	return nil
}

// Remove deletes occurrence occ of field id and returns a copy of it.
// Later occurrences shift down by one.
func (s *Store) Remove(id uint32, occ int) (tlv.Entry, bool) {
	e, ok := s.Get(id, occ)
	if !ok {
		return tlv.Entry{}, false
	}
	removed := tlv.Entry{ID: e.ID, Kind: e.Kind, Value: append([]byte(nil), e.Value...), Offset: e.Offset}
	s.splice(e.Offset, e.Size(), 0)
	return removed, true
}

// splice replaces oldSize bytes at offset with newSize uninitialized bytes.
func (s *Store) splice(offset, oldSize, newSize int) {
	tail := append([]byte(nil), s.data[offset+oldSize:]...)
	s.data = append(s.data[:offset], make([]byte, newSize)...)
	s.data = append(s.data, tail...)
}

// Fielded is a sparse, extensible, field-id addressed record buffer.
type Fielded struct {
	header
	Store
}

func (*Fielded) Subtype() string          { return "" }
func (b *Fielded) Accept(v Visitor) error { return v.VisitFielded(b) }
