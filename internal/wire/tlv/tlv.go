// Package tlv owns the occurrence entry layout inside fielded record storage.
//
// One entry is: field id (u32) | kind (u8) | length (u32) | value.
// Entries are kept sorted by field id; occurrences of one field are adjacent.
package tlv

import (
	"encoding/binary"
	"errors"
)

const HeaderLen = 4 + 1 + 4

var (
	ErrShortEntryHeader = errors.New("tlv: short entry header")
	ErrShortEntryValue  = errors.New("tlv: short entry value")
)

// Entry kinds.
const (
	KindScalar  uint8 = 1
	KindRecord  uint8 = 2
	KindView    uint8 = 3
	KindWrapper uint8 = 4
	// KindInline carries a marshaled wrapper frame instead of an arena
	// handle; it only appears in transport frames.
	KindInline uint8 = 5
)

// Entry is one decoded occurrence.
type Entry struct {
	ID    uint32
	Kind  uint8
	Value []byte
	// Offset is the position of the entry header within the payload.
	Offset int
}

// Size is the encoded size of the entry.
func (e Entry) Size() int {
	return HeaderLen + len(e.Value)
}

// EntrySize returns the encoded size of an entry with a value of n bytes.
func EntrySize(n int) int {
	return HeaderLen + n
}

// PutEntry writes one entry into dst, which must be at least EntrySize(len(value)).
func PutEntry(dst []byte, id uint32, kind uint8, value []byte) int {
	binary.BigEndian.PutUint32(dst[0:4], id)
	dst[4] = kind
	binary.BigEndian.PutUint32(dst[5:9], uint32(len(value)))
	copy(dst[HeaderLen:], value)
	return HeaderLen + len(value)
}

// AppendEntry appends one entry to dst.
func AppendEntry(dst []byte, id uint32, kind uint8, value []byte) []byte {
	var head [HeaderLen]byte
	binary.BigEndian.PutUint32(head[0:4], id)
	head[4] = kind
	binary.BigEndian.PutUint32(head[5:9], uint32(len(value)))
	dst = append(dst, head[:]...)
	return append(dst, value...)
}

// Next decodes the entry at offset. The returned value aliases payload.
func Next(payload []byte, offset int) (Entry, error) {
	if len(payload)-offset < HeaderLen {
		return Entry{}, ErrShortEntryHeader
	}
	id := binary.BigEndian.Uint32(payload[offset : offset+4])
	kind := payload[offset+4]
	l := binary.BigEndian.Uint32(payload[offset+5 : offset+9])
	start := offset + HeaderLen
	if uint64(len(payload)-start) < uint64(l) {
		return Entry{}, ErrShortEntryValue
	}
	return Entry{ID: id, Kind: kind, Value: payload[start : start+int(l)], Offset: offset}, nil
}

// Walk calls fn for every entry in payload in physical order. The values
// passed to fn alias payload.
func Walk(payload []byte, fn func(Entry) error) error {
	for offset := 0; offset < len(payload); {
		e, err := Next(payload, offset)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
		offset += e.Size()
	}
	return nil
}

// DecodeEntries copies every entry out of payload.
func DecodeEntries(payload []byte) ([]Entry, error) {
	entries := make([]Entry, 0)
	err := Walk(payload, func(e Entry) error {
		val := make([]byte, len(e.Value))
		copy(val, e.Value)
		e.Value = val
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// EncodeEntries concatenates entries.
func EncodeEntries(entries []Entry) []byte {
	size := 0
	for _, e := range entries {
		size += e.Size()
	}
	out := make([]byte, 0, size)
	for _, e := range entries {
		out = AppendEntry(out, e.ID, e.Kind, e.Value)
	}
	return out
}

// Handle encodes an arena handle as an entry value.
func Handle(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

// HandleFromBytes is the inverse of Handle.
func HandleFromBytes(b []byte) (uint64, bool) {
	if len(b) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(b), true
}
