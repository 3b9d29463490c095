package buffer

import (
	"bytes"
	"encoding/binary"

	"github.com/danmuck/typedbuf/internal/registry"
)

// ViewData is a fixed-layout record image. Every declared field has exactly
// FixedCount slots; unset slots hold the field's "no value" marker.
type ViewData struct {
	desc *registry.ViewDescriptor
	data []byte
}

// NewViewData returns an image with every slot at its "no value" marker and
// every count companion at zero.
func NewViewData(desc *registry.ViewDescriptor) ViewData {
	v := ViewData{desc: desc, data: make([]byte, desc.Size)}
	for _, f := range desc.Fields {
		null := f.NullSlot()
		for i := 0; i < f.FixedCount; i++ {
			copy(v.data[f.SlotOffset(i):], null)
		}
	}
	return v
}

// ViewDataFrom copies raw as an image of desc.
func ViewDataFrom(desc *registry.ViewDescriptor, raw []byte) (ViewData, error) {
	if len(raw) != desc.Size {
		return ViewData{}, DecodeTruncatedError{What: "view " + desc.Name, Need: desc.Size, Have: len(raw)}
	}
	data := make([]byte, len(raw))
	copy(data, raw)
	return ViewData{desc: desc, data: data}, nil
}

func (v *ViewData) Descriptor() *registry.ViewDescriptor { return v.desc }

// Raw returns the image bytes. The slice aliases the view.
func (v *ViewData) Raw() []byte { return v.data }

// SlotCapacity is the number of payload bytes one slot of f can hold.
func SlotCapacity(f registry.ViewField) int {
	if f.ElementType == registry.String {
		return f.ElementSize - 1
	}
	return f.ElementSize
}

// SetSlot stores raw into slot i of f. Short payloads are zero padded; the
// length companion, if any, records len(raw).
func (v *ViewData) SetSlot(f registry.ViewField, i int, raw []byte) error {
	if i < 0 || i >= f.FixedCount {
		return CapacityError{Field: f.Name, Declared: f.FixedCount, Requested: i + 1}
	}
	if f.ElementType == registry.String && bytes.IndexByte(raw, 0) >= 0 {
		return ErrEmbeddedNull
	}
	if limit := SlotCapacity(f); len(raw) > limit {
		return CapacityError{Field: f.Name, Declared: limit, Requested: len(raw)}
	}
	slot := v.data[f.SlotOffset(i) : f.SlotOffset(i)+f.ElementSize]
	n := copy(slot, raw)
	clear(slot[n:])
	if f.HasCountCompanion && (f.ElementType == registry.String || f.ElementType == registry.ByteArray) {
		binary.BigEndian.PutUint16(v.data[f.Offset+2+2*i:], uint16(len(raw)))
	}
	return nil
}

// ClearSlot resets slot i of f to its "no value" marker.
func (v *ViewData) ClearSlot(f registry.ViewField, i int) {
	copy(v.data[f.SlotOffset(i):f.SlotOffset(i)+f.ElementSize], f.NullSlot())
	if f.HasCountCompanion && (f.ElementType == registry.String || f.ElementType == registry.ByteArray) {
		binary.BigEndian.PutUint16(v.data[f.Offset+2+2*i:], 0)
	}
}

// Slot returns the payload of slot i of f: strings stop at their terminator,
// byte arrays stop at the length companion when one is declared.
func (v *ViewData) Slot(f registry.ViewField, i int) []byte {
	slot := v.data[f.SlotOffset(i) : f.SlotOffset(i)+f.ElementSize]
	switch f.ElementType {
	case registry.String:
		if n := bytes.IndexByte(slot, 0); n >= 0 {
			slot = slot[:n]
		}
	case registry.ByteArray:
		if f.HasCountCompanion {
			n := int(binary.BigEndian.Uint16(v.data[f.Offset+2+2*i:]))
			if n <= len(slot) {
				slot = slot[:n]
			}
		}
	}
	out := make([]byte, len(slot))
	copy(out, slot)
	return out
}

// RawSlot returns the full slot bytes without trimming.
func (v *ViewData) RawSlot(f registry.ViewField, i int) []byte {
	return v.data[f.SlotOffset(i) : f.SlotOffset(i)+f.ElementSize]
}

// SetCount records how many slots of f are occupied.
func (v *ViewData) SetCount(f registry.ViewField, n int) {
	if f.HasCountCompanion {
		binary.BigEndian.PutUint16(v.data[f.Offset:], uint16(n))
	}
}

// Count returns the occupied slot count of a field with a count companion,
// or -1 when f has none.
func (v *ViewData) Count(f registry.ViewField) int {
	if !f.HasCountCompanion {
		return -1
	}
	return int(binary.BigEndian.Uint16(v.data[f.Offset:]))
}

// ViewRecord is a fixed-schema record buffer; its subtype is the view name.
type ViewRecord struct {
	header
	ViewData
}

func (b *ViewRecord) Subtype() string        { return b.desc.Name }
func (b *ViewRecord) Len() int               { return len(b.data) }
func (b *ViewRecord) Cap() int               { return len(b.data) }
func (b *ViewRecord) Accept(v Visitor) error { return v.VisitView(b) }
