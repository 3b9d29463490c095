package codec

import (
	"encoding/binary"
	"math"

	"github.com/danmuck/typedbuf/internal/buffer"
	"github.com/danmuck/typedbuf/internal/registry"
	"github.com/danmuck/typedbuf/internal/value"
)

// fillView stores rec into a fresh view image. Every declared field is
// visited; absent fields and Null occurrences keep the "no value" marker.
func fillView(vd *buffer.ViewData, rec value.Record) error {
	desc := vd.Descriptor()
	for name := range rec {
		if _, ok := desc.Field(name); !ok {
			return registry.SchemaError{Kind: registry.NotFound, Object: "view field", Name: desc.Name + "." + name}
		}
	}
	for _, f := range desc.Fields {
		occs := rec[f.Name]
		if len(occs) > f.FixedCount {
			return buffer.CapacityError{Field: f.Name, Declared: f.FixedCount, Requested: len(occs)}
		}
		for i, occ := range occs {
			if occ.IsNull() {
				vd.ClearSlot(f, i)
				continue
			}
			raw, err := scalarBytes(f.Name, f.ElementType, occ)
			if err != nil {
				return err
			}
			if err := vd.SetSlot(f, i, raw); err != nil {
				return err
			}
		}
		vd.SetCount(f, len(occs))
	}
	return nil
}

// viewRecord decodes an image in declared field order. Fields with a count
// companion yield exactly their counted slots; inside that range only a
// declared null marker decodes as Null and byte arrays always decode from
// their length companion. Other fields yield slots up to the last one not
// holding the "no value" marker and are omitted when every slot holds it.
func viewRecord(vd *buffer.ViewData) (value.Record, error) {
	rec := value.Record{}
	for _, f := range vd.Descriptor().Fields {
		n := f.FixedCount
		if f.HasCountCompanion {
			n = min(vd.Count(f), f.FixedCount)
		} else {
			for n > 0 && f.IsNullSlot(vd.RawSlot(f, n-1)) {
				n--
			}
		}
		if n == 0 {
			continue
		}
		occs := make([]value.Value, n)
		for i := 0; i < n; i++ {
			if slotIsNull(vd, f, i) {
				occs[i] = value.Null()
				continue
			}
			v, err := scalarValue(f.Name, f.ElementType, vd.Slot(f, i))
			if err != nil {
				return nil, err
			}
			occs[i] = v
		}
		rec[f.Name] = occs
	}
	return rec, nil
}

func slotIsNull(vd *buffer.ViewData, f registry.ViewField, i int) bool {
	if !f.HasCountCompanion {
		return f.IsNullSlot(vd.RawSlot(f, i))
	}
	if f.ElementType == registry.ByteArray || !f.DeclaresNull() {
		return false
	}
	return f.IsNullSlot(vd.RawSlot(f, i))
}

// viewEntry encodes a view occurrence of a fielded record: name length
// (u16), name, image. An empty record stores an empty entry.
func (e *encoder) viewEntry(fd registry.FieldDescriptor, v value.Value) ([]byte, error) {
	if v.IsNull() {
		return nil, nil
	}
	rec, ok := v.AsRecord()
	if !ok {
		return nil, mismatch(fd.Name, fd.BaseType, v)
	}
	if len(rec) == 0 {
		return nil, nil
	}
	for name := range rec {
		if name != value.KeyViewName && name != value.KeyViewData {
			return nil, TypeMismatchError{Field: fd.Name, Expected: "view occurrence {vname, data}", Actual: "record with key " + name}
		}
	}
	vname, ok := rec.TextField(value.KeyViewName)
	if !ok {
		return nil, TypeMismatchError{Field: fd.Name, Expected: "view name", Actual: kindOfFirst(rec, value.KeyViewName)}
	}
	desc, err := e.c.reg.LookupView(vname)
	if err != nil {
		return nil, err
	}
	data := value.Record{}
	if v, ok := rec.First(value.KeyViewData); ok && !v.IsNull() {
		if data, ok = v.AsRecord(); !ok {
			return nil, TypeMismatchError{Field: fd.Name, Expected: "view data record", Actual: v.Kind().String()}
		}
	}
	vd := buffer.NewViewData(desc)
	if err := fillView(&vd, data); err != nil {
		return nil, err
	}
	if len(vname) > math.MaxUint16 {
		return nil, buffer.CapacityError{Field: fd.Name, Declared: math.MaxUint16, Requested: len(vname)}
	}
	raw := make([]byte, 2+len(vname)+len(vd.Raw()))
	binary.BigEndian.PutUint16(raw, uint16(len(vname)))
	copy(raw[2:], vname)
	copy(raw[2+len(vname):], vd.Raw())
	return raw, nil
}

func parseViewEntry(field string, raw []byte) (string, []byte, error) {
	if len(raw) < 2 {
		return "", nil, truncated(field, 2, len(raw))
	}
	n := int(binary.BigEndian.Uint16(raw))
	if len(raw) < 2+n {
		return "", nil, truncated(field, 2+n, len(raw))
	}
	return string(raw[2 : 2+n]), raw[2+n:], nil
}
