package codec

import (
	"errors"
	"fmt"

	"github.com/danmuck/typedbuf/internal/buffer"
	"github.com/danmuck/typedbuf/internal/registry"
	"github.com/danmuck/typedbuf/internal/value"
	"github.com/danmuck/typedbuf/internal/wire/tlv"
)

func truncated(what string, need, have int) error {
	return buffer.DecodeTruncatedError{What: what, Need: need, Have: have}
}

// decoder walks one buffer graph. visiting guards against a wrapper handle
// leading back into a buffer already being decoded.
type decoder struct {
	c        *Codec
	visiting map[buffer.ID]struct{}
}

func (d *decoder) decode(b buffer.Buffer) (value.Value, error) {
	if _, ok := d.visiting[b.ID()]; ok {
		return value.Value{}, buffer.NestedBufferLeakError{ID: b.ID(), Reason: "reached twice while decoding"}
	}
	d.visiting[b.ID()] = struct{}{}
	defer delete(d.visiting, b.ID())

	v := &decodeVisitor{d: d}
	if err := b.Accept(v); err != nil {
		return value.Value{}, err
	}
	return v.out, nil
}

// decodeVisitor handles one buffer; out holds its value afterwards.
type decodeVisitor struct {
	d   *decoder
	out value.Value
}

func (v *decodeVisitor) VisitNull(*buffer.Null) error {
	v.out = value.Null()
	return nil
}

func (v *decodeVisitor) VisitText(b *buffer.Text) error {
	v.out = value.Text(b.String())
	return nil
}

func (v *decodeVisitor) VisitByteArray(b *buffer.ByteArray) error {
	v.out = value.Bytes(b.Bytes())
	return nil
}

func (v *decodeVisitor) VisitFielded(b *buffer.Fielded) error {
	rec, err := v.d.entries(b.Payload())
	if err != nil {
		return err
	}
	v.out = value.Rec(rec)
	return nil
}

func (v *decodeVisitor) VisitView(b *buffer.ViewRecord) error {
	rec, err := viewRecord(&b.ViewData)
	if err != nil {
		return err
	}
	v.out = value.Rec(rec)
	return nil
}

func (v *decodeVisitor) VisitWrapper(b *buffer.Wrapper) error {
	inner, err := v.d.decode(b.Inner())
	if err != nil {
		return err
	}
	tag, subtype := b.Wrapped()
	v.out = value.Wrap(tag.String(), subtype, inner)
	return nil
}

// entries decodes a run of stored occurrences. Storage keeps ascending id
// order, so occurrences arrive in occurrence order.
func (d *decoder) entries(payload []byte) (value.Record, error) {
	rec := value.Record{}
	err := tlv.Walk(payload, func(e tlv.Entry) error {
		fd, err := d.c.reg.FieldByID(e.ID)
		if err != nil {
			return err
		}
		v, err := d.entry(fd, e)
		if err != nil {
			return err
		}
		rec.Add(fd.Name, v)
		return nil
	})
	if errors.Is(err, tlv.ErrShortEntryHeader) || errors.Is(err, tlv.ErrShortEntryValue) {
		var trunc buffer.DecodeTruncatedError
		if !errors.As(err, &trunc) {
			err = buffer.DecodeTruncatedError{What: "record", Err: err}
		}
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (d *decoder) entry(fd registry.FieldDescriptor, e tlv.Entry) (value.Value, error) {
	switch e.Kind {
	case tlv.KindScalar:
		return scalarValue(fd.Name, fd.BaseType, e.Value)
	case tlv.KindRecord:
		if fd.BaseType != registry.Record {
			break
		}
		rec, err := d.entries(e.Value)
		if err != nil {
			return value.Value{}, err
		}
		return value.Rec(rec), nil
	case tlv.KindView:
		if fd.BaseType != registry.View {
			break
		}
		return d.viewOccurrence(fd, e.Value)
	case tlv.KindWrapper:
		if fd.BaseType != registry.Record && fd.BaseType != registry.Ptr {
			break
		}
		h, ok := tlv.HandleFromBytes(e.Value)
		if !ok {
			return value.Value{}, truncated(fd.Name, 8, len(e.Value))
		}
		b, err := d.c.res.Lookup(buffer.ID(h))
		if err != nil {
			return value.Value{}, err
		}
		w, ok := b.(*buffer.Wrapper)
		if !ok {
			return value.Value{}, fmt.Errorf("%w: %s handle %d is a %s buffer", ErrMalformed, fd.Name, h, b.Tag())
		}
		return d.decode(w)
	}
	return value.Value{}, fmt.Errorf("%w: %s field %s holds entry kind %d", ErrMalformed, fd.BaseType, fd.Name, e.Kind)
}

func (d *decoder) viewOccurrence(fd registry.FieldDescriptor, raw []byte) (value.Value, error) {
	if len(raw) == 0 {
		return value.Rec(value.Record{}), nil
	}
	name, image, err := parseViewEntry(fd.Name, raw)
	if err != nil {
		return value.Value{}, err
	}
	desc, err := d.c.reg.LookupView(name)
	if err != nil {
		return value.Value{}, err
	}
	vd, err := buffer.ViewDataFrom(desc, image)
	if err != nil {
		return value.Value{}, err
	}
	data, err := viewRecord(&vd)
	if err != nil {
		return value.Value{}, err
	}
	return value.Rec(value.Record{
		value.KeyViewName: {value.Text(name)},
		value.KeyViewData: {value.Rec(data)},
	}), nil
}
