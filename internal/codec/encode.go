package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/danmuck/typedbuf/internal/buffer"
	"github.com/danmuck/typedbuf/internal/registry"
	"github.com/danmuck/typedbuf/internal/value"
	"github.com/danmuck/typedbuf/internal/wire/tlv"
)

type encodeFunc func(e *encoder, v value.Value, subtype string) (buffer.Buffer, error)

// encoders is indexed by buffer.Tag. It is filled in init because the
// entries recurse back into encoder.encode.
var encoders []encodeFunc

func init() {
	encoders = make([]encodeFunc, len(buffer.Tags()))
	encoders[buffer.TagNull] = (*encoder).encodeNull
	encoders[buffer.TagString] = func(e *encoder, v value.Value, _ string) (buffer.Buffer, error) {
		return e.encodeText(buffer.TagString, v)
	}
	encoders[buffer.TagJSON] = func(e *encoder, v value.Value, _ string) (buffer.Buffer, error) {
		return e.encodeText(buffer.TagJSON, v)
	}
	encoders[buffer.TagCarray] = (*encoder).encodeCarray
	encoders[buffer.TagUBF] = (*encoder).encodeUBF
	encoders[buffer.TagView] = (*encoder).encodeView
	encoders[buffer.TagPtr] = (*encoder).encodePtr
}

// encoder carries the state of one encode call: every buffer it allocated,
// so a failure can release them, and the records on the current path.
type encoder struct {
	c      *Codec
	allocs []buffer.ID
	path   map[uintptr]struct{}
}

func (c *Codec) newEncoder() *encoder {
	return &encoder{c: c, path: make(map[uintptr]struct{})}
}

func (e *encoder) track(b buffer.Buffer) {
	e.allocs = append(e.allocs, b.ID())
}

// abort releases every buffer of this call that is still live and unowned.
// Owned ones go with their owner.
func (e *encoder) abort() {
	for i := len(e.allocs) - 1; i >= 0; i-- {
		id := e.allocs[i]
		parent, err := e.c.res.Parent(id)
		if err != nil || parent != 0 {
			continue
		}
		b, err := e.c.res.Lookup(id)
		if err != nil {
			continue
		}
		if _, err := e.c.res.Release(b); err != nil {
			e.c.logLeak(id, err)
		}
	}
	e.allocs = nil
}

// enter marks rec as being on the current path. Maps are the only way a
// value can refer to itself.
func (e *encoder) enter(rec value.Record) (func(), error) {
	if rec == nil {
		return func() {}, nil
	}
	key := reflect.ValueOf(rec).Pointer()
	if _, ok := e.path[key]; ok {
		return nil, ErrValueCycle
	}
	e.path[key] = struct{}{}
	return func() { delete(e.path, key) }, nil
}

func (e *encoder) encode(v value.Value, tag buffer.Tag, subtype string) (buffer.Buffer, error) {
	if !tag.Valid() {
		return nil, fmt.Errorf("%w: %s", buffer.ErrUnknownTag, tag)
	}
	if tag != buffer.TagView && subtype != "" {
		return nil, fmt.Errorf("%w: %s buffers have no subtype, got %q", buffer.ErrTagMismatch, tag, subtype)
	}
	return encoders[tag](e, v, subtype)
}

func bufferMismatch(tag buffer.Tag, v value.Value) TypeMismatchError {
	return TypeMismatchError{Expected: tag.String() + " buffer data", Actual: v.Kind().String()}
}

func (e *encoder) encodeNull(v value.Value, _ string) (buffer.Buffer, error) {
	if !v.IsNull() {
		return nil, bufferMismatch(buffer.TagNull, v)
	}
	b := e.c.res.NewNull()
	e.track(b)
	return b, nil
}

func (e *encoder) encodeText(tag buffer.Tag, v value.Value) (buffer.Buffer, error) {
	var s string
	switch v.Kind() {
	case value.KindNull:
	case value.KindText:
		s, _ = v.AsText()
	default:
		return nil, bufferMismatch(tag, v)
	}
	if tag == buffer.TagJSON && !json.Valid([]byte(s)) {
		return nil, ErrInvalidJSON
	}
	b, err := e.c.res.NewText(tag, e.c.opts.InitialCapacity)
	if err != nil {
		return nil, err
	}
	e.track(b)
	for {
		err := b.Set(s)
		if !errors.Is(err, buffer.ErrNoSpace) {
			return b, err
		}
		if err := e.c.grow(b, 0, len(s)+1, ""); err != nil {
			return nil, err
		}
	}
}

func (e *encoder) encodeCarray(v value.Value, _ string) (buffer.Buffer, error) {
	var p []byte
	switch v.Kind() {
	case value.KindNull:
	case value.KindBytes:
		p, _ = v.AsBytes()
	case value.KindText:
		s, _ := v.AsText()
		p = []byte(s)
	default:
		return nil, bufferMismatch(buffer.TagCarray, v)
	}
	b := e.c.res.NewByteArray(e.c.opts.InitialCapacity)
	e.track(b)
	for {
		err := b.Set(p)
		if !errors.Is(err, buffer.ErrNoSpace) {
			return b, err
		}
		if err := e.c.grow(b, 0, len(p), ""); err != nil {
			return nil, err
		}
	}
}

// encodeUBF builds a fielded record. A record carrying only reserved keys
// produces a wrapper instead.
func (e *encoder) encodeUBF(v value.Value, _ string) (buffer.Buffer, error) {
	rec, err := recordOf(buffer.TagUBF, v)
	if err != nil {
		return nil, err
	}
	if value.IsWrapper(rec) {
		return e.encodeWrapper(rec)
	}
	b := e.c.res.NewFielded(e.c.opts.InitialCapacity)
	e.track(b)
	children, err := e.encodeRecord(&b.Store, b, rec)
	if err != nil {
		return nil, err
	}
	if err := e.adopt(b.ID(), children); err != nil {
		return nil, err
	}
	return b, nil
}

func (e *encoder) encodeView(v value.Value, subtype string) (buffer.Buffer, error) {
	rec, err := recordOf(buffer.TagView, v)
	if err != nil {
		return nil, err
	}
	desc, err := e.c.reg.LookupView(subtype)
	if err != nil {
		return nil, err
	}
	b := e.c.res.NewView(desc)
	e.track(b)
	if err := fillView(&b.ViewData, rec); err != nil {
		return nil, err
	}
	return b, nil
}

func (e *encoder) encodePtr(v value.Value, _ string) (buffer.Buffer, error) {
	rec, ok := v.AsRecord()
	if !ok || !value.IsWrapper(rec) {
		return nil, bufferMismatch(buffer.TagPtr, v)
	}
	return e.encodeWrapper(rec)
}

// encodeWrapper encodes the nested data of a reserved-key record and wraps
// the result.
func (e *encoder) encodeWrapper(rec value.Record) (*buffer.Wrapper, error) {
	leave, err := e.enter(rec)
	if err != nil {
		return nil, err
	}
	defer leave()

	name, ok := rec.TextField(value.KeyBufType)
	if !ok {
		return nil, TypeMismatchError{Field: value.KeyBufType, Expected: "buffer type name", Actual: kindOfFirst(rec, value.KeyBufType)}
	}
	tag, err := buffer.ParseTag(name)
	if err != nil {
		return nil, err
	}
	var subtype string
	if _, present := rec[value.KeySubtype]; present {
		if subtype, ok = rec.TextField(value.KeySubtype); !ok {
			return nil, TypeMismatchError{Field: value.KeySubtype, Expected: "text", Actual: kindOfFirst(rec, value.KeySubtype)}
		}
	}
	data := value.Null()
	switch occs := rec[value.KeyData]; len(occs) {
	case 0:
	case 1:
		data = occs[0]
	default:
		return nil, TypeMismatchError{Field: value.KeyData, Expected: "one nested value", Actual: fmt.Sprintf("%d occurrences", len(occs))}
	}

	inner, err := e.encode(data, tag, subtype)
	if err != nil {
		return nil, err
	}
	w, err := e.c.res.NewWrapper(tag, subtype, inner)
	if err != nil {
		return nil, err
	}
	e.track(w)
	return w, nil
}

func kindOfFirst(rec value.Record, key string) string {
	v, ok := rec.First(key)
	if !ok {
		return "nothing"
	}
	return v.Kind().String()
}

func recordOf(tag buffer.Tag, v value.Value) (value.Record, error) {
	if v.IsNull() {
		return value.Record{}, nil
	}
	rec, ok := v.AsRecord()
	if !ok {
		return nil, bufferMismatch(tag, v)
	}
	return rec, nil
}

func (e *encoder) adopt(owner buffer.ID, children []buffer.ID) error {
	for _, child := range children {
		if err := e.c.res.Adopt(owner, child); err != nil {
			return err
		}
	}
	return nil
}

// present reports whether a record key contributes occurrences: an empty
// sequence or a lone Null is the same as an absent key.
func present(occs []value.Value) bool {
	return len(occs) > 1 || (len(occs) == 1 && !occs[0].IsNull())
}

// encodeRecord writes rec into store in ascending field id order. owner is
// the buffer holding store when it is bounded, nil for an inline nested
// record. It returns the wrappers whose handles it wrote; the caller makes
// them children of the outermost fielded buffer.
func (e *encoder) encodeRecord(store *buffer.Store, owner buffer.Growable, rec value.Record) ([]buffer.ID, error) {
	leave, err := e.enter(rec)
	if err != nil {
		return nil, err
	}
	defer leave()

	fields := make([]registry.FieldDescriptor, 0, len(rec))
	for name, occs := range rec {
		if !present(occs) {
			continue
		}
		fd, err := e.c.field(name)
		if err != nil {
			return nil, err
		}
		fields = append(fields, fd)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].ID < fields[j].ID })

	var children []buffer.ID
	for _, fd := range fields {
		occs := rec[fd.Name]
		if fd.MaxOccurrences > 0 && len(occs) > int(fd.MaxOccurrences) {
			return nil, buffer.OccurrenceOutOfRangeError{Field: fd.Name, Index: int(fd.MaxOccurrences), Max: int(fd.MaxOccurrences)}
		}
		for i, occ := range occs {
			kind, raw, kids, err := e.occurrence(fd, occ)
			if err != nil {
				return nil, err
			}
			children = append(children, kids...)
			if err := e.c.put(store, owner, fd.ID, i, kind, raw, fd.Name); err != nil {
				return nil, err
			}
		}
	}
	return children, nil
}

// occurrence converts one occurrence of fd to its stored entry. Wrappers
// created on the way are returned unowned.
func (e *encoder) occurrence(fd registry.FieldDescriptor, v value.Value) (uint8, []byte, []buffer.ID, error) {
	switch fd.BaseType {
	case registry.Record:
		if v.IsNull() {
			return tlv.KindRecord, nil, nil, nil
		}
		rec, ok := v.AsRecord()
		if !ok {
			return 0, nil, nil, mismatch(fd.Name, fd.BaseType, v)
		}
		if value.IsWrapper(rec) {
			return e.wrapperEntry(rec)
		}
		store := buffer.NewStore(buffer.Unbounded)
		kids, err := e.encodeRecord(store, nil, rec)
		if err != nil {
			return 0, nil, nil, err
		}
		return tlv.KindRecord, store.Payload(), kids, nil
	case registry.View:
		raw, err := e.viewEntry(fd, v)
		return tlv.KindView, raw, nil, err
	case registry.Ptr:
		if v.IsNull() {
			return e.wrapperEntry(value.Record{value.KeyBufType: {value.Text(buffer.TagNull.String())}})
		}
		rec, ok := v.AsRecord()
		if !ok || !value.IsWrapper(rec) {
			return 0, nil, nil, mismatch(fd.Name, fd.BaseType, v)
		}
		return e.wrapperEntry(rec)
	}

	if v.IsNull() {
		return tlv.KindScalar, zeroBytes(fd.BaseType), nil, nil
	}
	raw, err := scalarBytes(fd.Name, fd.BaseType, v)
	if err != nil {
		return 0, nil, nil, err
	}
	if fd.MaxLength > 0 && len(raw) > int(fd.MaxLength) {
		return 0, nil, nil, buffer.CapacityError{Field: fd.Name, Declared: int(fd.MaxLength), Requested: len(raw)}
	}
	return tlv.KindScalar, raw, nil, nil
}

func (e *encoder) wrapperEntry(rec value.Record) (uint8, []byte, []buffer.ID, error) {
	w, err := e.encodeWrapper(rec)
	if err != nil {
		return 0, nil, nil, err
	}
	return tlv.KindWrapper, tlv.Handle(uint64(w.ID())), []buffer.ID{w.ID()}, nil
}

// put writes one entry, growing owner until it fits.
func (c *Codec) put(store *buffer.Store, owner buffer.Growable, id uint32, occ int, kind uint8, raw []byte, field string) error {
	for {
		err := store.Put(id, occ, kind, raw)
		if !errors.Is(err, buffer.ErrNoSpace) || owner == nil {
			return err
		}
		if err := c.grow(owner, store.Len(), tlv.EntrySize(len(raw)), field); err != nil {
			return err
		}
	}
}
