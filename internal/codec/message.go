package codec

import (
	"errors"

	"github.com/danmuck/typedbuf/internal/buffer"
	"github.com/danmuck/typedbuf/internal/value"
)

// Message is the call-level pairing of a data buffer with optional call
// information.
type Message struct {
	Data     buffer.Buffer
	CallInfo *buffer.Fielded
}

func isEnvelope(rec value.Record) bool {
	if len(rec) == 0 {
		return false
	}
	for name := range rec {
		switch name {
		case value.KeyBufType, value.KeySubtype, value.KeyData, value.KeyCallInfo:
		default:
			return false
		}
	}
	return true
}

// inferTag picks a buffer type from the shape of data.
func inferTag(data value.Value) (buffer.Tag, error) {
	switch data.Kind() {
	case value.KindNull:
		return buffer.TagNull, nil
	case value.KindText:
		return buffer.TagString, nil
	case value.KindBytes:
		return buffer.TagCarray, nil
	case value.KindRecord:
		return buffer.TagUBF, nil
	default:
		return 0, TypeMismatchError{Field: value.KeyData, Expected: "text, bytes, record or null", Actual: data.Kind().String()}
	}
}

// EncodeMessage encodes {buftype?, subtype?, data?, callinfo?}. Without
// buftype the type is inferred from data. A record with any other key is
// taken as the data of a UBF buffer.
func (c *Codec) EncodeMessage(v value.Value) (Message, error) {
	rec, ok := v.AsRecord()
	if !ok || !isEnvelope(rec) {
		tag, err := inferTag(v)
		if err != nil {
			return Message{}, err
		}
		b, err := c.Encode(v, tag, "")
		return Message{Data: b}, err
	}

	e := c.newEncoder()
	m, err := e.message(rec)
	if err != nil {
		e.abort()
		c.recordEncode(buffer.TagUBF, nil, err)
		return Message{}, err
	}
	c.recordEncode(m.Data.Tag(), m.Data, nil)
	return m, nil
}

func (e *encoder) message(rec value.Record) (Message, error) {
	data := value.Null()
	switch occs := rec[value.KeyData]; len(occs) {
	case 0:
	case 1:
		data = occs[0]
	default:
		return Message{}, TypeMismatchError{Field: value.KeyData, Expected: "one value", Actual: "sequence"}
	}
	var (
		tag buffer.Tag
		err error
	)
	if name, ok := rec.TextField(value.KeyBufType); ok {
		tag, err = buffer.ParseTag(name)
	} else if _, present := rec[value.KeyBufType]; present {
		err = TypeMismatchError{Field: value.KeyBufType, Expected: "buffer type name", Actual: kindOfFirst(rec, value.KeyBufType)}
	} else {
		tag, err = inferTag(data)
	}
	if err != nil {
		return Message{}, err
	}
	subtype, _ := rec.TextField(value.KeySubtype)

	var m Message
	if m.Data, err = e.encode(data, tag, subtype); err != nil {
		return Message{}, err
	}
	if ci, ok := rec.First(value.KeyCallInfo); ok && !ci.IsNull() {
		if _, isRec := ci.AsRecord(); !isRec {
			return Message{}, TypeMismatchError{Field: value.KeyCallInfo, Expected: "record", Actual: ci.Kind().String()}
		}
		b, err := e.encodeUBF(ci, "")
		if err != nil {
			return Message{}, err
		}
		fb, ok := b.(*buffer.Fielded)
		if !ok {
			return Message{}, TypeMismatchError{Field: value.KeyCallInfo, Expected: "fielded record", Actual: b.Tag().String()}
		}
		m.CallInfo = fb
	}
	return m, nil
}

// DecodeMessage is the inverse of EncodeMessage. subtype appears only when
// non-empty, data only when not null.
func (c *Codec) DecodeMessage(m Message) (value.Value, error) {
	if m.Data == nil {
		return value.Value{}, errors.New("codec: message has no data buffer")
	}
	data, err := c.Decode(m.Data)
	if err != nil {
		return value.Value{}, err
	}
	rec, _ := value.Wrap(m.Data.Tag().String(), m.Data.Subtype(), data).AsRecord()
	if m.CallInfo != nil {
		ci, err := c.Decode(m.CallInfo)
		if err != nil {
			return value.Value{}, err
		}
		rec[value.KeyCallInfo] = []value.Value{ci}
	}
	return value.Rec(rec), nil
}

// ReleaseMessage releases both buffers of m. Both are attempted; the first
// error is returned.
func (c *Codec) ReleaseMessage(m Message) error {
	var first error
	if m.Data != nil {
		if _, err := c.Release(m.Data); err != nil {
			first = err
		}
	}
	if m.CallInfo != nil {
		if _, err := c.Release(m.CallInfo); err != nil && first == nil {
			first = err
		}
	}
	return first
}
