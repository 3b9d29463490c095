package codec

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/danmuck/typedbuf/internal/registry"
	"github.com/danmuck/typedbuf/internal/value"
	"github.com/spf13/cast"
)

func mismatch(field string, t registry.BaseType, v value.Value) TypeMismatchError {
	actual := v.Kind().String()
	switch v.Kind() {
	case value.KindInt, value.KindFloat, value.KindText:
		actual = fmt.Sprintf("%s %s", v.Kind(), v)
	}
	return TypeMismatchError{Field: field, Expected: t.String(), Actual: actual}
}

// scalarBytes converts v to the stored form of a scalar, string or byte
// array element of type t.
func scalarBytes(field string, t registry.BaseType, v value.Value) ([]byte, error) {
	switch t {
	case registry.Short, registry.Long:
		n, err := toInt(field, t, v)
		if err != nil {
			return nil, err
		}
		raw := make([]byte, t.Width())
		registry.PutInt(t, raw, n)
		return raw, nil
	case registry.Char:
		return toChar(field, v)
	case registry.Float, registry.Double:
		f, err := toFloat(field, t, v)
		if err != nil {
			return nil, err
		}
		raw := make([]byte, t.Width())
		registry.PutFloat(t, raw, f)
		return raw, nil
	case registry.String:
		s, err := toText(field, v)
		if err != nil {
			return nil, err
		}
		return []byte(s), nil
	case registry.ByteArray:
		switch v.Kind() {
		case value.KindBytes:
			b, _ := v.AsBytes()
			return append([]byte(nil), b...), nil
		case value.KindText:
			s, _ := v.AsText()
			return []byte(s), nil
		}
	}
	return nil, mismatch(field, t, v)
}

func toInt(field string, t registry.BaseType, v value.Value) (int64, error) {
	var n int64
	switch v.Kind() {
	case value.KindBool:
		if b, _ := v.AsBool(); b {
			n = 1
		}
	case value.KindInt:
		n, _ = v.AsInt()
	case value.KindFloat:
		f, _ := v.AsFloat()
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, mismatch(field, t, v)
		}
		n = int64(f)
	case value.KindText:
		s, _ := v.AsText()
		parsed, err := cast.ToInt64E(strings.TrimSpace(s))
		if err != nil {
			return 0, mismatch(field, t, v)
		}
		n = parsed
	default:
		return 0, mismatch(field, t, v)
	}
	if t == registry.Short && (n < math.MinInt16 || n > math.MaxInt16) {
		return 0, mismatch(field, t, v)
	}
	return n, nil
}

func toFloat(field string, t registry.BaseType, v value.Value) (float64, error) {
	switch v.Kind() {
	case value.KindBool, value.KindInt, value.KindFloat, value.KindText:
	default:
		return 0, mismatch(field, t, v)
	}
	native := v.ToNative()
	if s, ok := native.(string); ok {
		native = strings.TrimSpace(s)
	}
	f, err := cast.ToFloat64E(native)
	if err != nil {
		return 0, mismatch(field, t, v)
	}
	if t == registry.Float && !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
		return 0, mismatch(field, t, v)
	}
	return f, nil
}

func toChar(field string, v value.Value) ([]byte, error) {
	switch v.Kind() {
	case value.KindText:
		if s, _ := v.AsText(); len(s) == 1 {
			return []byte(s), nil
		}
	case value.KindBytes:
		if b, _ := v.AsBytes(); len(b) == 1 {
			return []byte{b[0]}, nil
		}
	case value.KindInt:
		if n, _ := v.AsInt(); n >= 0 && n <= math.MaxUint8 {
			return []byte{byte(n)}, nil
		}
	}
	return nil, mismatch(field, registry.Char, v)
}

// toText accepts text, NUL-free bytes and numbers.
func toText(field string, v value.Value) (string, error) {
	var s string
	switch v.Kind() {
	case value.KindText:
		s, _ = v.AsText()
	case value.KindBytes:
		b, _ := v.AsBytes()
		s = string(b)
	case value.KindInt, value.KindFloat:
		var err error
		if s, err = cast.ToStringE(v.ToNative()); err != nil {
			return "", mismatch(field, registry.String, v)
		}
	default:
		return "", mismatch(field, registry.String, v)
	}
	if strings.IndexByte(s, 0) >= 0 {
		return "", mismatch(field, registry.String, value.Bytes([]byte(s)))
	}
	return s, nil
}

// zeroBytes is the stored form of a Null occurrence in a fielded record.
func zeroBytes(t registry.BaseType) []byte {
	return make([]byte, t.Width())
}

// scalarValue is the inverse of scalarBytes.
func scalarValue(field string, t registry.BaseType, raw []byte) (value.Value, error) {
	if w := t.Width(); w > 0 && len(raw) != w {
		return value.Value{}, truncated(field, w, len(raw))
	}
	switch t {
	case registry.Short, registry.Long:
		return value.Int(registry.ReadInt(t, raw)), nil
	case registry.Char:
		return value.Text(string(raw)), nil
	case registry.Float, registry.Double:
		return value.Float(registry.ReadFloat(t, raw)), nil
	case registry.String:
		if i := bytes.IndexByte(raw, 0); i >= 0 {
			raw = raw[:i]
		}
		return value.Text(string(raw)), nil
	case registry.ByteArray:
		return value.Bytes(raw), nil
	}
	return value.Value{}, fmt.Errorf("%w: %s field %s holds a scalar entry", ErrMalformed, t, field)
}
