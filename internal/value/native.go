package value

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// FromNative converts decoded JSON, YAML, CBOR or msgpack documents into a
// Value. Under a record key, a non-slice value becomes occurrence 0.
func FromNative(in any) (Value, error) {
	switch v := in.(type) {
	case nil:
		return Null(), nil
	case Value:
		return v, nil
	case bool:
		return Bool(v), nil
	case string:
		return Text(v), nil
	case []byte:
		return Bytes(v), nil
	case int:
		return Int(int64(v)), nil
	case int8:
		return Int(int64(v)), nil
	case int16:
		return Int(int64(v)), nil
	case int32:
		return Int(int64(v)), nil
	case int64:
		return Int(v), nil
	case uint:
		return fromUint(uint64(v))
	case uint8:
		return Int(int64(v)), nil
	case uint16:
		return Int(int64(v)), nil
	case uint32:
		return Int(int64(v)), nil
	case uint64:
		return fromUint(v)
	case float32:
		return Float(float64(v)), nil
	case float64:
		return Float(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("value: number %q: %w", v.String(), err)
		}
		return Float(f), nil
	case []any:
		items := make([]Value, 0, len(v))
		for i, item := range v {
			conv, err := FromNative(item)
			if err != nil {
				return Value{}, fmt.Errorf("value: [%d]: %w", i, err)
			}
			items = append(items, conv)
		}
		return Seq(items...), nil
	case map[string]any:
		r := make(Record, len(v))
		for name, item := range v {
			occs, err := occurrences(item)
			if err != nil {
				return Value{}, fmt.Errorf("value: %s: %w", name, err)
			}
			r[name] = occs
		}
		return Rec(r), nil
	case map[any]any:
		r := make(Record, len(v))
		for key, item := range v {
			name, ok := key.(string)
			if !ok {
				return Value{}, fmt.Errorf("value: non-string record key %v (%T)", key, key)
			}
			occs, err := occurrences(item)
			if err != nil {
				return Value{}, fmt.Errorf("value: %s: %w", name, err)
			}
			r[name] = occs
		}
		return Rec(r), nil
	}

	// msgpack and yaml decoders hand back other slice and map types in
	// some configurations; fall back to reflection for those.
	rv := reflect.ValueOf(in)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return FromNative(items)
	case reflect.Map:
		m := make(map[any]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().Interface()] = iter.Value().Interface()
		}
		return FromNative(m)
	}
	return Value{}, fmt.Errorf("value: unsupported native type %T", in)
}

func fromUint(v uint64) (Value, error) {
	if v > math.MaxInt64 {
		return Value{}, fmt.Errorf("value: integer %d overflows int64", v)
	}
	return Int(int64(v)), nil
}

func occurrences(item any) ([]Value, error) {
	conv, err := FromNative(item)
	if err != nil {
		return nil, err
	}
	if items, ok := conv.AsSeq(); ok {
		return items, nil
	}
	return []Value{conv}, nil
}

// ToNative converts v into plain Go values: records become map[string]any
// whose entries are always []any, sequences become []any.
func (v Value) ToNative() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindText:
		return v.s
	case KindBytes:
		out := make([]byte, len(v.bytes))
		copy(out, v.bytes)
		return out
	case KindSeq:
		out := make([]any, len(v.seq))
		for i, item := range v.seq {
			out[i] = item.ToNative()
		}
		return out
	case KindRecord:
		out := make(map[string]any, len(v.rec))
		for name, occs := range v.rec {
			items := make([]any, len(occs))
			for i, item := range occs {
				items[i] = item.ToNative()
			}
			out[name] = items
		}
		return out
	default:
		return nil
	}
}
