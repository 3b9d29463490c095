package value

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Kind is the tag of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindText
	KindBytes
	KindSeq
	KindRecord
)

var kindNames = [...]string{
	KindNull:   "null",
	KindBool:   "bool",
	KindInt:    "int",
	KindFloat:  "float",
	KindText:   "text",
	KindBytes:  "bytes",
	KindSeq:    "sequence",
	KindRecord: "record",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is one dynamic value. The zero Value is Null.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	f     float64
	s     string
	bytes []byte
	seq   []Value
	rec   Record
}

func Null() Value              { return Value{} }
func Bool(v bool) Value        { return Value{kind: KindBool, b: v} }
func Int(v int64) Value        { return Value{kind: KindInt, i: v} }
func Float(v float64) Value    { return Value{kind: KindFloat, f: v} }
func Text(v string) Value      { return Value{kind: KindText, s: v} }
func Seq(items ...Value) Value { return Value{kind: KindSeq, seq: items} }

// Bytes copies v so later mutation by the caller does not leak in.
func Bytes(v []byte) Value {
	buf := make([]byte, len(v))
	copy(buf, v)
	return Value{kind: KindBytes, bytes: buf}
}

// Rec wraps r. A nil record is stored as an empty one.
func Rec(r Record) Value {
	if r == nil {
		r = Record{}
	}
	return Value{kind: KindRecord, rec: r}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool)     { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool)     { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }
func (v Value) AsText() (string, bool)   { return v.s, v.kind == KindText }
func (v Value) AsSeq() ([]Value, bool)   { return v.seq, v.kind == KindSeq }
func (v Value) AsRecord() (Record, bool) { return v.rec, v.kind == KindRecord }

// AsBytes returns the byte payload without copying.
func (v Value) AsBytes() ([]byte, bool) { return v.bytes, v.kind == KindBytes }

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindText:
		return fmt.Sprintf("%q", v.s)
	case KindBytes:
		return fmt.Sprintf("b%q", v.bytes)
	case KindSeq:
		parts := make([]string, len(v.seq))
		for i, item := range v.seq {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindRecord:
		return v.rec.String()
	default:
		return v.kind.String()
	}
}

// Equal reports deep equality. Floats compare by value except that NaN equals NaN.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindInt:
		return a.i == b.i
	case KindFloat:
		if math.IsNaN(a.f) && math.IsNaN(b.f) {
			return true
		}
		return a.f == b.f
	case KindText:
		return a.s == b.s
	case KindBytes:
		return bytes.Equal(a.bytes, b.bytes)
	case KindSeq:
		return equalSeq(a.seq, b.seq)
	case KindRecord:
		return EqualRecords(a.rec, b.rec)
	default:
		return false
	}
}

func equalSeq(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// EqualRecords compares two records key by key and occurrence by occurrence.
func EqualRecords(a, b Record) bool {
	if len(a) != len(b) {
		return false
	}
	for name, occs := range a {
		other, ok := b[name]
		if !ok || !equalSeq(occs, other) {
			return false
		}
	}
	return true
}

// WalkFunc is called for every value reached by Walk. Returning false skips
// the children of v.
type WalkFunc func(path string, v Value) bool

// Walk visits v and its children in pre-order. Record keys are visited in
// sorted order; paths look like "T_UBF_FLD[0].T_SHORT_FLD[1]".
func Walk(v Value, fn WalkFunc) {
	walk("", v, fn)
}

func walk(path string, v Value, fn WalkFunc) {
	if !fn(path, v) {
		return
	}
	switch v.kind {
	case KindSeq:
		for i, item := range v.seq {
			walk(fmt.Sprintf("%s[%d]", path, i), item, fn)
		}
	case KindRecord:
		for _, name := range v.rec.Keys() {
			prefix := name
			if path != "" {
				prefix = path + "." + name
			}
			for i, item := range v.rec[name] {
				walk(fmt.Sprintf("%s[%d]", prefix, i), item, fn)
			}
		}
	}
}

func sortedKeys(r Record) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
