package registry

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PutInt stores v in dst using the width of t. Range checks belong to the caller.
func PutInt(t BaseType, dst []byte, v int64) {
	switch t {
	case Short:
		binary.BigEndian.PutUint16(dst, uint16(int16(v)))
	case Long:
		binary.BigEndian.PutUint64(dst, uint64(v))
	case Char:
		dst[0] = byte(v)
	}
}

// PutFloat stores f in dst using the width of t.
func PutFloat(t BaseType, dst []byte, f float64) {
	switch t {
	case Float:
		binary.BigEndian.PutUint32(dst, math.Float32bits(float32(f)))
	case Double:
		binary.BigEndian.PutUint64(dst, math.Float64bits(f))
	}
}

// ReadInt loads an integer stored by PutInt.
func ReadInt(t BaseType, src []byte) int64 {
	switch t {
	case Short:
		return int64(int16(binary.BigEndian.Uint16(src)))
	case Long:
		return int64(binary.BigEndian.Uint64(src))
	case Char:
		return int64(src[0])
	default:
		return 0
	}
}

// ReadFloat loads a float stored by PutFloat.
func ReadFloat(t BaseType, src []byte) float64 {
	switch t {
	case Float:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(src)))
	case Double:
		return math.Float64frombits(binary.BigEndian.Uint64(src))
	default:
		return 0
	}
}

// NullSlot returns the raw bytes of the "no value" marker for one slot of f.
func (f ViewField) NullSlot() []byte {
	slot := make([]byte, f.ElementSize)
	copy(slot, f.nullSlot)
	return slot
}

// DeclaresNull reports whether f names an explicit "no value" marker rather
// than the zero default.
func (f ViewField) DeclaresNull() bool {
	raw := strings.TrimSpace(f.NullValue)
	return raw != "" && raw != "-"
}

// IsNullSlot reports whether raw holds the "no value" marker of f.
func (f ViewField) IsNullSlot(raw []byte) bool {
	if len(raw) != f.ElementSize {
		return false
	}
	for i, b := range raw {
		var want byte
		if i < len(f.nullSlot) {
			want = f.nullSlot[i]
		}
		if b != want {
			return false
		}
	}
	return true
}

func parseNullSlot(f ViewField) ([]byte, error) {
	raw := strings.TrimSpace(f.NullValue)
	slot := make([]byte, f.ElementSize)
	if raw == "" || raw == "-" {
		return slot, nil
	}
	switch f.ElementType {
	case Short, Long:
		v, err := strconv.ParseInt(raw, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("null value %q: %w", f.NullValue, err)
		}
		if f.ElementType == Short && (v < math.MinInt16 || v > math.MaxInt16) {
			return nil, fmt.Errorf("null value %q overflows short", f.NullValue)
		}
		PutInt(f.ElementType, slot, v)
	case Float, Double:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("null value %q: %w", f.NullValue, err)
		}
		PutFloat(f.ElementType, slot, v)
	case Char:
		if len(f.NullValue) != 1 {
			return nil, fmt.Errorf("null value %q is not a single char", f.NullValue)
		}
		slot[0] = f.NullValue[0]
	case String:
		if len(f.NullValue) > f.ElementSize-1 {
			return nil, fmt.Errorf("null value %q longer than field", f.NullValue)
		}
		copy(slot, f.NullValue)
	case ByteArray:
		if len(f.NullValue) > f.ElementSize {
			return nil, fmt.Errorf("null value %q longer than field", f.NullValue)
		}
		copy(slot, f.NullValue)
	}
	return slot, nil
}
