package registry

import (
	"fmt"
	"strings"
)

// BaseType is the declared storage type of a field or view element.
type BaseType uint8

const (
	Short BaseType = iota
	Long
	Char
	Float
	Double
	String
	ByteArray
	Record
	View
	Ptr
)

var baseTypeNames = [...]string{
	Short:     "short",
	Long:      "long",
	Char:      "char",
	Float:     "float",
	Double:    "double",
	String:    "string",
	ByteArray: "carray",
	Record:    "ubf",
	View:      "view",
	Ptr:       "ptr",
}

func (t BaseType) String() string {
	if int(t) < len(baseTypeNames) {
		return baseTypeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseBaseType accepts the schema file spelling of a type.
func ParseBaseType(raw string) (BaseType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "short":
		return Short, nil
	case "long":
		return Long, nil
	case "char":
		return Char, nil
	case "float":
		return Float, nil
	case "double":
		return Double, nil
	case "string":
		return String, nil
	case "carray", "bytes":
		return ByteArray, nil
	case "ubf", "record":
		return Record, nil
	case "view":
		return View, nil
	case "ptr":
		return Ptr, nil
	default:
		return 0, fmt.Errorf("registry: unknown base type %q", raw)
	}
}

// Scalar reports whether values of t occupy a fixed number of bytes.
func (t BaseType) Scalar() bool {
	switch t {
	case Short, Long, Char, Float, Double:
		return true
	default:
		return false
	}
}

// Width returns the fixed element width of a scalar type, or 0.
func (t BaseType) Width() int {
	switch t {
	case Short:
		return 2
	case Long, Double:
		return 8
	case Char:
		return 1
	case Float:
		return 4
	default:
		return 0
	}
}

const (
	typeShift  = 25
	numberMask = 1<<typeShift - 1
)

// ComposeID builds a field id from its type and number. Ascending ids group
// fields by type, then by number.
func ComposeID(t BaseType, number uint32) uint32 {
	return uint32(t)<<typeShift | number&numberMask
}

// SplitID is the inverse of ComposeID.
func SplitID(id uint32) (BaseType, uint32) {
	return BaseType(id >> typeShift), id & numberMask
}

// MaxNumber is the largest field number that fits in an id.
const MaxNumber = numberMask

// FieldDescriptor describes one field of a FieldedRecord.
type FieldDescriptor struct {
	ID       uint32
	Name     string
	BaseType BaseType
	// MaxOccurrences bounds the occurrence count; 0 is unbounded.
	MaxOccurrences uint32
	// MaxLength bounds string and byte array payloads; 0 is unbounded.
	MaxLength uint32
}

// ViewField is one member of a view layout.
type ViewField struct {
	Name        string
	ElementType BaseType
	FixedCount  int
	ElementSize int
	// HasCountCompanion reserves an occupied-slot count and, for string and
	// byte array elements, a per-slot length.
	HasCountCompanion bool
	// NullValue is the text form of the "no value" marker for unset slots.
	NullValue string

	// Offset and Size are computed when the registry is built.
	Offset int
	Size   int

	nullSlot []byte
}

// CompanionSize is the number of bytes ahead of the slots reserved for
// companions.
func (f ViewField) CompanionSize() int {
	if !f.HasCountCompanion {
		return 0
	}
	n := 2
	if f.ElementType == String || f.ElementType == ByteArray {
		n += 2 * f.FixedCount
	}
	return n
}

// SlotOffset returns the offset of slot i relative to the start of the view.
func (f ViewField) SlotOffset(i int) int {
	return f.Offset + f.CompanionSize() + i*f.ElementSize
}

// ViewDescriptor is a fixed record layout.
type ViewDescriptor struct {
	Name   string
	Fields []ViewField
	// Size is the total occupied size, fixed at registry build time.
	Size int

	index map[string]int
}

// Field returns the named member.
func (v *ViewDescriptor) Field(name string) (ViewField, bool) {
	i, ok := v.index[name]
	if !ok {
		return ViewField{}, false
	}
	return v.Fields[i], true
}
