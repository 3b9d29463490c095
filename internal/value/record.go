package value

import "strings"

// Reserved record keys. A record carrying KeyBufType and KeyData (and
// optionally KeySubtype) describes a buffer rather than a set of fields.
const (
	KeyBufType  = "buftype"
	KeySubtype  = "subtype"
	KeyData     = "data"
	KeyCallInfo = "callinfo"
)

// View occurrence keys inside a record's view-typed field.
const (
	KeyViewName = "vname"
	KeyViewData = "data"
)

// Record maps a field name to its occurrences. Occurrence i of a field is
// position i of the sequence.
type Record map[string][]Value

// Set replaces every occurrence of name.
func (r Record) Set(name string, occs ...Value) Record {
	r[name] = occs
	return r
}

// Add appends one occurrence to name.
func (r Record) Add(name string, v Value) Record {
	r[name] = append(r[name], v)
	return r
}

// First returns occurrence 0 of name.
func (r Record) First(name string) (Value, bool) {
	occs, ok := r[name]
	if !ok || len(occs) == 0 {
		return Value{}, false
	}
	return occs[0], true
}

// Keys returns the field names in sorted order.
func (r Record) Keys() []string {
	return sortedKeys(r)
}

func (r Record) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, name := range r.Keys() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(Seq(r[name]...).String())
	}
	b.WriteByte('}')
	return b.String()
}

// IsWrapper reports whether r requests a nested buffer: it names a buffer
// type and carries no keys besides the reserved ones. Data is absent only
// for NULL buffers.
func IsWrapper(r Record) bool {
	if r == nil {
		return false
	}
	if _, ok := r[KeyBufType]; !ok {
		return false
	}
	for name := range r {
		switch name {
		case KeyBufType, KeySubtype, KeyData:
		default:
			return false
		}
	}
	return true
}

// Wrap builds a wrapper record. Subtype is omitted when empty and data is
// omitted when null.
func Wrap(bufType, subtype string, data Value) Value {
	r := Record{KeyBufType: {Text(bufType)}}
	if subtype != "" {
		r[KeySubtype] = []Value{Text(subtype)}
	}
	if !data.IsNull() {
		r[KeyData] = []Value{data}
	}
	return Rec(r)
}

// TextField returns occurrence 0 of name when it is text.
func (r Record) TextField(name string) (string, bool) {
	v, ok := r.First(name)
	if !ok {
		return "", false
	}
	return v.AsText()
}
