package buffer

import (
	"fmt"
	"strings"
)

// Tag is the closed set of buffer types.
type Tag uint8

const (
	TagNull Tag = iota
	TagString
	TagJSON
	TagCarray
	TagUBF
	TagView
	TagPtr

	tagCount
)

var tagNames = [tagCount]string{
	TagNull:   "NULL",
	TagString: "STRING",
	TagJSON:   "JSON",
	TagCarray: "CARRAY",
	TagUBF:    "UBF",
	TagView:   "VIEW",
	TagPtr:    "PTR",
}

// Tags lists every tag in declaration order.
func Tags() []Tag {
	out := make([]Tag, 0, tagCount)
	for t := Tag(0); t < tagCount; t++ {
		out = append(out, t)
	}
	return out
}

func (t Tag) String() string {
	if t < tagCount {
		return tagNames[t]
	}
	return fmt.Sprintf("TAG(%d)", uint8(t))
}

// Valid reports whether t is one of the declared tags.
func (t Tag) Valid() bool { return t < tagCount }

// ParseTag accepts the middleware's type names; X_OCTET is an alias of CARRAY.
func ParseTag(raw string) (Tag, error) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	if name == "X_OCTET" {
		return TagCarray, nil
	}
	for t := Tag(0); t < tagCount; t++ {
		if tagNames[t] == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTag, raw)
}
