package registry

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/typedbuf/internal/testutil/testlog"
)

func TestComposeSplitID(t *testing.T) {
	testlog.Start(t)
	for _, tc := range []struct {
		t      BaseType
		number uint32
	}{
		{Short, 1},
		{Long, 2},
		{Ptr, MaxNumber},
		{Record, 0},
	} {
		id := ComposeID(tc.t, tc.number)
		gotT, gotN := SplitID(id)
		if gotT != tc.t || gotN != tc.number {
			t.Fatalf("SplitID(ComposeID(%s, %d)) = %s, %d", tc.t, tc.number, gotT, gotN)
		}
	}
	if ComposeID(Long, 1) <= ComposeID(Short, MaxNumber) {
		t.Fatalf("ids do not group by type")
	}
}

func TestParseBaseType(t *testing.T) {
	testlog.Start(t)
	for raw, want := range map[string]BaseType{
		"short":  Short,
		" LONG ": Long,
		"bytes":  ByteArray,
		"carray": ByteArray,
		"record": Record,
		"ubf":    Record,
		"ptr":    Ptr,
		"view":   View,
		"double": Double,
		"char":   Char,
		"float":  Float,
		"string": String,
	} {
		got, err := ParseBaseType(raw)
		if err != nil || got != want {
			t.Fatalf("ParseBaseType(%q) = %s, %v", raw, got, err)
		}
	}
	if _, err := ParseBaseType("int"); err == nil {
		t.Fatalf("expected unknown type error")
	}
	if got := BaseType(42).String(); got != "type(42)" {
		t.Fatalf("unknown type string = %q", got)
	}
}

func field(name string, bt BaseType, number uint32) FieldDescriptor {
	return FieldDescriptor{ID: ComposeID(bt, number), Name: name, BaseType: bt}
}

func TestNewRejectsBadSchemas(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name   string
		fields []FieldDescriptor
		views  []ViewDescriptor
		kind   SchemaErrorKind
	}{
		{"duplicate name", []FieldDescriptor{field("A", Long, 1), field("A", Long, 2)}, nil, Duplicate},
		{"duplicate id", []FieldDescriptor{field("A", Long, 1), field("B", Long, 1)}, nil, Duplicate},
		{"id type mismatch", []FieldDescriptor{{ID: ComposeID(Long, 1), Name: "A", BaseType: Short}}, nil, Invalid},
		{"padded name", []FieldDescriptor{field(" A", Long, 1)}, nil, Invalid},
		{"unknown type", []FieldDescriptor{{Name: "A", BaseType: Ptr + 1}}, nil, Invalid},
		{"ptr in view", nil, []ViewDescriptor{{Name: "V", Fields: []ViewField{{Name: "p", ElementType: Ptr}}}}, Invalid},
		{"string too short", nil, []ViewDescriptor{{Name: "V", Fields: []ViewField{{Name: "s", ElementType: String, ElementSize: 1}}}}, Invalid},
		{"carray without size", nil, []ViewDescriptor{{Name: "V", Fields: []ViewField{{Name: "b", ElementType: ByteArray}}}}, Invalid},
		{"duplicate view field", nil, []ViewDescriptor{{Name: "V", Fields: []ViewField{{Name: "x", ElementType: Long}, {Name: "x", ElementType: Short}}}}, Duplicate},
		{"duplicate view", nil, []ViewDescriptor{{Name: "V"}, {Name: "V"}}, Duplicate},
		{"unnamed view", nil, []ViewDescriptor{{Name: " "}}, Invalid},
		{"null overflows short", nil, []ViewDescriptor{{Name: "V", Fields: []ViewField{{Name: "x", ElementType: Short, NullValue: "70000"}}}}, Invalid},
		{"null longer than string", nil, []ViewDescriptor{{Name: "V", Fields: []ViewField{{Name: "s", ElementType: String, ElementSize: 3, NullValue: "abc"}}}}, Invalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.fields, tc.views)
			var se SchemaError
			if !errors.As(err, &se) || se.Kind != tc.kind {
				t.Fatalf("expected %s schema error, got %v", tc.kind, err)
			}
		})
	}
}

func TestViewLayout(t *testing.T) {
	testlog.Start(t)
	reg, err := New(nil, []ViewDescriptor{{
		Name: "ACCOUNT",
		Fields: []ViewField{
			{Name: "id", ElementType: Long, NullValue: "-1"},
			{Name: "owner", ElementType: String, ElementSize: 32},
			{Name: "tags", ElementType: String, FixedCount: 4, ElementSize: 16, HasCountCompanion: true},
			{Name: "flag", ElementType: Char, NullValue: "N"},
		},
	}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	vd, err := reg.LookupView("ACCOUNT")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	tags, ok := vd.Field("tags")
	if !ok {
		t.Fatalf("tags field missing")
	}
	if tags.Offset != 40 || tags.CompanionSize() != 10 || tags.Size != 74 {
		t.Fatalf("tags layout = offset %d companion %d size %d", tags.Offset, tags.CompanionSize(), tags.Size)
	}
	if got := tags.SlotOffset(2); got != 40+10+32 {
		t.Fatalf("slot offset = %d", got)
	}
	if vd.Size != 8+32+74+1 {
		t.Fatalf("view size = %d", vd.Size)
	}

	id, _ := vd.Field("id")
	if id.ElementSize != 8 || id.FixedCount != 1 {
		t.Fatalf("scalar width not derived: %+v", id)
	}
	if got := ReadInt(Long, id.NullSlot()); got != -1 {
		t.Fatalf("null slot = %d", got)
	}
	if !id.IsNullSlot(id.NullSlot()) || id.IsNullSlot(make([]byte, 8)) || id.IsNullSlot(nil) {
		t.Fatalf("null slot detection wrong")
	}
	flag, _ := vd.Field("flag")
	if !flag.IsNullSlot([]byte("N")) {
		t.Fatalf("char null marker not detected")
	}
	if _, ok := vd.Field("missing"); ok {
		t.Fatalf("missing field reported present")
	}
	if _, err := reg.LookupView("NOPE"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("lookup unknown view: %v", err)
	}
}

func TestLookupAndListing(t *testing.T) {
	testlog.Start(t)
	reg, err := New([]FieldDescriptor{
		field("T_STRING_FLD", String, 6),
		field("T_SHORT_FLD", Short, 1),
		field("T_LONG_FLD", Long, 2),
	}, []ViewDescriptor{{Name: "B"}, {Name: "A"}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	fd, err := reg.LookupField("T_LONG_FLD")
	if err != nil || fd.ID != ComposeID(Long, 2) {
		t.Fatalf("lookup = %+v, %v", fd, err)
	}
	byID, err := reg.FieldByID(fd.ID)
	if err != nil || byID.Name != "T_LONG_FLD" {
		t.Fatalf("by id = %+v, %v", byID, err)
	}
	_, err = reg.FieldByID(ComposeID(Double, 99))
	if !errors.Is(err, ErrNotFound) || !strings.Contains(err.Error(), "id=") {
		t.Fatalf("unknown id error = %v", err)
	}
	if _, err := reg.LookupField("T_NOPE"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown field error = %v", err)
	}
	names := make([]string, 0, 3)
	for _, fd := range reg.Fields() {
		names = append(names, fd.Name)
	}
	if got := strings.Join(names, ","); got != "T_SHORT_FLD,T_LONG_FLD,T_STRING_FLD" {
		t.Fatalf("fields = %s", got)
	}
	if got := strings.Join(reg.Views(), ","); got != "A,B" {
		t.Fatalf("views = %s", got)
	}
}

func TestScalarStorage(t *testing.T) {
	testlog.Start(t)
	buf := make([]byte, 8)
	for _, tc := range []struct {
		t BaseType
		v int64
	}{
		{Short, -2}, {Long, -1 << 40}, {Char, 'z'},
	} {
		PutInt(tc.t, buf, tc.v)
		if got := ReadInt(tc.t, buf); got != tc.v {
			t.Fatalf("%s: read %d want %d", tc.t, got, tc.v)
		}
	}
	PutFloat(Float, buf, 1.5)
	if got := ReadFloat(Float, buf); got != 1.5 {
		t.Fatalf("float = %g", got)
	}
	PutFloat(Double, buf, -0.1)
	if got := ReadFloat(Double, buf); got != -0.1 {
		t.Fatalf("double = %g", got)
	}
}

func writeSchema(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadFiles(t *testing.T) {
	testlog.Start(t)
	tomlPath := writeSchema(t, "base.toml", `
[[field]]
name = "T_LONG_FLD"
number = 2
type = "long"

[[view]]
name = "PAIR"

[[view.field]]
name = "a"
type = "short"

[[view.field]]
name = "b"
type = "string"
size = 8
null = "none"
`)
	yamlPath := writeSchema(t, "orders.yml", `base: 1000
field:
  - name: T_ORDER_ID
    number: 1
    type: long
  - name: T_ORDER_LINE
    number: 2
    type: ubf
    max_occurrences: 100
`)
	reg, err := LoadFiles(tomlPath, yamlPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	fd, err := reg.LookupField("T_ORDER_ID")
	if err != nil || fd.ID != ComposeID(Long, 1001) {
		t.Fatalf("base offset not applied: %+v, %v", fd, err)
	}
	line, _ := reg.LookupField("T_ORDER_LINE")
	if line.BaseType != Record || line.MaxOccurrences != 100 {
		t.Fatalf("order line = %+v", line)
	}
	vd, err := reg.LookupView("PAIR")
	if err != nil || vd.Size != 10 {
		t.Fatalf("view = %+v, %v", vd, err)
	}
}

func TestLoadFilesRejects(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name, file, body string
	}{
		{"unknown toml key", "a.toml", "[[field]]\nname = \"A\"\nnumber = 1\ntype = \"long\"\ncolour = 1\n"},
		{"unknown yaml key", "a.yaml", "field:\n  - name: A\n    number: 1\n    type: long\n    colour: 1\n"},
		{"missing number", "a.toml", "[[field]]\nname = \"A\"\ntype = \"long\"\n"},
		{"bad type", "a.toml", "[[field]]\nname = \"A\"\nnumber = 1\ntype = \"int\"\n"},
		{"ptr in view", "a.toml", "[[view]]\nname = \"V\"\n[[view.field]]\nname = \"p\"\ntype = \"ptr\"\n"},
		{"empty view", "a.toml", "[[view]]\nname = \"V\"\n"},
		{"number past range", "a.yaml", "base: 33554431\nfield:\n  - name: A\n    number: 1\n    type: long\n"},
		{"base wraps uint32", "a.yaml", "base: 4294967295\nfield:\n  - name: A\n    number: 2\n    type: long\n"},
		{"malformed", "a.toml", "[[field]\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadFiles(writeSchema(t, tc.file, tc.body)); err == nil {
				t.Fatalf("expected load error")
			}
		})
	}
	if _, err := LoadFiles(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected missing file error")
	}
	a := writeSchema(t, "a.toml", "[[field]]\nname = \"A\"\nnumber = 1\ntype = \"long\"\n")
	if _, err := LoadFiles(a, a); err == nil {
		t.Fatalf("expected duplicate error across files")
	}
}
