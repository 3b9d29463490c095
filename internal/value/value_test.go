package value

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/danmuck/typedbuf/internal/testutil/testlog"
)

func TestEqual(t *testing.T) {
	testlog.Start(t)
	rec := Rec(Record{"a": {Int(1), Text("x")}})
	cases := []struct {
		name string
		a, b Value
		want bool
	}{
		{"null", Null(), Value{}, true},
		{"kind mismatch", Int(1), Float(1), false},
		{"nan", Float(math.NaN()), Float(math.NaN()), true},
		{"bytes", Bytes([]byte{1, 2}), Bytes([]byte{1, 2}), true},
		{"bytes differ", Bytes([]byte{1}), Bytes([]byte{2}), false},
		{"seq length", Seq(Int(1)), Seq(Int(1), Int(2)), false},
		{"record", rec, Rec(Record{"a": {Int(1), Text("x")}}), true},
		{"record occurrence order", rec, Rec(Record{"a": {Text("x"), Int(1)}}), false},
		{"record missing key", rec, Rec(Record{"b": {Int(1), Text("x")}}), false},
		{"nil record is empty", Rec(nil), Rec(Record{}), true},
	}
	for _, tc := range cases {
		if got := Equal(tc.a, tc.b); got != tc.want {
			t.Fatalf("%s: Equal(%s, %s) = %v", tc.name, tc.a, tc.b, got)
		}
	}
}

func TestBytesCopiesInput(t *testing.T) {
	testlog.Start(t)
	src := []byte("abc")
	v := Bytes(src)
	src[0] = 'z'
	if got, _ := v.AsBytes(); string(got) != "abc" {
		t.Fatalf("bytes aliased caller slice: %q", got)
	}
}

func TestWalkVisitsInSortedPreOrder(t *testing.T) {
	testlog.Start(t)
	v := Rec(Record{
		"b": {Int(2)},
		"a": {Rec(Record{"c": {Seq(Text("x"))}}), Null()},
	})
	var paths []string
	Walk(v, func(path string, _ Value) bool {
		paths = append(paths, path)
		return true
	})
	want := "|a[0]|a[0].c[0]|a[0].c[0][0]|a[1]|b[0]"
	if got := strings.Join(paths, "|"); got != want {
		t.Fatalf("paths = %q want %q", got, want)
	}

	paths = paths[:0]
	Walk(v, func(path string, v Value) bool {
		paths = append(paths, path)
		return v.Kind() != KindRecord || path == ""
	})
	if got := strings.Join(paths, "|"); got != "|a[0]|a[1]|b[0]" {
		t.Fatalf("pruned paths = %q", got)
	}
}

func TestRecordHelpers(t *testing.T) {
	testlog.Start(t)
	r := Record{}
	r.Set("name", Text("ann")).Add("n", Int(1)).Add("n", Int(2))
	if got := r.Keys(); len(got) != 2 || got[0] != "n" || got[1] != "name" {
		t.Fatalf("keys = %v", got)
	}
	if v, ok := r.First("n"); !ok || !Equal(v, Int(1)) {
		t.Fatalf("first = %s %v", v, ok)
	}
	if _, ok := r.First("missing"); ok {
		t.Fatalf("first on missing field reported ok")
	}
	if s, ok := r.TextField("name"); !ok || s != "ann" {
		t.Fatalf("text field = %q %v", s, ok)
	}
	if _, ok := r.TextField("n"); ok {
		t.Fatalf("text field on int reported ok")
	}
	if got := r.String(); got != `{n: [1, 2], name: ["ann"]}` {
		t.Fatalf("string = %s", got)
	}
}

func TestWrap(t *testing.T) {
	testlog.Start(t)
	null := Wrap("NULL", "", Null())
	rec, _ := null.AsRecord()
	if len(rec) != 1 || !IsWrapper(rec) {
		t.Fatalf("null wrapper = %s", null)
	}
	view := Wrap("VIEW", "ACCOUNT", Rec(Record{"id": {Int(1)}}))
	rec, _ = view.AsRecord()
	if sub, _ := rec.TextField(KeySubtype); sub != "ACCOUNT" || !IsWrapper(rec) {
		t.Fatalf("view wrapper = %s", view)
	}
	rec[KeyCallInfo] = []Value{Rec(nil)}
	if IsWrapper(rec) {
		t.Fatalf("record with call info is not a bare wrapper")
	}
	if IsWrapper(Record{KeyData: {Int(1)}}) || IsWrapper(nil) {
		t.Fatalf("record without buftype reported as wrapper")
	}
}

func TestFromNative(t *testing.T) {
	testlog.Start(t)
	doc := map[string]any{
		"T_LONG_FLD":   []any{json.Number("5"), uint16(6)},
		"T_DOUBLE_FLD": json.Number("1.5"),
		"T_STRING_FLD": "hi",
		"T_UBF_FLD": map[any]any{
			"inner": true,
		},
		"T_CARRAY_FLD": []byte{0, 1},
		"T_EMPTY":      nil,
	}
	got, err := FromNative(doc)
	if err != nil {
		t.Fatalf("from native: %v", err)
	}
	want := Rec(Record{
		"T_LONG_FLD":   {Int(5), Int(6)},
		"T_DOUBLE_FLD": {Float(1.5)},
		"T_STRING_FLD": {Text("hi")},
		"T_UBF_FLD":    {Rec(Record{"inner": {Bool(true)}})},
		"T_CARRAY_FLD": {Bytes([]byte{0, 1})},
		"T_EMPTY":      {Null()},
	})
	if !Equal(got, want) {
		t.Fatalf("got %s want %s", got, want)
	}

	typed, err := FromNative([]string{"a", "b"})
	if err != nil || !Equal(typed, Seq(Text("a"), Text("b"))) {
		t.Fatalf("typed slice = %s, %v", typed, err)
	}
}

func TestFromNativeRejects(t *testing.T) {
	testlog.Start(t)
	for name, in := range map[string]any{
		"uint overflow":  uint64(math.MaxUint64),
		"non-string key": map[any]any{1: "x"},
		"unsupported":    struct{}{},
		"nested":         []any{map[string]any{"x": complex(1, 2)}},
		"bad number":     json.Number("1e999x"),
	} {
		if _, err := FromNative(in); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestToNativeRoundTrip(t *testing.T) {
	testlog.Start(t)
	v := Rec(Record{
		"a": {Int(1), Float(2.5), Text("x"), Bool(false), Null()},
		"b": {Bytes([]byte("raw")), Seq(Int(1)), Rec(Record{"c": {Int(3)}})},
	})
	native := v.ToNative()
	m, ok := native.(map[string]any)
	if !ok {
		t.Fatalf("native = %T", native)
	}
	if occs, ok := m["a"].([]any); !ok || len(occs) != 5 {
		t.Fatalf("occurrences not a slice: %#v", m["a"])
	}
	back, err := FromNative(native)
	if err != nil {
		t.Fatalf("from native: %v", err)
	}
	if !Equal(v, back) {
		t.Fatalf("round trip %s != %s", back, v)
	}
}
