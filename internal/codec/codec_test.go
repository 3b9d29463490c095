package codec

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/danmuck/typedbuf/internal/buffer"
	"github.com/danmuck/typedbuf/internal/registry"
	"github.com/danmuck/typedbuf/internal/testutil/fixture"
	"github.com/danmuck/typedbuf/internal/testutil/testlog"
	"github.com/danmuck/typedbuf/internal/value"
)

func newCodec(t *testing.T, opts Options) *Codec {
	t.Helper()
	return New(fixture.Registry(t), buffer.NewResolver(), opts)
}

func mustEncode(t *testing.T, c *Codec, v value.Value, tag buffer.Tag, subtype string) buffer.Buffer {
	t.Helper()
	b, err := c.Encode(v, tag, subtype)
	if err != nil {
		t.Fatalf("encode %s: %v", tag, err)
	}
	return b
}

func mustDecode(t *testing.T, c *Codec, b buffer.Buffer) value.Value {
	t.Helper()
	v, err := c.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func mustRecord(t *testing.T, v value.Value) value.Record {
	t.Helper()
	rec, ok := v.AsRecord()
	if !ok {
		t.Fatalf("expected record, got %s", v.Kind())
	}
	return rec
}

func TestEncodeDecodeScenario(t *testing.T) {
	testlog.Start(t)
	c := newCodec(t, Options{})
	in := value.Rec(value.Record{
		"T_SHORT_FLD": {value.Int(32000)},
		"T_LONG_FLD":  {value.Int(999999)},
		"T_FLOAT_FLD": {value.Float(55.9)},
	})
	b := mustEncode(t, c, in, buffer.TagUBF, "")
	out := mustRecord(t, mustDecode(t, c, b))

	if got, _ := out["T_SHORT_FLD"][0].AsInt(); got != 32000 {
		t.Fatalf("T_SHORT_FLD[0] = %d", got)
	}
	if got, _ := out["T_LONG_FLD"][0].AsInt(); got != 999999 {
		t.Fatalf("T_LONG_FLD[0] = %d", got)
	}
	if got, _ := out["T_FLOAT_FLD"][0].AsFloat(); math.Abs(got-55.9) > 1e-5 {
		t.Fatalf("T_FLOAT_FLD[0] = %v", got)
	}
}

func TestRoundTripIdentity(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name    string
		v       value.Value
		tag     buffer.Tag
		subtype string
	}{
		{"null", value.Null(), buffer.TagNull, ""},
		{"string", value.Text("hello world"), buffer.TagString, ""},
		{"json", value.Text(`{"a":[1,2,3]}`), buffer.TagJSON, ""},
		{"carray", value.Bytes([]byte{0, 1, 2, 0, 255}), buffer.TagCarray, ""},
		{"ubf", value.Rec(value.Record{
			"T_SHORT_FLD":  {value.Int(-3), value.Int(7)},
			"T_LONG_FLD":   {value.Int(math.MinInt64)},
			"T_CHAR_FLD":   {value.Text("A")},
			"T_DOUBLE_FLD": {value.Float(1.0 / 3)},
			"T_STRING_FLD": {value.Text(""), value.Text("two")},
			"T_CARRAY_FLD": {value.Bytes(nil), value.Bytes([]byte("x\x00y"))},
			"T_UBF_FLD": {value.Rec(value.Record{
				"T_STRING_FLD": {value.Text("nested")},
				"T_UBF_FLD":    {value.Rec(value.Record{"T_LONG_FLD": {value.Int(5)}})},
			})},
			"T_VIEW_FLD": {
				value.Rec(value.Record{
					value.KeyViewName: {value.Text("UBTESTVIEW2")},
					value.KeyViewData: {value.Rec(value.Record{
						"tshort1":  {value.Int(12)},
						"tstring1": {value.Text("abc")},
					})},
				}),
				value.Rec(value.Record{}),
			},
		}), buffer.TagUBF, ""},
		{"view", value.Rec(value.Record{
			"tshort1":  {value.Int(1)},
			"tlong1":   {value.Int(2)},
			"tchar1":   {value.Text("c")},
			"tfloat1":  {value.Float(0.5)},
			"tdouble1": {value.Float(1e100)},
			"tstring1": {value.Text("fourteen chars")},
			"tcarray1": {value.Bytes([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})},
		}), buffer.TagView, "UBTESTVIEW2"},
		{"view companions", value.Rec(value.Record{
			"tshort2":  {value.Int(1), value.Null()},
			"tstring2": {value.Text("abcde")},
			"tcarray2": {value.Bytes([]byte{0, 0, 5, 7}), value.Bytes([]byte{9})},
		}), buffer.TagView, "UBTESTVIEW3"},
		{"view companion zero values", value.Rec(value.Record{
			"tshort2":  {value.Int(0), value.Int(-5)},
			"tstring2": {value.Text(""), value.Text("x"), value.Text("")},
			"tcarray2": {value.Bytes([]byte{0, 0}), value.Bytes(nil)},
		}), buffer.TagView, "UBTESTVIEW3"},
		{"ptr", value.Wrap("STRING", "", value.Text("inner")), buffer.TagPtr, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newCodec(t, Options{})
			b := mustEncode(t, c, tc.v, tc.tag, tc.subtype)
			out := mustDecode(t, c, b)
			if !value.Equal(tc.v, out) {
				t.Fatalf("round trip mismatch:\n in: %s\nout: %s", tc.v, out)
			}
			if _, err := c.Release(b); err != nil {
				t.Fatalf("release: %v", err)
			}
			if c.Resolver().Live() != 0 {
				t.Fatalf("live buffers after release: %d", c.Resolver().Live())
			}
		})
	}
}

func TestEncoderTableCoversEveryTag(t *testing.T) {
	if len(encoders) != len(buffer.Tags()) {
		t.Fatalf("encoders has %d entries for %d tags", len(encoders), len(buffer.Tags()))
	}
	for _, tag := range buffer.Tags() {
		if encoders[tag] == nil {
			t.Fatalf("no encoder for %s", tag)
		}
	}
}

func TestOccurrenceOrderPreserved(t *testing.T) {
	testlog.Start(t)
	c := newCodec(t, Options{})
	b := mustEncode(t, c, value.Rec(value.Record{
		"T_CHAR_FLD": {value.Text("X"), value.Text("Y")},
	}), buffer.TagUBF, "")
	occs := mustRecord(t, mustDecode(t, c, b))["T_CHAR_FLD"]
	if len(occs) != 2 {
		t.Fatalf("occurrences = %d", len(occs))
	}
	for i, want := range []string{"X", "Y"} {
		if got, _ := occs[i].AsText(); got != want {
			t.Fatalf("T_CHAR_FLD[%d] = %q want %q", i, got, want)
		}
	}
}

func TestCapacityGrowthWithoutLoss(t *testing.T) {
	testlog.Start(t)
	c := newCodec(t, Options{InitialCapacity: 16})
	occs := make([]value.Value, 1000)
	for i := range occs {
		occs[i] = value.Int(int64(i * 7))
	}
	b := mustEncode(t, c, value.Rec(value.Record{"T_LONG_FLD": occs}), buffer.TagUBF, "")
	if c.Growths() == 0 {
		t.Fatalf("expected the buffer to grow")
	}
	if b.Len() > b.Cap() {
		t.Fatalf("len %d exceeds cap %d", b.Len(), b.Cap())
	}
	got := mustRecord(t, mustDecode(t, c, b))["T_LONG_FLD"]
	if len(got) != 1000 {
		t.Fatalf("decoded %d occurrences", len(got))
	}
	for i, v := range got {
		if n, _ := v.AsInt(); n != int64(i*7) {
			t.Fatalf("T_LONG_FLD[%d] = %d", i, n)
		}
	}
}

func TestGrowthCeilingIsCapacityError(t *testing.T) {
	testlog.Start(t)
	c := newCodec(t, Options{InitialCapacity: 16, MaxBufferBytes: 64})
	_, err := c.Encode(value.Text(strings.Repeat("x", 100)), buffer.TagString, "")
	var capErr buffer.CapacityError
	if !errors.As(err, &capErr) || capErr.Declared != 64 || capErr.Requested != 101 {
		t.Fatalf("expected CapacityError at the ceiling, got %v", err)
	}
	if c.Resolver().Live() != 0 {
		t.Fatalf("failed encode left %d live buffers", c.Resolver().Live())
	}
}

func TestViewOverflowNamesField(t *testing.T) {
	testlog.Start(t)
	c := newCodec(t, Options{})
	_, err := c.Encode(value.Rec(value.Record{
		"tstring1": {value.Text("this text is longer than fifteen")},
	}), buffer.TagView, "UBTESTVIEW2")
	var capErr buffer.CapacityError
	if !errors.As(err, &capErr) || capErr.Field != "tstring1" {
		t.Fatalf("expected CapacityError for tstring1, got %v", err)
	}
	if !strings.Contains(err.Error(), "No space in `tstring1`") {
		t.Fatalf("message = %q", err.Error())
	}

	_, err = c.Encode(value.Rec(value.Record{
		"tshort1": {value.Int(1), value.Int(2)},
	}), buffer.TagView, "UBTESTVIEW2")
	if !errors.As(err, &capErr) || capErr.Field != "tshort1" || capErr.Declared != 1 {
		t.Fatalf("expected count overflow for tshort1, got %v", err)
	}
	if c.Resolver().Live() != 0 {
		t.Fatalf("failed encodes left %d live buffers", c.Resolver().Live())
	}
}

func nestedDepth3() value.Value {
	lvl3 := value.Wrap("STRING", "", value.Text("deep"))
	lvl2 := value.Wrap("UBF", "", value.Rec(value.Record{"T_PTR_FLD": {lvl3}}))
	lvl1 := value.Wrap("UBF", "", value.Rec(value.Record{"T_PTR_FLD": {lvl2}}))
	return value.Rec(value.Record{"T_PTR_FLD": {lvl1}, "T_LONG_FLD": {value.Int(1)}})
}

func TestNestedWrapperRoundTripAndRelease(t *testing.T) {
	testlog.Start(t)
	c := newCodec(t, Options{})
	released := map[buffer.ID]int{}
	c.Resolver().OnRelease(func(b buffer.Buffer) { released[b.ID()]++ })

	in := nestedDepth3()
	b := mustEncode(t, c, in, buffer.TagUBF, "")
	if out := mustDecode(t, c, b); !value.Equal(in, out) {
		t.Fatalf("round trip mismatch:\n in: %s\nout: %s", in, out)
	}

	report, err := c.Release(b)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if report.Wrappers != 3 {
		t.Fatalf("released %d sub-buffers, want 3", report.Wrappers)
	}
	for id, n := range released {
		if n != 1 {
			t.Fatalf("buffer %d released %d times", id, n)
		}
	}
	if len(released) != len(report.Released) {
		t.Fatalf("hook saw %d buffers, report %d", len(released), len(report.Released))
	}
	if c.Resolver().Live() != 0 {
		t.Fatalf("live buffers after release: %d", c.Resolver().Live())
	}
	if _, err := c.Release(b); err == nil {
		t.Fatalf("expected double release to fail")
	}
}

func TestByteArrayExactness(t *testing.T) {
	testlog.Start(t)
	c := newCodec(t, Options{})
	first := []byte{0x00, 0x03, 0x05, 0x07}
	second := []byte{0x00, 0x00, 0x05, 0x07}
	b := mustEncode(t, c, value.Rec(value.Record{
		"T_CARRAY_FLD": {value.Bytes(first), value.Bytes(second)},
	}), buffer.TagUBF, "")
	occs := mustRecord(t, mustDecode(t, c, b))["T_CARRAY_FLD"]
	if len(occs) != 2 {
		t.Fatalf("occurrences = %d", len(occs))
	}
	for i, want := range [][]byte{first, second} {
		got, ok := occs[i].AsBytes()
		if !ok || !bytes.Equal(got, want) {
			t.Fatalf("T_CARRAY_FLD[%d] = %v want %v", i, got, want)
		}
	}
}

func TestCoercions(t *testing.T) {
	testlog.Start(t)
	c := newCodec(t, Options{})
	b := mustEncode(t, c, value.Rec(value.Record{
		"T_SHORT_FLD":  {value.Bool(true), value.Text(" 12 "), value.Float(4)},
		"T_STRING_FLD": {value.Int(42), value.Float(1.5), value.Bytes([]byte("raw"))},
		"T_CHAR_FLD":   {value.Int(65), value.Bytes([]byte("B"))},
		"T_DOUBLE_FLD": {value.Text("2.5"), value.Int(3)},
		"T_CARRAY_FLD": {value.Text("txt")},
	}), buffer.TagUBF, "")
	want := value.Rec(value.Record{
		"T_SHORT_FLD":  {value.Int(1), value.Int(12), value.Int(4)},
		"T_STRING_FLD": {value.Text("42"), value.Text("1.5"), value.Text("raw")},
		"T_CHAR_FLD":   {value.Text("A"), value.Text("B")},
		"T_DOUBLE_FLD": {value.Float(2.5), value.Float(3)},
		"T_CARRAY_FLD": {value.Bytes([]byte("txt"))},
	})
	if got := mustDecode(t, c, b); !value.Equal(got, want) {
		t.Fatalf("coerced:\n got: %s\nwant: %s", got, want)
	}
}

func TestTypeMismatch(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		field string
		v     value.Value
	}{
		{"T_SHORT_FLD", value.Int(40000)},
		{"T_SHORT_FLD", value.Float(1.5)},
		{"T_LONG_FLD", value.Text("abc")},
		{"T_CHAR_FLD", value.Text("XY")},
		{"T_CHAR_FLD", value.Int(256)},
		{"T_STRING_FLD", value.Text("a\x00b")},
		{"T_CARRAY_FLD", value.Int(1)},
		{"T_UBF_FLD", value.Text("not a record")},
		{"T_PTR_FLD", value.Rec(value.Record{"T_LONG_FLD": {value.Int(1)}})},
		{"T_FLOAT_FLD", value.Float(1e300)},
	}
	c := newCodec(t, Options{})
	for _, tc := range cases {
		_, err := c.Encode(value.Rec(value.Record{tc.field: {tc.v}}), buffer.TagUBF, "")
		var mm TypeMismatchError
		if !errors.As(err, &mm) {
			t.Fatalf("%s=%s: expected TypeMismatchError, got %v", tc.field, tc.v, err)
		}
		if mm.Field != tc.field {
			t.Fatalf("%s: error names %q", tc.field, mm.Field)
		}
	}
	if c.Resolver().Live() != 0 {
		t.Fatalf("failed encodes left %d live buffers", c.Resolver().Live())
	}
}

func TestSchemaAndOccurrenceLimits(t *testing.T) {
	testlog.Start(t)
	c := newCodec(t, Options{})

	_, err := c.Encode(value.Rec(value.Record{"NO_SUCH_FLD": {value.Int(1)}}), buffer.TagUBF, "")
	if !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, err = c.Encode(value.Null(), buffer.TagView, "NO_SUCH_VIEW")
	if !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for view, got %v", err)
	}

	occs := []value.Value{value.Int(1), value.Int(2), value.Int(3), value.Int(4)}
	_, err = c.Encode(value.Rec(value.Record{"T_LONG_2_FLD": occs}), buffer.TagUBF, "")
	var rangeErr buffer.OccurrenceOutOfRangeError
	if !errors.As(err, &rangeErr) || rangeErr.Field != "T_LONG_2_FLD" || rangeErr.Index != 3 || rangeErr.Max != 3 {
		t.Fatalf("expected OccurrenceOutOfRangeError, got %v", err)
	}

	_, err = c.Encode(value.Rec(value.Record{"T_STRING_2_FLD": {value.Text(strings.Repeat("s", 17))}}), buffer.TagUBF, "")
	var capErr buffer.CapacityError
	if !errors.As(err, &capErr) || capErr.Field != "T_STRING_2_FLD" {
		t.Fatalf("expected CapacityError for max length, got %v", err)
	}
}

func TestNullHandling(t *testing.T) {
	testlog.Start(t)
	c := newCodec(t, Options{})
	b := mustEncode(t, c, value.Rec(value.Record{
		"T_SHORT_FLD":  {value.Null()},
		"T_LONG_FLD":   {},
		"T_STRING_FLD": {value.Text("a"), value.Null(), value.Text("c")},
	}), buffer.TagUBF, "")
	want := value.Rec(value.Record{
		"T_STRING_FLD": {value.Text("a"), value.Text(""), value.Text("c")},
	})
	if got := mustDecode(t, c, b); !value.Equal(got, want) {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestFailedEncodeReleasesPartialBuffers(t *testing.T) {
	testlog.Start(t)
	c := newCodec(t, Options{})
	in := nestedDepth3()
	rec := mustRecord(t, in)
	// T_PTR_FLD has the highest id, so the whole depth-3 chain is built
	// before the second occurrence fails.
	rec["T_PTR_FLD"] = append(rec["T_PTR_FLD"], value.Wrap("STRING", "", value.Int(1)))
	if _, err := c.Encode(in, buffer.TagUBF, ""); err == nil {
		t.Fatalf("expected encode failure")
	}
	if live := c.Resolver().Live(); live != 0 {
		t.Fatalf("failed encode left %d live buffers", live)
	}
}

func TestValueCycleRejected(t *testing.T) {
	testlog.Start(t)
	c := newCodec(t, Options{})
	rec := value.Record{}
	rec["T_UBF_FLD"] = []value.Value{value.Rec(rec)}
	_, err := c.Encode(value.Rec(rec), buffer.TagUBF, "")
	if !errors.Is(err, ErrValueCycle) {
		t.Fatalf("expected ErrValueCycle, got %v", err)
	}
	if c.Resolver().Live() != 0 {
		t.Fatalf("live buffers after cycle: %d", c.Resolver().Live())
	}
}

func TestEncodeRejectsBadTopLevelShapes(t *testing.T) {
	testlog.Start(t)
	c := newCodec(t, Options{})
	if _, err := c.Encode(value.Text("{not json"), buffer.TagJSON, ""); !errors.Is(err, ErrInvalidJSON) {
		t.Fatalf("expected ErrInvalidJSON, got %v", err)
	}
	if _, err := c.Encode(value.Int(1), buffer.TagNull, ""); err == nil {
		t.Fatalf("expected NULL buffer to reject data")
	}
	if _, err := c.Encode(value.Null(), buffer.TagUBF, "sub"); !errors.Is(err, buffer.ErrTagMismatch) {
		t.Fatalf("expected ErrTagMismatch for subtype on UBF, got %v", err)
	}
	if _, err := c.Encode(value.Text("a\x00b"), buffer.TagString, ""); !errors.Is(err, buffer.ErrEmbeddedNull) {
		t.Fatalf("expected ErrEmbeddedNull, got %v", err)
	}
	_, err := c.Encode(value.Wrap("STRING", "", value.Int(1)), buffer.TagPtr, "")
	var mm TypeMismatchError
	if !errors.As(err, &mm) {
		t.Fatalf("expected TypeMismatchError from nested data, got %v", err)
	}
	if c.Resolver().Live() != 0 {
		t.Fatalf("live buffers after failures: %d", c.Resolver().Live())
	}
}

func TestOptionsNextCapacity(t *testing.T) {
	o := Options{InitialCapacity: 16, GrowthFactor: 2, MaxBufferBytes: 100}
	cases := []struct {
		current, used, need int
		want                int
		ok                  bool
	}{
		{16, 10, 4, 16, true},
		{16, 10, 10, 32, true},
		{16, 16, 40, 64, true},
		{64, 64, 30, 100, true},
		{64, 64, 40, 0, false},
	}
	for _, tc := range cases {
		got, ok := o.NextCapacity(tc.current, tc.used, tc.need)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("NextCapacity(%d,%d,%d) = %d,%v want %d,%v", tc.current, tc.used, tc.need, got, ok, tc.want, tc.ok)
		}
	}
	if d := (Options{}).withDefaults(); d != DefaultOptions() {
		t.Fatalf("defaults = %+v", d)
	}
	unbounded := Options{MaxBufferBytes: -1}
	if got, ok := unbounded.NextCapacity(1024, 1024, DefaultMaxBufferBytes); !ok || got <= DefaultMaxBufferBytes {
		t.Fatalf("negative ceiling still bounded: %d,%v", got, ok)
	}
	if _, ok := (Options{}).NextCapacity(1024, 1024, DefaultMaxBufferBytes); ok {
		t.Fatalf("zero ceiling did not take the default")
	}
}

func TestWithMetricsTracksReleases(t *testing.T) {
	testlog.Start(t)
	res := buffer.NewResolver()
	c := New(fixture.Registry(t), res, Options{}, WithMetrics(t.Name()))
	b := mustEncode(t, c, nestedDepth3(), buffer.TagUBF, "")
	mustDecode(t, c, b)
	if _, err := c.Release(b); err != nil {
		t.Fatalf("release: %v", err)
	}
	if st := res.Stats(); st.Released != st.Allocated || st.Live != 0 {
		t.Fatalf("stats = %+v", st)
	}
}
