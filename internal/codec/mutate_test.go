package codec

import (
	"errors"
	"testing"

	"github.com/danmuck/typedbuf/internal/buffer"
	"github.com/danmuck/typedbuf/internal/testutil/testlog"
	"github.com/danmuck/typedbuf/internal/value"
)

func TestSetFillsGapsAndReplaces(t *testing.T) {
	testlog.Start(t)
	c := newCodec(t, Options{InitialCapacity: 16})
	b := mustEncode(t, c, value.Rec(value.Record{"T_LONG_FLD": {value.Int(1)}}), buffer.TagUBF, "")

	if err := c.Set(b, "T_LONG_FLD", 3, value.Int(4)); err != nil {
		t.Fatalf("set with gap: %v", err)
	}
	if err := c.Set(b, "T_LONG_FLD", 0, value.Int(10)); err != nil {
		t.Fatalf("replace: %v", err)
	}
	want := value.Rec(value.Record{"T_LONG_FLD": {value.Int(10), value.Int(0), value.Int(0), value.Int(4)}})
	if got := mustDecode(t, c, b); !value.Equal(got, want) {
		t.Fatalf("got %s want %s", got, want)
	}

	err := c.Set(b, "T_LONG_2_FLD", 3, value.Int(1))
	var rangeErr buffer.OccurrenceOutOfRangeError
	if !errors.As(err, &rangeErr) || rangeErr.Index != 3 || rangeErr.Max != 3 {
		t.Fatalf("expected OccurrenceOutOfRangeError, got %v", err)
	}
}

func TestSetReleasesReplacedWrapper(t *testing.T) {
	testlog.Start(t)
	c := newCodec(t, Options{})
	b := mustEncode(t, c, value.Rec(value.Record{
		"T_PTR_FLD": {value.Wrap("STRING", "", value.Text("old"))},
	}), buffer.TagUBF, "")
	before := c.Resolver().Children(b.ID())
	if len(before) != 1 {
		t.Fatalf("children = %v", before)
	}

	if err := c.Set(b, "T_PTR_FLD", 0, value.Wrap("CARRAY", "", value.Bytes([]byte{1}))); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := c.Resolver().Lookup(before[0]); err == nil {
		t.Fatalf("replaced wrapper %d still live", before[0])
	}
	after := c.Resolver().Children(b.ID())
	if len(after) != 1 || after[0] == before[0] {
		t.Fatalf("children after set = %v", after)
	}
	if c.Resolver().Live() != 3 {
		t.Fatalf("live = %d, want record + wrapper + carray", c.Resolver().Live())
	}
}

func TestSetFailureLeavesBufferUnchanged(t *testing.T) {
	testlog.Start(t)
	c := newCodec(t, Options{})
	in := value.Rec(value.Record{"T_SHORT_FLD": {value.Int(1)}})
	b := mustEncode(t, c, in, buffer.TagUBF, "")

	if err := c.Set(b, "T_SHORT_FLD", 2, value.Text("nope")); err == nil {
		t.Fatalf("expected set failure")
	}
	if err := c.Set(b, "T_PTR_FLD", 1, value.Int(3)); err == nil {
		t.Fatalf("expected set failure on ptr")
	}
	if got := mustDecode(t, c, b); !value.Equal(got, in) {
		t.Fatalf("buffer changed: %s", got)
	}
	if c.Resolver().Live() != 1 {
		t.Fatalf("gap wrappers leaked: live = %d", c.Resolver().Live())
	}
}

func TestDeleteReleasesNestedWrappers(t *testing.T) {
	testlog.Start(t)
	c := newCodec(t, Options{})
	b := mustEncode(t, c, value.Rec(value.Record{
		"T_UBF_FLD": {
			value.Rec(value.Record{"T_PTR_FLD": {value.Wrap("NULL", "", value.Null())}}),
			value.Rec(value.Record{"T_SHORT_FLD": {value.Int(2)}}),
		},
	}), buffer.TagUBF, "")
	if c.Resolver().Live() != 3 {
		t.Fatalf("live = %d", c.Resolver().Live())
	}
	if err := c.Delete(b, "T_UBF_FLD", 0); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if c.Resolver().Live() != 1 {
		t.Fatalf("nested wrapper not released: live = %d", c.Resolver().Live())
	}
	want := value.Rec(value.Record{"T_UBF_FLD": {value.Rec(value.Record{"T_SHORT_FLD": {value.Int(2)}})}})
	if got := mustDecode(t, c, b); !value.Equal(got, want) {
		t.Fatalf("got %s want %s", got, want)
	}
	var rangeErr buffer.OccurrenceOutOfRangeError
	if err := c.Delete(b, "T_UBF_FLD", 1); !errors.As(err, &rangeErr) {
		t.Fatalf("expected OccurrenceOutOfRangeError, got %v", err)
	}
}

func TestEncodeIntoReplacesContentsAtomically(t *testing.T) {
	testlog.Start(t)
	c := newCodec(t, Options{})
	b := mustEncode(t, c, nestedDepth3(), buffer.TagUBF, "")
	id := b.ID()

	bad := value.Rec(value.Record{"T_SHORT_FLD": {value.Text("x")}})
	if err := c.EncodeInto(b, bad); err == nil {
		t.Fatalf("expected failure")
	}
	if got := mustDecode(t, c, b); !value.Equal(got, nestedDepth3()) {
		t.Fatalf("failed EncodeInto changed the buffer: %s", got)
	}

	next := value.Rec(value.Record{"T_STRING_FLD": {value.Text("fresh")}})
	if err := c.EncodeInto(b, next); err != nil {
		t.Fatalf("encode into: %v", err)
	}
	if b.ID() != id {
		t.Fatalf("identity changed")
	}
	if got := mustDecode(t, c, b); !value.Equal(got, next) {
		t.Fatalf("got %s want %s", got, next)
	}
	if c.Resolver().Live() != 1 {
		t.Fatalf("old nested buffers leaked: live = %d", c.Resolver().Live())
	}
}

func TestAttachMovesOwnershipAndRejectsCycles(t *testing.T) {
	testlog.Start(t)
	c := newCodec(t, Options{})
	outer := mustEncode(t, c, value.Null(), buffer.TagUBF, "")
	wb := mustEncode(t, c, value.Wrap("STRING", "", value.Text("attached")), buffer.TagPtr, "")
	w := wb.(*buffer.Wrapper)

	if err := c.Attach(outer, "T_PTR_FLD", 1, w); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if parent, _ := c.Resolver().Parent(w.ID()); parent != outer.ID() {
		t.Fatalf("owner = %d", parent)
	}
	if _, err := c.Release(w); err == nil {
		t.Fatalf("attached wrapper released by non-owner")
	}
	got := mustRecord(t, mustDecode(t, c, outer))["T_PTR_FLD"]
	if len(got) != 2 || !value.Equal(got[1], value.Wrap("STRING", "", value.Text("attached"))) {
		t.Fatalf("T_PTR_FLD = %v", got)
	}
	if !value.Equal(got[0], value.Wrap("NULL", "", value.Null())) {
		t.Fatalf("gap occurrence = %s", got[0])
	}

	if err := c.Attach(outer, "T_PTR_FLD", 2, w); err == nil {
		t.Fatalf("expected owned wrapper to be rejected")
	}

	// w2 owns inner; attaching w2 into inner would close a loop.
	inner := mustEncode(t, c, value.Null(), buffer.TagUBF, "")
	w2, err := c.Resolver().NewWrapper(buffer.TagUBF, "", inner)
	if err != nil {
		t.Fatalf("new wrapper: %v", err)
	}
	err = c.Attach(inner, "T_PTR_FLD", 0, w2)
	var leak buffer.NestedBufferLeakError
	if !errors.As(err, &leak) {
		t.Fatalf("expected NestedBufferLeakError, got %v", err)
	}
	if n := inner.(*buffer.Fielded).Occurrences(fixturePtrID(t, c)); n != 0 {
		t.Fatalf("failed attach left %d occurrences", n)
	}

	if err := c.Attach(outer, "T_LONG_FLD", 0, w2); err == nil {
		t.Fatalf("expected long field to reject a wrapper")
	}
}

func fixturePtrID(t *testing.T, c *Codec) uint32 {
	t.Helper()
	fd, err := c.Registry().LookupField("T_PTR_FLD")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	return fd.ID
}
