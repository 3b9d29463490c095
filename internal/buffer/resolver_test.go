package buffer

import (
	"errors"
	"testing"
)

func TestResolverNewWrapperChecksTag(t *testing.T) {
	r := NewResolver()
	inner := r.NewByteArray(8)
	if _, err := r.NewWrapper(TagString, "", inner); !errors.Is(err, ErrTagMismatch) {
		t.Fatalf("expected ErrTagMismatch, got %v", err)
	}
	w, err := r.NewWrapper(TagCarray, "", inner)
	if err != nil {
		t.Fatalf("new wrapper: %v", err)
	}
	if tag, sub := w.Wrapped(); tag != TagCarray || sub != "" {
		t.Fatalf("wrapped = %s/%q", tag, sub)
	}
	if parent, _ := r.Parent(inner.ID()); parent != w.ID() {
		t.Fatalf("inner owner = %d want %d", parent, w.ID())
	}
	if _, err := r.NewWrapper(TagCarray, "", inner); err == nil {
		t.Fatalf("expected error wrapping an owned buffer")
	}
}

func TestResolverReleaseIsRecursiveAndSingle(t *testing.T) {
	r := NewResolver()
	var freed []ID
	r.OnRelease(func(b Buffer) { freed = append(freed, b.ID()) })

	outer := r.NewFielded(64)
	var wrappers []*Wrapper
	for i := 0; i < 3; i++ {
		w, err := r.NewWrapper(TagNull, "", r.NewNull())
		if err != nil {
			t.Fatalf("new wrapper: %v", err)
		}
		if err := r.Adopt(outer.ID(), w.ID()); err != nil {
			t.Fatalf("adopt: %v", err)
		}
		wrappers = append(wrappers, w)
	}

	if _, err := r.Release(wrappers[0]); err == nil {
		t.Fatalf("expected release by non-owner to fail")
	}
	report, err := r.Release(outer)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if report.Wrappers != 3 || len(report.Released) != 7 {
		t.Fatalf("report = %+v", report)
	}
	seen := map[ID]int{}
	for _, id := range freed {
		seen[id]++
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("buffer %d released %d times", id, n)
		}
	}
	if report.Released[len(report.Released)-1] != outer.ID() {
		t.Fatalf("root must be released last: %v", report.Released)
	}
	if r.Live() != 0 {
		t.Fatalf("live = %d", r.Live())
	}

	_, err = r.Release(outer)
	var leak NestedBufferLeakError
	if !errors.As(err, &leak) || leak.ID != outer.ID() {
		t.Fatalf("expected double release rejection, got %v", err)
	}
}

func TestResolverAdoptRejectsCycle(t *testing.T) {
	r := NewResolver()
	a := r.NewFielded(64)
	w, err := r.NewWrapper(TagUBF, "", a)
	if err != nil {
		t.Fatalf("new wrapper: %v", err)
	}
	err = r.Adopt(a.ID(), w.ID())
	var leak NestedBufferLeakError
	if !errors.As(err, &leak) {
		t.Fatalf("expected NestedBufferLeakError, got %v", err)
	}
	if children := r.Children(a.ID()); len(children) != 0 {
		t.Fatalf("failed adopt left edges: %v", children)
	}
}

func TestResolverLookupDistinguishesReleasedAndUnknown(t *testing.T) {
	r := NewResolver()
	b := r.NewNull()
	if got, err := r.Lookup(b.ID()); err != nil || got != Buffer(b) {
		t.Fatalf("lookup live: %v", err)
	}
	if _, err := r.Release(b); err != nil {
		t.Fatalf("release: %v", err)
	}
	var leak NestedBufferLeakError
	if _, err := r.Lookup(b.ID()); !errors.As(err, &leak) || leak.Reason != "already released" {
		t.Fatalf("lookup released: %v", err)
	}
	if _, err := r.Lookup(99); !errors.As(err, &leak) || leak.Reason != "unknown buffer" {
		t.Fatalf("lookup unknown: %v", err)
	}
}

func TestResolverReplaceContentsReleasesOldChildren(t *testing.T) {
	r := NewResolver()
	dst := r.NewFielded(64)
	old, _ := r.NewWrapper(TagNull, "", r.NewNull())
	if err := r.Adopt(dst.ID(), old.ID()); err != nil {
		t.Fatalf("adopt: %v", err)
	}

	src := r.NewFielded(64)
	fresh, _ := r.NewWrapper(TagNull, "", r.NewNull())
	if err := r.Adopt(src.ID(), fresh.ID()); err != nil {
		t.Fatalf("adopt: %v", err)
	}
	mustPut(t, &src.Store, 1, 0, "x")

	report, err := r.ReplaceContents(dst, src)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if report.Wrappers != 1 {
		t.Fatalf("released wrappers = %d", report.Wrappers)
	}
	if children := r.Children(dst.ID()); len(children) != 1 || children[0] != fresh.ID() {
		t.Fatalf("children = %v", children)
	}
	if dst.Occurrences(1) != 1 {
		t.Fatalf("contents not moved")
	}
	if _, err := r.Lookup(src.ID()); err == nil {
		t.Fatalf("src node still live")
	}
	st := r.Stats()
	if st.Live != r.Live() || st.Allocated != 6 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestTextRejectsEmbeddedNullAndOverflow(t *testing.T) {
	r := NewResolver()
	b, err := r.NewText(TagString, 4)
	if err != nil {
		t.Fatalf("new text: %v", err)
	}
	if err := b.Set("a\x00b"); !errors.Is(err, ErrEmbeddedNull) {
		t.Fatalf("expected ErrEmbeddedNull, got %v", err)
	}
	if err := b.Set("abcd"); !errors.Is(err, ErrNoSpace) {
		t.Fatalf("expected ErrNoSpace, got %v", err)
	}
	b.Grow(8)
	if err := b.Set("abcd"); err != nil {
		t.Fatalf("set after grow: %v", err)
	}
	if b.String() != "abcd" || b.Len() != 5 {
		t.Fatalf("text = %q len %d", b.String(), b.Len())
	}
	if _, err := r.NewText(TagUBF, 4); !errors.Is(err, ErrUnknownTag) {
		t.Fatalf("expected ErrUnknownTag, got %v", err)
	}
}

func TestParseTagAcceptsAliases(t *testing.T) {
	for _, tag := range Tags() {
		got, err := ParseTag(tag.String())
		if err != nil || got != tag {
			t.Fatalf("ParseTag(%s) = %v, %v", tag, got, err)
		}
	}
	if got, err := ParseTag("x_octet"); err != nil || got != TagCarray {
		t.Fatalf("X_OCTET = %v, %v", got, err)
	}
	if _, err := ParseTag("FML32"); !errors.Is(err, ErrUnknownTag) {
		t.Fatalf("expected ErrUnknownTag, got %v", err)
	}
}
