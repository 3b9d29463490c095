package codec

import (
	"github.com/danmuck/typedbuf/internal/buffer"
	"github.com/danmuck/typedbuf/internal/registry"
	"github.com/danmuck/typedbuf/internal/value"
	"github.com/danmuck/typedbuf/internal/wire/tlv"
	"github.com/rs/zerolog/log"
)

func checkOccurrence(fd registry.FieldDescriptor, occ int) error {
	if occ < 0 || (fd.MaxOccurrences > 0 && occ >= int(fd.MaxOccurrences)) {
		return buffer.OccurrenceOutOfRangeError{Field: fd.Name, Index: occ, Max: int(fd.MaxOccurrences)}
	}
	return nil
}

// Set changes occurrence occ of field in a fielded buffer. Missing
// occurrences below occ are filled with zero values. A nested buffer held
// by the replaced occurrence is released. On error b is left as it was.
func (c *Codec) Set(b buffer.Buffer, field string, occ int, v value.Value) error {
	fb, err := c.fielded(b)
	if err != nil {
		return err
	}
	fd, err := c.field(field)
	if err != nil {
		return err
	}
	if err := checkOccurrence(fd, occ); err != nil {
		return err
	}
	e := c.newEncoder()
	count := fb.Occurrences(fd.ID)
	err = e.fillGap(fb, fd, count, occ)
	if err == nil {
		var kind uint8
		var raw []byte
		var children []buffer.ID
		kind, raw, children, err = e.occurrence(fd, v)
		if err == nil {
			err = e.place(fb, fd, occ, kind, raw, children)
		}
	}
	if err != nil {
		c.truncate(fb, fd, count)
		e.abort()
		return err
	}
	log.Trace().Str("field", field).Int("occ", occ).Uint64("id", uint64(fb.ID())).Msg("occurrence set")
	c.recordLive()
	return nil
}

// Delete removes occurrence occ of field; later occurrences move down by
// one. A nested buffer held by the occurrence is released.
func (c *Codec) Delete(b buffer.Buffer, field string, occ int) error {
	fb, err := c.fielded(b)
	if err != nil {
		return err
	}
	fd, err := c.field(field)
	if err != nil {
		return err
	}
	count := fb.Occurrences(fd.ID)
	if occ < 0 || occ >= count {
		return buffer.OccurrenceOutOfRangeError{Field: fd.Name, Index: occ, Max: count}
	}
	removed, _ := fb.Remove(fd.ID, occ)
	if err := c.releaseEntry(fb.ID(), removed.Kind, removed.Value); err != nil {
		return err
	}
	c.recordLive()
	return nil
}

// EncodeInto replaces the whole contents of a fielded buffer with v. The
// buffer keeps its identity; on error it is left as it was.
func (c *Codec) EncodeInto(b buffer.Buffer, v value.Value) error {
	fb, err := c.fielded(b)
	if err != nil {
		return err
	}
	rec, err := recordOf(buffer.TagUBF, v)
	if err != nil {
		return err
	}
	e := c.newEncoder()
	tmp := c.res.NewFielded(c.opts.InitialCapacity)
	e.track(tmp)
	children, err := e.encodeRecord(&tmp.Store, tmp, rec)
	if err == nil {
		err = e.adopt(tmp.ID(), children)
	}
	if err != nil {
		e.abort()
		return err
	}
	report, err := c.res.ReplaceContents(fb, tmp)
	if err != nil {
		e.abort()
		return err
	}
	log.Trace().Uint64("id", uint64(fb.ID())).Int("released", len(report.Released)).Msg("contents replaced")
	c.recordLive()
	return nil
}

// Attach moves an unowned wrapper into occurrence occ of a record or ptr
// field. On error the wrapper stays with the caller.
func (c *Codec) Attach(b buffer.Buffer, field string, occ int, w *buffer.Wrapper) error {
	fb, err := c.fielded(b)
	if err != nil {
		return err
	}
	fd, err := c.field(field)
	if err != nil {
		return err
	}
	if fd.BaseType != registry.Ptr && fd.BaseType != registry.Record {
		return TypeMismatchError{Field: fd.Name, Expected: fd.BaseType.String(), Actual: "PTR buffer"}
	}
	if err := checkOccurrence(fd, occ); err != nil {
		return err
	}
	// Adopt first: it rejects owned wrappers and cycles before anything changes.
	if err := c.res.Adopt(fb.ID(), w.ID()); err != nil {
		return err
	}
	if err := c.res.Detach(fb.ID(), w.ID()); err != nil {
		return err
	}
	e := c.newEncoder()
	count := fb.Occurrences(fd.ID)
	err = e.fillGap(fb, fd, count, occ)
	if err == nil {
		err = e.place(fb, fd, occ, tlv.KindWrapper, tlv.Handle(uint64(w.ID())), []buffer.ID{w.ID()})
	}
	if err != nil {
		c.truncate(fb, fd, count)
		if parent, perr := c.res.Parent(w.ID()); perr == nil && parent == fb.ID() {
			_ = c.res.Detach(fb.ID(), w.ID())
		}
		e.abort()
		return err
	}
	return nil
}

// fillGap appends zero-valued occurrences from..to-1.
func (e *encoder) fillGap(fb *buffer.Fielded, fd registry.FieldDescriptor, from, to int) error {
	for i := from; i < to; i++ {
		kind, raw, children, err := e.occurrence(fd, value.Null())
		if err != nil {
			return err
		}
		if err := e.place(fb, fd, i, kind, raw, children); err != nil {
			return err
		}
	}
	return nil
}

// place writes an entry at occ, releases what the previous entry owned and
// adopts children into fb.
func (e *encoder) place(fb *buffer.Fielded, fd registry.FieldDescriptor, occ int, kind uint8, raw []byte, children []buffer.ID) error {
	var (
		oldKind uint8
		oldRaw  []byte
		replace bool
	)
	if old, ok := fb.Get(fd.ID, occ); ok {
		oldKind, oldRaw, replace = old.Kind, append([]byte(nil), old.Value...), true
	}
	if err := e.c.put(&fb.Store, fb, fd.ID, occ, kind, raw, fd.Name); err != nil {
		return err
	}
	if replace {
		if err := e.c.releaseEntry(fb.ID(), oldKind, oldRaw); err != nil {
			return err
		}
	}
	return e.adopt(fb.ID(), children)
}

// truncate drops occurrences of fd from count upwards, releasing what they
// own.
func (c *Codec) truncate(fb *buffer.Fielded, fd registry.FieldDescriptor, count int) {
	for i := fb.Occurrences(fd.ID) - 1; i >= count; i-- {
		removed, ok := fb.Remove(fd.ID, i)
		if !ok {
			continue
		}
		if err := c.releaseEntry(fb.ID(), removed.Kind, removed.Value); err != nil {
			c.logLeak(fb.ID(), err)
		}
	}
}

// releaseEntry releases the nested buffers a stored entry refers to,
// including those inside inline nested records. Handles not owned by owner
// are skipped.
func (c *Codec) releaseEntry(owner buffer.ID, kind uint8, raw []byte) error {
	switch kind {
	case tlv.KindWrapper:
		h, ok := tlv.HandleFromBytes(raw)
		if !ok {
			return nil
		}
		if parent, err := c.res.Parent(buffer.ID(h)); err != nil || parent != owner {
			return nil
		}
		_, err := c.res.ReleaseChild(owner, buffer.ID(h))
		return err
	case tlv.KindRecord:
		return tlv.Walk(raw, func(e tlv.Entry) error {
			return c.releaseEntry(owner, e.Kind, e.Value)
		})
	}
	return nil
}

func (c *Codec) logLeak(id buffer.ID, err error) {
	log.Warn().Err(err).Uint64("id", uint64(id)).Msg("nested buffer cleanup failed")
}
