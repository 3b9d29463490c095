package wire

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/danmuck/typedbuf/internal/buffer"
	"github.com/danmuck/typedbuf/internal/registry"
	"github.com/danmuck/typedbuf/internal/wire/tlv"
	"github.com/rs/zerolog/log"
	"github.com/zeebo/blake3"
)

// Marshal encodes b and everything it owns as one frame. Wrapper handles in
// fielded records are replaced by the wrapped buffer's own frame.
func Marshal(res *buffer.Resolver, b buffer.Buffer) ([]byte, error) {
	m := &marshaler{res: res, visiting: make(map[buffer.ID]struct{})}
	return m.frame(b)
}

// Digest returns the hex BLAKE3-256 of b's frame. Equal contents give equal
// digests whatever order the value was built in.
func Digest(res *buffer.Resolver, b buffer.Buffer) (string, error) {
	data, err := Marshal(res, b)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

type marshaler struct {
	res      *buffer.Resolver
	visiting map[buffer.ID]struct{}
}

func (m *marshaler) frame(b buffer.Buffer) ([]byte, error) {
	if _, ok := m.visiting[b.ID()]; ok {
		return nil, buffer.NestedBufferLeakError{ID: b.ID(), Reason: "reached twice while marshaling"}
	}
	m.visiting[b.ID()] = struct{}{}
	defer delete(m.visiting, b.ID())

	p := &payloadVisitor{m: m}
	if err := b.Accept(p); err != nil {
		return nil, err
	}
	subtype := b.Subtype()
	if len(subtype) > math.MaxUint16 {
		return nil, fmt.Errorf("wire: subtype of %d bytes", len(subtype))
	}
	h := Header{
		Magic:       Magic,
		Version:     Version,
		Tag:         b.Tag(),
		SubtypeLen:  uint16(len(subtype)),
		InlineCount: p.inline,
		PayloadLen:  uint64(len(p.out)),
	}
	if p.inline > 0 {
		h.Flags |= FlagHasInline
	}
	out := make([]byte, 0, h.Size())
	out = append(out, EncodeHeader(h)...)
	out = append(out, subtype...)
	return append(out, p.out...), nil
}

// payloadVisitor renders the payload of one buffer.
type payloadVisitor struct {
	m      *marshaler
	out    []byte
	inline uint32
}

func (p *payloadVisitor) VisitNull(*buffer.Null) error { return nil }

func (p *payloadVisitor) VisitText(b *buffer.Text) error {
	p.out = []byte(b.String())
	return nil
}

func (p *payloadVisitor) VisitByteArray(b *buffer.ByteArray) error {
	p.out = b.Bytes()
	return nil
}

func (p *payloadVisitor) VisitFielded(b *buffer.Fielded) error {
	out, err := p.inlineEntries(b.Payload())
	p.out = out
	return err
}

func (p *payloadVisitor) VisitView(b *buffer.ViewRecord) error {
	p.out = append([]byte(nil), b.Raw()...)
	return nil
}

func (p *payloadVisitor) VisitWrapper(b *buffer.Wrapper) error {
	inner, err := p.m.frame(b.Inner())
	p.out = inner
	return err
}

func (p *payloadVisitor) inlineEntries(payload []byte) ([]byte, error) {
	out := make([]byte, 0, len(payload))
	err := tlv.Walk(payload, func(e tlv.Entry) error {
		switch e.Kind {
		case tlv.KindWrapper:
			h, ok := tlv.HandleFromBytes(e.Value)
			if !ok {
				return buffer.DecodeTruncatedError{What: "wrapper handle", Need: 8, Have: len(e.Value)}
			}
			nested, err := p.m.res.Lookup(buffer.ID(h))
			if err != nil {
				return err
			}
			frame, err := p.m.frame(nested)
			if err != nil {
				return err
			}
			p.inline++
			out = tlv.AppendEntry(out, e.ID, tlv.KindInline, frame)
		case tlv.KindRecord:
			nested, err := p.inlineEntries(e.Value)
			if err != nil {
				return err
			}
			out = tlv.AppendEntry(out, e.ID, tlv.KindRecord, nested)
		default:
			out = tlv.AppendEntry(out, e.ID, e.Kind, e.Value)
		}
		return nil
	})
	return out, err
}

// Unmarshal rebuilds a frame in res. Inline wrappers become arena nodes
// owned by the rebuilt buffer. On error nothing stays allocated.
func Unmarshal(data []byte, reg *registry.Registry, res *buffer.Resolver, limits Limits) (buffer.Buffer, error) {
	u := &unmarshaler{reg: reg, res: res, limits: limits}
	b, n, err := u.frame(data, 0)
	if err == nil && n != len(data) {
		err = fmt.Errorf("%w: %d", ErrTrailingBytes, len(data)-n)
	}
	if err != nil {
		u.abort()
		log.Debug().Err(err).Int("bytes", len(data)).Msg("unmarshal failed")
		return nil, err
	}
	return b, nil
}

type unmarshaler struct {
	reg    *registry.Registry
	res    *buffer.Resolver
	limits Limits
	allocs []buffer.Buffer
}

func (u *unmarshaler) track(b buffer.Buffer) {
	u.allocs = append(u.allocs, b)
}

func (u *unmarshaler) abort() {
	for i := len(u.allocs) - 1; i >= 0; i-- {
		b := u.allocs[i]
		if parent, err := u.res.Parent(b.ID()); err != nil || parent != 0 {
			continue
		}
		if _, err := u.res.Release(b); err != nil {
			log.Warn().Err(err).Uint64("id", uint64(b.ID())).Msg("unmarshal cleanup failed")
		}
	}
	u.allocs = nil
}

func (u *unmarshaler) frame(data []byte, depth int) (buffer.Buffer, int, error) {
	if u.limits.MaxDepth > 0 && depth > u.limits.MaxDepth {
		return nil, 0, ErrTooDeep
	}
	h, err := DecodeHeader(data, u.limits)
	if err != nil {
		return nil, 0, err
	}
	if uint64(len(data)) < h.Size() {
		return nil, 0, buffer.DecodeTruncatedError{What: "frame", Need: int(h.Size()), Have: len(data)}
	}
	subEnd := HeaderLen + int(h.SubtypeLen)
	subtype := string(data[HeaderLen:subEnd])
	payload := data[subEnd:int(h.Size())]

	var b buffer.Buffer
	switch h.Tag {
	case buffer.TagNull:
		b = u.res.NewNull()
	case buffer.TagString, buffer.TagJSON:
		t, err := u.res.NewText(h.Tag, len(payload)+1)
		if err != nil {
			return nil, 0, err
		}
		u.track(t)
		if err := t.Set(string(payload)); err != nil {
			return nil, 0, err
		}
		return t, int(h.Size()), nil
	case buffer.TagCarray:
		ba := u.res.NewByteArray(len(payload))
		u.track(ba)
		if err := ba.Set(payload); err != nil {
			return nil, 0, err
		}
		return ba, int(h.Size()), nil
	case buffer.TagUBF:
		entries, children, err := u.entries(payload, depth)
		if err != nil {
			return nil, 0, err
		}
		fb, err := u.res.NewFieldedFrom(entries)
		if err != nil {
			return nil, 0, err
		}
		u.track(fb)
		for _, child := range children {
			if err := u.res.Adopt(fb.ID(), child); err != nil {
				return nil, 0, err
			}
		}
		b = fb
	case buffer.TagView:
		desc, err := u.reg.LookupView(subtype)
		if err != nil {
			return nil, 0, err
		}
		if b, err = u.res.NewViewFrom(desc, payload); err != nil {
			return nil, 0, err
		}
	case buffer.TagPtr:
		inner, n, err := u.frame(payload, depth+1)
		if err != nil {
			return nil, 0, err
		}
		if n != len(payload) {
			return nil, 0, fmt.Errorf("%w: %d after nested frame", ErrTrailingBytes, len(payload)-n)
		}
		w, err := u.res.NewWrapper(inner.Tag(), inner.Subtype(), inner)
		if err != nil {
			return nil, 0, err
		}
		b = w
	}
	u.track(b)
	return b, int(h.Size()), nil
}

// entries turns inline frames back into handles and returns the wrappers
// created for them.
func (u *unmarshaler) entries(payload []byte, depth int) ([]byte, []buffer.ID, error) {
	var children []buffer.ID
	out := make([]byte, 0, len(payload))
	err := tlv.Walk(payload, func(e tlv.Entry) error {
		switch e.Kind {
		case tlv.KindInline:
			nested, n, err := u.frame(e.Value, depth+1)
			if err != nil {
				return err
			}
			if n != len(e.Value) {
				return fmt.Errorf("%w: %d after inline frame", ErrTrailingBytes, len(e.Value)-n)
			}
			w, ok := nested.(*buffer.Wrapper)
			if !ok {
				return fmt.Errorf("%w: inline frame is %s, not PTR", buffer.ErrTagMismatch, nested.Tag())
			}
			children = append(children, w.ID())
			out = tlv.AppendEntry(out, e.ID, tlv.KindWrapper, tlv.Handle(uint64(w.ID())))
		case tlv.KindWrapper:
			return ErrHandleInFrame
		case tlv.KindRecord:
			nested, kids, err := u.entries(e.Value, depth+1)
			if err != nil {
				return err
			}
			children = append(children, kids...)
			out = tlv.AppendEntry(out, e.ID, tlv.KindRecord, nested)
		default:
			out = tlv.AppendEntry(out, e.ID, e.Kind, e.Value)
		}
		return nil
	})
	if err != nil {
		var trunc buffer.DecodeTruncatedError
		if !errors.As(err, &trunc) && (errors.Is(err, tlv.ErrShortEntryHeader) || errors.Is(err, tlv.ErrShortEntryValue)) {
			err = buffer.DecodeTruncatedError{What: "record", Err: err}
		}
		return nil, nil, err
	}
	return out, children, nil
}
