package atmi

import (
	"github.com/danmuck/typedbuf/internal/buffer"
	"github.com/danmuck/typedbuf/internal/codec"
	"github.com/danmuck/typedbuf/internal/registry"
	"github.com/danmuck/typedbuf/internal/value"
	"github.com/danmuck/typedbuf/internal/wire"
)

// Options configures a Context.
type Options struct {
	Codec  codec.Options
	Limits wire.Limits
	// Metrics reports codec activity under the Context id.
	Metrics bool
}

// Context is one execution context: the owner of every buffer allocated
// through it. Contexts share nothing but the registry.
type Context struct {
	id     string
	codec  *codec.Codec
	limits wire.Limits
}

func NewContext(id string, reg *registry.Registry, opts Options) *Context {
	var extra []codec.Option
	if opts.Metrics {
		extra = append(extra, codec.WithMetrics(id))
	}
	limits := opts.Limits
	if limits == (wire.Limits{}) {
		limits = wire.DefaultLimits()
	}
	return &Context{
		id:     id,
		codec:  codec.New(reg, buffer.NewResolver(), opts.Codec, extra...),
		limits: limits,
	}
}

func (c *Context) ID() string                   { return c.id }
func (c *Context) Codec() *codec.Codec          { return c.codec }
func (c *Context) Resolver() *buffer.Resolver   { return c.codec.Resolver() }
func (c *Context) Registry() *registry.Registry { return c.codec.Registry() }

// Live returns the number of buffers this context still owns.
func (c *Context) Live() int { return c.codec.Resolver().Live() }

// Encode is a shorthand for c.Codec().Encode.
func (c *Context) Encode(v value.Value, tag buffer.Tag, subtype string) (buffer.Buffer, error) {
	return c.codec.Encode(v, tag, subtype)
}

func (c *Context) Decode(b buffer.Buffer) (value.Value, error) {
	return c.codec.Decode(b)
}

func (c *Context) Release(b buffer.Buffer) error {
	if b == nil {
		return nil
	}
	_, err := c.codec.Release(b)
	return err
}

// export marshals b, which must belong to c. A nil buffer exports as nil.
func (c *Context) export(b buffer.Buffer) ([]byte, error) {
	if b == nil {
		return nil, nil
	}
	return wire.Marshal(c.Resolver(), b)
}

// adopt rebuilds a frame produced by another context in c.
func (c *Context) adopt(frame []byte) (buffer.Buffer, error) {
	if frame == nil {
		return nil, nil
	}
	return wire.Unmarshal(frame, c.Registry(), c.Resolver(), c.limits)
}

// adoptData is adopt for call data, where a missing buffer means NULL.
func (c *Context) adoptData(frame []byte) (buffer.Buffer, error) {
	if frame == nil {
		return c.Resolver().NewNull(), nil
	}
	return c.adopt(frame)
}

func (c *Context) adoptCallInfo(frame []byte) (*buffer.Fielded, error) {
	b, err := c.adopt(frame)
	if err != nil || b == nil {
		return nil, err
	}
	fb, ok := b.(*buffer.Fielded)
	if !ok {
		_ = c.Release(b)
		return nil, ErrBadCallInfo
	}
	return fb, nil
}
