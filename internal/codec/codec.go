package codec

import (
	"fmt"
	"sync/atomic"

	"github.com/danmuck/typedbuf/internal/buffer"
	"github.com/danmuck/typedbuf/internal/observability"
	"github.com/danmuck/typedbuf/internal/registry"
	"github.com/danmuck/typedbuf/internal/value"
	"github.com/rs/zerolog/log"
)

// Codec binds a registry, a resolver arena and allocation options.
type Codec struct {
	reg  *registry.Registry
	res  *buffer.Resolver
	opts Options

	// name labels the live-buffer gauge.
	name    string
	metrics bool
	growths atomic.Uint64
}

// Option adjusts a Codec at construction.
type Option func(*Codec)

// WithMetrics reports codec activity to the Prometheus collectors under
// the given context label.
func WithMetrics(name string) Option {
	return func(c *Codec) {
		c.name = name
		c.metrics = true
	}
}

func New(reg *registry.Registry, res *buffer.Resolver, opts Options, extra ...Option) *Codec {
	c := &Codec{reg: reg, res: res, opts: opts.withDefaults()}
	for _, apply := range extra {
		apply(c)
	}
	if c.metrics {
		res.OnRelease(func(b buffer.Buffer) { observability.RecordRelease(b.Tag().String()) })
	}
	return c
}

func (c *Codec) Registry() *registry.Registry { return c.reg }
func (c *Codec) Resolver() *buffer.Resolver   { return c.res }
func (c *Codec) Options() Options             { return c.opts }

// Growths returns how many reallocations this codec has performed.
func (c *Codec) Growths() uint64 { return c.growths.Load() }

// Encode builds a new buffer of type tag from v. subtype names the view for
// VIEW buffers and must be empty otherwise. On error nothing allocated by
// the call stays live.
func (c *Codec) Encode(v value.Value, tag buffer.Tag, subtype string) (buffer.Buffer, error) {
	e := c.newEncoder()
	b, err := e.encode(v, tag, subtype)
	if err != nil {
		e.abort()
		b = nil
	}
	c.recordEncode(tag, b, err)
	return b, err
}

// Decode reconstructs the value held by b. Fielded and view buffers decode
// to records; every field maps to a sequence even with one occurrence.
func (c *Codec) Decode(b buffer.Buffer) (value.Value, error) {
	d := &decoder{c: c, visiting: make(map[buffer.ID]struct{})}
	v, err := d.decode(b)
	if c.metrics {
		observability.RecordDecode(b.Tag().String(), err)
	}
	if err != nil {
		log.Debug().Err(err).Str("tag", b.Tag().String()).Uint64("id", uint64(b.ID())).Msg("decode failed")
	}
	return v, err
}

// Release frees b and every buffer it transitively owns.
func (c *Codec) Release(b buffer.Buffer) (buffer.ReleaseReport, error) {
	report, err := c.res.Release(b)
	c.recordLive()
	return report, err
}

func (c *Codec) recordEncode(tag buffer.Tag, b buffer.Buffer, err error) {
	if err != nil {
		log.Debug().Err(err).Str("tag", tag.String()).Msg("encode failed")
	} else {
		log.Trace().Str("tag", tag.String()).Uint64("id", uint64(b.ID())).Int("len", b.Len()).Msg("encoded")
	}
	if !c.metrics {
		return
	}
	size := 0
	if b != nil {
		size = b.Len()
	}
	observability.RecordEncode(tag.String(), size, err)
	c.recordLive()
}

func (c *Codec) recordGrowth(tag buffer.Tag) {
	log.Trace().Str("tag", tag.String()).Msg("buffer grown")
	if c.metrics {
		observability.RecordGrowth(tag.String())
	}
}

func (c *Codec) recordLive() {
	if c.metrics {
		observability.SetLiveBuffers(c.name, c.res.Live())
	}
}

func (c *Codec) field(name string) (registry.FieldDescriptor, error) {
	return c.reg.LookupField(name)
}

// fielded resolves b to a live fielded record of this codec's resolver.
func (c *Codec) fielded(b buffer.Buffer) (*buffer.Fielded, error) {
	fb, ok := b.(*buffer.Fielded)
	if !ok {
		return nil, fmt.Errorf("%w: %s buffer is not fielded", buffer.ErrTagMismatch, b.Tag())
	}
	if _, err := c.res.Lookup(fb.ID()); err != nil {
		return nil, err
	}
	return fb, nil
}
