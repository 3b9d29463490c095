package codec

import (
	"math"

	"github.com/danmuck/typedbuf/internal/buffer"
)

const (
	DefaultInitialCapacity = 1024
	DefaultGrowthFactor    = 2.0
	DefaultMaxBufferBytes  = 64 << 20
)

// Options tunes buffer allocation. Zero fields take the defaults; a negative
// MaxBufferBytes removes the ceiling.
type Options struct {
	InitialCapacity int
	GrowthFactor    float64
	MaxBufferBytes  int
}

func DefaultOptions() Options {
	return Options{
		InitialCapacity: DefaultInitialCapacity,
		GrowthFactor:    DefaultGrowthFactor,
		MaxBufferBytes:  DefaultMaxBufferBytes,
	}
}

func (o Options) withDefaults() Options {
	if o.InitialCapacity <= 0 {
		o.InitialCapacity = DefaultInitialCapacity
	}
	if o.GrowthFactor <= 1.0 {
		o.GrowthFactor = DefaultGrowthFactor
	}
	if o.MaxBufferBytes == 0 {
		o.MaxBufferBytes = DefaultMaxBufferBytes
	}
	return o
}

// NextCapacity returns the capacity to grow to so that need more bytes fit
// after used. Capacity multiplies by the growth factor until it fits and is
// clamped to MaxBufferBytes; ok is false when even the ceiling is too small.
func (o Options) NextCapacity(current, used, need int) (int, bool) {
	o = o.withDefaults()
	want := used + need
	next := float64(max(current, 1))
	for next < float64(want) {
		next = math.Ceil(next * o.GrowthFactor)
	}
	if o.MaxBufferBytes > 0 && next > float64(o.MaxBufferBytes) {
		next = float64(o.MaxBufferBytes)
	}
	if int(next) < want {
		return 0, false
	}
	return int(next), true
}

// grow enlarges b so that need more bytes fit, or reports a CapacityError
// naming field when the ceiling is reached.
func (c *Codec) grow(b buffer.Growable, used, need int, field string) error {
	next, ok := c.opts.NextCapacity(b.Cap(), used, need)
	if !ok {
		return buffer.CapacityError{Field: field, Declared: c.opts.MaxBufferBytes, Requested: used + need}
	}
	b.Grow(next)
	c.growths.Add(1)
	c.recordGrowth(b.Tag())
	return nil
}
