package config

import (
	"github.com/danmuck/typedbuf/internal/atmi"
	"github.com/danmuck/typedbuf/internal/codec"
	"github.com/danmuck/typedbuf/internal/logging"
	"github.com/danmuck/typedbuf/internal/registry"
	"github.com/danmuck/typedbuf/internal/wire"
)

func (c RuntimeConfig) CodecOptions() codec.Options {
	return codec.Options{
		InitialCapacity: c.Codec.InitialCapacity,
		GrowthFactor:    c.Codec.GrowthFactor,
		MaxBufferBytes:  c.Codec.MaxBufferBytes,
	}
}

func (c RuntimeConfig) Limits() wire.Limits {
	return wire.Limits{
		MaxPayloadBytes: c.Wire.MaxPayloadBytes,
		MaxDepth:        c.Wire.MaxDepth,
	}
}

func (c RuntimeConfig) ContextOptions() atmi.Options {
	return atmi.Options{
		Codec:   c.CodecOptions(),
		Limits:  c.Limits(),
		Metrics: c.Metrics,
	}
}

func (c RuntimeConfig) QueueOptions() atmi.QueueOptions {
	return atmi.QueueOptions{
		CompressThreshold: c.Queue.CompressThreshold,
		AutoCreate:        c.Queue.AutoCreate,
	}
}

// LoadRegistry builds the registry from every configured schema file.
func (c RuntimeConfig) LoadRegistry() (*registry.Registry, error) {
	return registry.LoadFiles(c.Schemas...)
}

// Logging overlays the file's log section on the profile defaults.
func (c RuntimeConfig) Logging(profile logging.Profile) logging.Config {
	out := logging.DefaultConfig(profile)
	if lvl, ok := logging.ParseLevel(c.Log.Level); ok {
		out.Level = lvl
	}
	out.JSON = out.JSON || c.Log.JSON
	out.NoColor = out.NoColor || c.Log.NoColor
	return out
}
