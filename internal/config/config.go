package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danmuck/typedbuf/internal/logging"
	"github.com/pelletier/go-toml/v2"
)

type RuntimeConfig struct {
	Name    string      `toml:"name"`
	Schemas []string    `toml:"schemas"`
	Metrics bool        `toml:"metrics"`
	Codec   CodecConfig `toml:"codec"`
	Wire    WireConfig  `toml:"wire"`
	Queue   QueueConfig `toml:"queue"`
	Log     LogConfig   `toml:"log"`
}

type CodecConfig struct {
	InitialCapacity int     `toml:"initial_capacity"`
	GrowthFactor    float64 `toml:"growth_factor"`
	// MaxBufferBytes of -1 removes the ceiling.
	MaxBufferBytes int `toml:"max_buffer_bytes"`
}

type WireConfig struct {
	MaxPayloadBytes uint64 `toml:"max_payload_bytes"`
	MaxDepth        int    `toml:"max_depth"`
}

type QueueConfig struct {
	CompressThreshold int  `toml:"compress_threshold"`
	AutoCreate        bool `toml:"auto_create"`
}

type LogConfig struct {
	Level   string `toml:"level"`
	JSON    bool   `toml:"json"`
	NoColor bool   `toml:"no_color"`
}

// Defaults returns the configuration used for keys a file leaves out.
func Defaults() RuntimeConfig {
	return RuntimeConfig{
		Name: "typedbuf",
		Codec: CodecConfig{
			InitialCapacity: 1024,
			GrowthFactor:    2.0,
			MaxBufferBytes:  64 << 20,
		},
		Wire: WireConfig{
			MaxPayloadBytes: 64 << 20,
			MaxDepth:        64,
		},
		Queue: QueueConfig{
			CompressThreshold: 4096,
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadRuntimeConfig reads path over Defaults. Schema paths are resolved
// against the directory of path.
func LoadRuntimeConfig(path string) (RuntimeConfig, error) {
	cfg := Defaults()
	if err := loadToml(path, &cfg); err != nil {
		return RuntimeConfig{}, err
	}
	dir := filepath.Dir(path)
	for i, schema := range cfg.Schemas {
		schema = strings.TrimSpace(schema)
		if schema != "" && !filepath.IsAbs(schema) {
			schema = filepath.Join(dir, schema)
		}
		cfg.Schemas[i] = schema
	}
	if err := ValidateRuntimeConfig(cfg); err != nil {
		return RuntimeConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateRuntimeConfig(cfg RuntimeConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("runtime config missing name")
	}
	if len(cfg.Schemas) == 0 {
		return fmt.Errorf("runtime config needs at least one schema file")
	}
	for i, schema := range cfg.Schemas {
		if schema == "" {
			return fmt.Errorf("schemas[%d] is empty", i)
		}
	}
	if err := ValidateCodecConfig(cfg.Codec); err != nil {
		return fmt.Errorf("codec invalid: %w", err)
	}
	if cfg.Wire.MaxDepth < 0 {
		return fmt.Errorf("wire max_depth must not be negative")
	}
	if cfg.Queue.CompressThreshold < 0 {
		return fmt.Errorf("queue compress_threshold must not be negative")
	}
	if _, ok := logging.ParseLevel(cfg.Log.Level); !ok && strings.TrimSpace(cfg.Log.Level) != "" {
		return fmt.Errorf("log level %q unknown", cfg.Log.Level)
	}
	return nil
}

func ValidateCodecConfig(cfg CodecConfig) error {
	if cfg.InitialCapacity < 0 {
		return fmt.Errorf("initial_capacity must not be negative")
	}
	if cfg.GrowthFactor != 0 && cfg.GrowthFactor <= 1.0 {
		return fmt.Errorf("growth_factor must be greater than 1")
	}
	if cfg.MaxBufferBytes < -1 {
		return fmt.Errorf("max_buffer_bytes must be -1 (unbounded) or positive")
	}
	if cfg.MaxBufferBytes > 0 && cfg.InitialCapacity > cfg.MaxBufferBytes {
		return fmt.Errorf("initial_capacity exceeds max_buffer_bytes")
	}
	return nil
}
