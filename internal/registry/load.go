package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// schemaFile is the on-disk shape of a field/view table.
type schemaFile struct {
	Base   uint32      `toml:"base" yaml:"base" validate:"max=33554431"`
	Fields []fieldFile `toml:"field" yaml:"field" validate:"dive"`
	Views  []viewFile  `toml:"view" yaml:"view" validate:"dive"`
}

type fieldFile struct {
	Name           string `toml:"name" yaml:"name" validate:"required,printascii"`
	Number         uint32 `toml:"number" yaml:"number" validate:"required,max=33554431"`
	Type           string `toml:"type" yaml:"type" validate:"required,oneof=short long char float double string carray bytes ubf record view ptr"`
	MaxOccurrences uint32 `toml:"max_occurrences" yaml:"max_occurrences"`
	MaxLength      uint32 `toml:"max_length" yaml:"max_length"`
}

type viewFile struct {
	Name   string          `toml:"name" yaml:"name" validate:"required"`
	Fields []viewFieldFile `toml:"field" yaml:"field" validate:"required,min=1,dive"`
}

type viewFieldFile struct {
	Name           string `toml:"name" yaml:"name" validate:"required"`
	Type           string `toml:"type" yaml:"type" validate:"required,oneof=short long char float double string carray bytes"`
	Count          int    `toml:"count" yaml:"count" validate:"gte=0,lte=65535"`
	Size           int    `toml:"size" yaml:"size" validate:"gte=0,lte=65535"`
	CountCompanion bool   `toml:"count_companion" yaml:"count_companion"`
	Null           string `toml:"null" yaml:"null"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadFiles reads every schema file and builds one registry from their union.
// Files ending in .yaml or .yml are YAML; everything else is TOML.
func LoadFiles(paths ...string) (*Registry, error) {
	var (
		fields []FieldDescriptor
		views  []ViewDescriptor
	)
	for _, path := range paths {
		raw, err := readSchemaFile(path)
		if err != nil {
			return nil, err
		}
		if err := validate.Struct(raw); err != nil {
			return nil, fmt.Errorf("registry: validate %s: %w", path, err)
		}
		f, v, err := raw.descriptors()
		if err != nil {
			return nil, fmt.Errorf("registry: %s: %w", path, err)
		}
		fields = append(fields, f...)
		views = append(views, v...)
		log.Debug().Str("path", path).Int("fields", len(f)).Int("views", len(v)).Msg("schema file loaded")
	}
	return New(fields, views)
}

func readSchemaFile(path string) (schemaFile, error) {
	var raw schemaFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return schemaFile{}, fmt.Errorf("registry: load %s: %w", path, err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil {
			return schemaFile{}, fmt.Errorf("registry: parse %s: %w", path, err)
		}
	default:
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return schemaFile{}, fmt.Errorf("registry: parse %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return schemaFile{}, fmt.Errorf("registry: parse %s: unknown key %q", path, undecoded[0].String())
		}
	}
	return raw, nil
}

func (s schemaFile) descriptors() ([]FieldDescriptor, []ViewDescriptor, error) {
	fields := make([]FieldDescriptor, 0, len(s.Fields))
	for _, f := range s.Fields {
		t, err := ParseBaseType(f.Type)
		if err != nil {
			return nil, nil, err
		}
		number := uint64(s.Base) + uint64(f.Number)
		if number > MaxNumber {
			return nil, nil, SchemaError{Kind: Invalid, Object: "field", Name: f.Name, Reason: "number out of range after base"}
		}
		fields = append(fields, FieldDescriptor{
			ID:             ComposeID(t, uint32(number)),
			Name:           f.Name,
			BaseType:       t,
			MaxOccurrences: f.MaxOccurrences,
			MaxLength:      f.MaxLength,
		})
	}
	views := make([]ViewDescriptor, 0, len(s.Views))
	for _, v := range s.Views {
		vd := ViewDescriptor{Name: v.Name, Fields: make([]ViewField, 0, len(v.Fields))}
		for _, f := range v.Fields {
			t, err := ParseBaseType(f.Type)
			if err != nil {
				return nil, nil, err
			}
			vd.Fields = append(vd.Fields, ViewField{
				Name:              f.Name,
				ElementType:       t,
				FixedCount:        f.Count,
				ElementSize:       f.Size,
				HasCountCompanion: f.CountCompanion,
				NullValue:         f.Null,
			})
		}
		views = append(views, vd)
	}
	return fields, views, nil
}
