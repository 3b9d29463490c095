package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/danmuck/typedbuf/internal/value"
	"github.com/fxamacker/cbor/v2"
	"github.com/tidwall/jsonc"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

// Document formats bufctl reads and writes.
const (
	FormatJSON    = "json"
	FormatYAML    = "yaml"
	FormatCBOR    = "cbor"
	FormatMsgpack = "msgpack"
)

// cborEnc uses Core Deterministic Encoding so equal values give equal bytes.
var cborEnc cbor.EncMode

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("bufctl: CBOR encoder initialization failed: " + err.Error())
	}
}

// formatFor picks a format from an explicit name or the file extension.
func formatFor(explicit, path string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(explicit))
	if name == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			name = FormatYAML
		case ".cbor":
			name = FormatCBOR
		case ".msgpack", ".mpk":
			name = FormatMsgpack
		default:
			name = FormatJSON
		}
	}
	switch name {
	case FormatJSON, "jsonc", FormatYAML, "yml", FormatCBOR, FormatMsgpack:
		if name == "jsonc" {
			name = FormatJSON
		}
		if name == "yml" {
			name = FormatYAML
		}
		return name, nil
	default:
		return "", fmt.Errorf("unknown format %q", explicit)
	}
}

// parseDocument decodes data into a Value. JSON input may carry comments
// and trailing commas.
func parseDocument(format string, data []byte) (value.Value, error) {
	var doc any
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return value.Value{}, fmt.Errorf("parse json: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return value.Value{}, fmt.Errorf("parse yaml: %w", err)
		}
	case FormatCBOR:
		if err := cbor.Unmarshal(data, &doc); err != nil {
			return value.Value{}, fmt.Errorf("parse cbor: %w", err)
		}
	case FormatMsgpack:
		if err := msgpack.Unmarshal(data, &doc); err != nil {
			return value.Value{}, fmt.Errorf("parse msgpack: %w", err)
		}
	default:
		return value.Value{}, fmt.Errorf("unknown format %q", format)
	}
	return value.FromNative(doc)
}

// renderDocument encodes v in format.
func renderDocument(format string, v value.Value) ([]byte, error) {
	doc := v.ToNative()
	switch format {
	case FormatJSON:
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(out, '\n'), nil
	case FormatYAML:
		return yaml.Marshal(doc)
	case FormatCBOR:
		return cborEnc.Marshal(doc)
	case FormatMsgpack:
		return msgpack.Marshal(doc)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}
