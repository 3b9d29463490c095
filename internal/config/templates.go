package config

import (
	"fmt"
	"os"
	"strings"
)

// Kinds lists the template kinds Template accepts.
func Kinds() []string {
	return []string{"runtime", "schema", "schema-yaml"}
}

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "runtime":
		return runtimeTemplate, nil
	case "schema":
		return schemaTemplate, nil
	case "schema-yaml":
		return schemaYAMLTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const runtimeTemplate = `name = "typedbuf"
schemas = ["schema.toml"]
metrics = false

[codec]
initial_capacity = 1024
growth_factor = 2.0
max_buffer_bytes = 67108864

[wire]
max_payload_bytes = 67108864
max_depth = 64

[queue]
compress_threshold = 4096
auto_create = false

[log]
level = "info"
json = false
no_color = false
`

const schemaTemplate = `base = 0

[[field]]
name = "T_SHORT_FLD"
number = 1
type = "short"

[[field]]
name = "T_LONG_FLD"
number = 2
type = "long"

[[field]]
name = "T_STRING_FLD"
number = 6
type = "string"
max_length = 256

[[field]]
name = "T_CARRAY_FLD"
number = 7
type = "carray"

[[field]]
name = "T_UBF_FLD"
number = 8
type = "ubf"

[[field]]
name = "T_VIEW_FLD"
number = 9
type = "view"

[[field]]
name = "T_PTR_FLD"
number = 10
type = "ptr"

[[view]]
name = "ACCOUNT"

  [[view.field]]
  name = "id"
  type = "long"
  null = "-1"

  [[view.field]]
  name = "owner"
  type = "string"
  size = 32

  [[view.field]]
  name = "tags"
  type = "string"
  count = 4
  size = 16
  count_companion = true
`

const schemaYAMLTemplate = `base: 1000
field:
  - name: T_ORDER_ID
    number: 1
    type: long
  - name: T_ORDER_LINE
    number: 2
    type: ubf
    max_occurrences: 100
view:
  - name: ORDER_HDR
    field:
      - name: id
        type: long
      - name: status
        type: char
      - name: note
        type: carray
        size: 64
`
