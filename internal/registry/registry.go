package registry

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

var ErrNotFound = errors.New("registry: not found")

// SchemaErrorKind classifies a SchemaError.
type SchemaErrorKind uint8

const (
	NotFound SchemaErrorKind = iota
	Invalid
	Duplicate
)

func (k SchemaErrorKind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case Invalid:
		return "invalid"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// SchemaError reports an unknown or malformed field or view.
type SchemaError struct {
	Kind SchemaErrorKind
	// Object is "field" or "view".
	Object string
	Name   string
	ID     uint32
	Reason string
}

func (e SchemaError) Error() string {
	subject := e.Name
	if subject == "" && e.ID != 0 {
		subject = "id=" + strconv.FormatUint(uint64(e.ID), 10)
	}
	msg := fmt.Sprintf("registry: %s %q: %s", e.Object, subject, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is lets errors.Is(err, ErrNotFound) match NotFound schema errors.
func (e SchemaError) Is(target error) bool {
	return target == ErrNotFound && e.Kind == NotFound
}

// Registry is the immutable field and view catalog.
type Registry struct {
	byName map[string]*FieldDescriptor
	byID   map[uint32]*FieldDescriptor
	views  map[string]*ViewDescriptor
}

// New validates fields and views and returns a built registry. View layouts
// are computed here and never change afterwards.
func New(fields []FieldDescriptor, views []ViewDescriptor) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]*FieldDescriptor, len(fields)),
		byID:   make(map[uint32]*FieldDescriptor, len(fields)),
		views:  make(map[string]*ViewDescriptor, len(views)),
	}
	for i := range fields {
		fd := fields[i]
		if err := validateField(fd); err != nil {
			return nil, err
		}
		if _, ok := r.byName[fd.Name]; ok {
			return nil, SchemaError{Kind: Duplicate, Object: "field", Name: fd.Name}
		}
		if prev, ok := r.byID[fd.ID]; ok {
			return nil, SchemaError{
				Kind:   Duplicate,
				Object: "field",
				Name:   fd.Name,
				ID:     fd.ID,
				Reason: "id already used by " + prev.Name,
			}
		}
		r.byName[fd.Name] = &fd
		r.byID[fd.ID] = &fd
	}
	for i := range views {
		vd, err := buildView(views[i])
		if err != nil {
			return nil, err
		}
		if _, ok := r.views[vd.Name]; ok {
			return nil, SchemaError{Kind: Duplicate, Object: "view", Name: vd.Name}
		}
		r.views[vd.Name] = vd
	}
	log.Debug().Int("fields", len(r.byName)).Int("views", len(r.views)).Msg("registry built")
	return r, nil
}

func validateField(fd FieldDescriptor) error {
	name := strings.TrimSpace(fd.Name)
	if name == "" || name != fd.Name {
		return SchemaError{Kind: Invalid, Object: "field", Name: fd.Name, Reason: "name must be non-empty without surrounding spaces"}
	}
	if fd.BaseType > Ptr {
		return SchemaError{Kind: Invalid, Object: "field", Name: fd.Name, Reason: "unknown base type"}
	}
	if t, _ := SplitID(fd.ID); t != fd.BaseType {
		return SchemaError{
			Kind:   Invalid,
			Object: "field",
			Name:   fd.Name,
			ID:     fd.ID,
			Reason: fmt.Sprintf("id encodes type %s, declared %s", t, fd.BaseType),
		}
	}
	return nil
}

func buildView(in ViewDescriptor) (*ViewDescriptor, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, SchemaError{Kind: Invalid, Object: "view", Reason: "empty view name"}
	}
	vd := &ViewDescriptor{
		Name:   in.Name,
		Fields: make([]ViewField, len(in.Fields)),
		index:  make(map[string]int, len(in.Fields)),
	}
	offset := 0
	for i, f := range in.Fields {
		if _, ok := vd.index[f.Name]; ok {
			return nil, SchemaError{Kind: Duplicate, Object: "view", Name: in.Name, Reason: "field " + f.Name}
		}
		switch {
		case f.ElementType.Scalar():
			f.ElementSize = f.ElementType.Width()
		case f.ElementType == String || f.ElementType == ByteArray:
			if f.ElementSize <= 0 {
				return nil, SchemaError{Kind: Invalid, Object: "view", Name: in.Name, Reason: "field " + f.Name + " needs a size"}
			}
			if f.ElementType == String && f.ElementSize < 2 {
				return nil, SchemaError{Kind: Invalid, Object: "view", Name: in.Name, Reason: "string field " + f.Name + " needs room for a terminator"}
			}
		default:
			return nil, SchemaError{
				Kind:   Invalid,
				Object: "view",
				Name:   in.Name,
				Reason: fmt.Sprintf("field %s: element type %s not allowed in a view", f.Name, f.ElementType),
			}
		}
		if f.FixedCount <= 0 {
			f.FixedCount = 1
		}
		if f.FixedCount > 0xffff || f.ElementSize > 0xffff {
			return nil, SchemaError{Kind: Invalid, Object: "view", Name: in.Name, Reason: "field " + f.Name + " too large"}
		}
		slot, err := parseNullSlot(f)
		if err != nil {
			return nil, SchemaError{Kind: Invalid, Object: "view", Name: in.Name, Reason: "field " + f.Name + ": " + err.Error()}
		}
		f.nullSlot = slot
		f.Offset = offset
		f.Size = f.CompanionSize() + f.FixedCount*f.ElementSize
		offset += f.Size
		vd.Fields[i] = f
		vd.index[f.Name] = i
	}
	vd.Size = offset
	return vd, nil
}

// LookupField resolves a field by name.
func (r *Registry) LookupField(name string) (FieldDescriptor, error) {
	fd, ok := r.byName[name]
	if !ok {
		return FieldDescriptor{}, SchemaError{Kind: NotFound, Object: "field", Name: name}
	}
	return *fd, nil
}

// FieldByID resolves a field by id.
func (r *Registry) FieldByID(id uint32) (FieldDescriptor, error) {
	fd, ok := r.byID[id]
	if !ok {
		return FieldDescriptor{}, SchemaError{Kind: NotFound, Object: "field", ID: id}
	}
	return *fd, nil
}

// LookupView resolves a view by name. The returned descriptor is shared and
// must not be modified.
func (r *Registry) LookupView(name string) (*ViewDescriptor, error) {
	vd, ok := r.views[name]
	if !ok {
		return nil, SchemaError{Kind: NotFound, Object: "view", Name: name}
	}
	return vd, nil
}

// Fields lists field descriptors in ascending id order.
func (r *Registry) Fields() []FieldDescriptor {
	out := make([]FieldDescriptor, 0, len(r.byID))
	for _, fd := range r.byID {
		out = append(out, *fd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Views lists view names in sorted order.
func (r *Registry) Views() []string {
	out := make([]string, 0, len(r.views))
	for name := range r.views {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
