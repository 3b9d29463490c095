package codec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/danmuck/typedbuf/internal/buffer"
	"github.com/danmuck/typedbuf/internal/registry"
	"github.com/danmuck/typedbuf/internal/value"
)

// The printed form of a fielded record is one "NAME<TAB>VALUE" line per
// occurrence, fields in ascending id order. Nested records and view fields
// follow their line, indented by one more tab. A ptr line (or a record line
// holding a wrapper) carries the buffer type, "/subtype" for views, and the
// nested contents below it; text and byte contents sit on a "data" line.
// Bytes outside printable ASCII are written as \hh and the backslash as \\.
// A blank line ends the buffer.

// ErrPrintedLine reports input that ExtRead cannot parse.
var ErrPrintedLine = errors.New("codec: malformed printed line")

// Print writes the fielded buffer b in printed form.
func (c *Codec) Print(w io.Writer, b buffer.Buffer) error {
	fb, err := c.fielded(b)
	if err != nil {
		return err
	}
	v, err := c.Decode(fb)
	if err != nil {
		return err
	}
	rec, _ := v.AsRecord()
	p := &printer{c: c, w: bufio.NewWriter(w)}
	if err := p.fielded(rec, 0); err != nil {
		return err
	}
	p.w.WriteByte('\n')
	return p.w.Flush()
}

type printer struct {
	c *Codec
	w *bufio.Writer
}

func (p *printer) line(depth int, name, text string) {
	for i := 0; i < depth; i++ {
		p.w.WriteByte('\t')
	}
	p.w.WriteString(name)
	p.w.WriteByte('\t')
	p.w.WriteString(text)
	p.w.WriteByte('\n')
}

func (p *printer) fielded(rec value.Record, depth int) error {
	fields := make([]registry.FieldDescriptor, 0, len(rec))
	for name := range rec {
		fd, err := p.c.field(name)
		if err != nil {
			return err
		}
		fields = append(fields, fd)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].ID < fields[j].ID })
	for _, fd := range fields {
		for _, occ := range rec[fd.Name] {
			if err := p.occurrence(fd, occ, depth); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *printer) occurrence(fd registry.FieldDescriptor, v value.Value, depth int) error {
	switch fd.BaseType {
	case registry.Record, registry.Ptr:
		rec, ok := v.AsRecord()
		if !ok {
			return mismatch(fd.Name, fd.BaseType, v)
		}
		if fd.BaseType == registry.Ptr || value.IsWrapper(rec) {
			return p.wrapper(fd.Name, rec, depth)
		}
		p.line(depth, fd.Name, "")
		return p.fielded(rec, depth+1)
	case registry.View:
		rec, ok := v.AsRecord()
		if !ok {
			return mismatch(fd.Name, fd.BaseType, v)
		}
		vname, _ := rec.TextField(value.KeyViewName)
		p.line(depth, fd.Name, escape(vname))
		if vname == "" {
			return nil
		}
		data := value.Record{}
		if d, ok := rec.First(value.KeyViewData); ok {
			data, _ = d.AsRecord()
		}
		return p.view(vname, data, depth+1)
	}
	text, err := scalarText(fd.Name, fd.BaseType, v)
	if err != nil {
		return err
	}
	p.line(depth, fd.Name, text)
	return nil
}

// view prints slots in declared field order. A Null slot prints as its
// marker value, which stores back as Null.
func (p *printer) view(vname string, data value.Record, depth int) error {
	desc, err := p.c.reg.LookupView(vname)
	if err != nil {
		return err
	}
	for _, f := range desc.Fields {
		for _, occ := range data[f.Name] {
			if occ.IsNull() {
				if occ, err = scalarValue(f.Name, f.ElementType, f.NullSlot()); err != nil {
					return err
				}
			}
			text, err := scalarText(f.Name, f.ElementType, occ)
			if err != nil {
				return err
			}
			p.line(depth, f.Name, text)
		}
	}
	return nil
}

func (p *printer) wrapper(name string, rec value.Record, depth int) error {
	bt, _ := rec.TextField(value.KeyBufType)
	subtype, _ := rec.TextField(value.KeySubtype)
	tag, err := buffer.ParseTag(bt)
	if err != nil {
		return err
	}
	head := tag.String()
	if subtype != "" {
		head += "/" + subtype
	}
	p.line(depth, name, escape(head))

	data, _ := rec.First(value.KeyData)
	switch tag {
	case buffer.TagUBF:
		inner, _ := data.AsRecord()
		return p.fielded(inner, depth+1)
	case buffer.TagView:
		inner, _ := data.AsRecord()
		return p.view(subtype, inner, depth+1)
	case buffer.TagString, buffer.TagJSON:
		s, _ := data.AsText()
		p.line(depth+1, value.KeyData, escape(s))
	case buffer.TagCarray:
		raw, _ := data.AsBytes()
		p.line(depth+1, value.KeyData, escape(string(raw)))
	case buffer.TagPtr:
		inner, ok := data.AsRecord()
		if !ok {
			return mismatch(value.KeyData, registry.Ptr, data)
		}
		return p.wrapper(value.KeyData, inner, depth+1)
	}
	return nil
}

func scalarText(field string, t registry.BaseType, v value.Value) (string, error) {
	switch t {
	case registry.Short, registry.Long:
		n, err := toInt(field, t, v)
		return strconv.FormatInt(n, 10), err
	case registry.Float, registry.Double:
		f, err := toFloat(field, t, v)
		return strconv.FormatFloat(f, 'g', -1, 64), err
	case registry.Char, registry.String:
		s, ok := v.AsText()
		if !ok {
			return "", mismatch(field, t, v)
		}
		return escape(s), nil
	case registry.ByteArray:
		raw, ok := v.AsBytes()
		if !ok {
			return "", mismatch(field, t, v)
		}
		return escape(string(raw)), nil
	}
	return "", mismatch(field, t, v)
}

func escape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\':
			b.WriteString(`\\`)
		case c < 0x20 || c > 0x7e:
			fmt.Fprintf(&b, `\%02x`, c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func unescape(s string) ([]byte, bool) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			out = append(out, s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == '\\' {
			out = append(out, '\\')
			i++
			continue
		}
		if i+2 >= len(s) {
			return nil, false
		}
		n, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
		if err != nil {
			return nil, false
		}
		out = append(out, byte(n))
		i += 2
	}
	return out, true
}

// printedLine is one parsed input line; no is its 1-based line number.
type printedLine struct {
	no    int
	depth int
	name  string
	text  string
}

// ExtRead builds a fielded record from printed form, as written by Print.
// Lines starting with '#' are comments. Reading stops at the first blank
// line or at EOF.
func (c *Codec) ExtRead(r io.Reader) (buffer.Buffer, error) {
	lines, err := readPrinted(r)
	if err != nil {
		return nil, err
	}
	x := &extReader{c: c, lines: lines}
	rec, err := x.fielded(0)
	if err != nil {
		return nil, err
	}
	return c.Encode(value.Rec(rec), buffer.TagUBF, "")
}

func readPrinted(r io.Reader) ([]printedLine, error) {
	br := bufio.NewReader(r)
	var lines []printedLine
	for no := 1; ; no++ {
		raw, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		text := strings.TrimSuffix(strings.TrimSuffix(raw, "\n"), "\r")
		if text == "" {
			return lines, nil
		}
		if !strings.HasPrefix(text, "#") {
			rest := strings.TrimLeft(text, "\t")
			ln := printedLine{no: no, depth: len(text) - len(rest), name: rest}
			if i := strings.IndexByte(rest, '\t'); i >= 0 {
				ln.name, ln.text = rest[:i], rest[i+1:]
			}
			if ln.name == "" {
				return nil, fmt.Errorf("%w %d: missing field name", ErrPrintedLine, no)
			}
			lines = append(lines, ln)
		}
		if err == io.EOF {
			return lines, nil
		}
	}
}

type extReader struct {
	c     *Codec
	lines []printedLine
	pos   int
}

func (x *extReader) errorf(ln printedLine, format string, args ...any) error {
	return fmt.Errorf("%w %d: %s", ErrPrintedLine, ln.no, fmt.Sprintf(format, args...))
}

// next consumes the next line when it sits at depth.
func (x *extReader) next(depth int) (printedLine, bool) {
	if x.pos >= len(x.lines) || x.lines[x.pos].depth != depth {
		return printedLine{}, false
	}
	x.pos++
	return x.lines[x.pos-1], true
}

func (x *extReader) fielded(depth int) (value.Record, error) {
	rec := value.Record{}
	for x.pos < len(x.lines) && x.lines[x.pos].depth >= depth {
		ln, ok := x.next(depth)
		if !ok {
			return nil, x.errorf(x.lines[x.pos], "unexpected indent")
		}
		fd, err := x.c.field(ln.name)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", ln.no, err)
		}
		v, err := x.occurrence(fd, ln, depth)
		if err != nil {
			return nil, err
		}
		rec.Add(fd.Name, v)
	}
	return rec, nil
}

func (x *extReader) occurrence(fd registry.FieldDescriptor, ln printedLine, depth int) (value.Value, error) {
	switch fd.BaseType {
	case registry.Record:
		if ln.text != "" {
			return x.wrapper(ln, depth)
		}
		rec, err := x.fielded(depth + 1)
		return value.Rec(rec), err
	case registry.Ptr:
		return x.wrapper(ln, depth)
	case registry.View:
		if ln.text == "" {
			return value.Rec(value.Record{}), nil
		}
		vname, ok := unescape(ln.text)
		if !ok {
			return value.Value{}, x.errorf(ln, "bad escape in view name")
		}
		data, err := x.view(string(vname), depth+1)
		if err != nil {
			return value.Value{}, err
		}
		return value.Rec(value.Record{
			value.KeyViewName: {value.Text(string(vname))},
			value.KeyViewData: {value.Rec(data)},
		}), nil
	}
	return x.scalar(ln, fd.Name, fd.BaseType)
}

func (x *extReader) scalar(ln printedLine, field string, t registry.BaseType) (value.Value, error) {
	switch t {
	case registry.Short, registry.Long:
		n, err := strconv.ParseInt(ln.text, 10, 64)
		if err != nil {
			return value.Value{}, x.errorf(ln, "%s: %v", field, err)
		}
		return value.Int(n), nil
	case registry.Float, registry.Double:
		f, err := strconv.ParseFloat(ln.text, 64)
		if err != nil {
			return value.Value{}, x.errorf(ln, "%s: %v", field, err)
		}
		return value.Float(f), nil
	}
	raw, ok := unescape(ln.text)
	if !ok {
		return value.Value{}, x.errorf(ln, "%s: bad escape", field)
	}
	if t == registry.ByteArray {
		return value.Bytes(raw), nil
	}
	return value.Text(string(raw)), nil
}

func (x *extReader) view(vname string, depth int) (value.Record, error) {
	desc, err := x.c.reg.LookupView(vname)
	if err != nil {
		return nil, err
	}
	rec := value.Record{}
	for {
		ln, ok := x.next(depth)
		if !ok {
			return rec, nil
		}
		f, ok := desc.Field(ln.name)
		if !ok {
			return nil, x.errorf(ln, "view %s has no field %s", vname, ln.name)
		}
		v, err := x.scalar(ln, f.Name, f.ElementType)
		if err != nil {
			return nil, err
		}
		rec.Add(f.Name, v)
	}
}

func (x *extReader) wrapper(ln printedLine, depth int) (value.Value, error) {
	head, ok := unescape(ln.text)
	if !ok {
		return value.Value{}, x.errorf(ln, "bad escape in buffer type")
	}
	name, subtype, _ := strings.Cut(string(head), "/")
	tag, err := buffer.ParseTag(name)
	if err != nil {
		return value.Value{}, fmt.Errorf("line %d: %w", ln.no, err)
	}

	data := value.Null()
	switch tag {
	case buffer.TagUBF:
		rec, err := x.fielded(depth + 1)
		if err != nil {
			return value.Value{}, err
		}
		data = value.Rec(rec)
	case buffer.TagView:
		rec, err := x.view(subtype, depth+1)
		if err != nil {
			return value.Value{}, err
		}
		data = value.Rec(rec)
	case buffer.TagString, buffer.TagJSON, buffer.TagCarray, buffer.TagPtr:
		inner, ok := x.next(depth + 1)
		if !ok || inner.name != value.KeyData {
			return value.Value{}, x.errorf(ln, "%s buffer needs a %s line", tag, value.KeyData)
		}
		if tag == buffer.TagPtr {
			data, err = x.wrapper(inner, depth+1)
			if err != nil {
				return value.Value{}, err
			}
			break
		}
		raw, ok := unescape(inner.text)
		if !ok {
			return value.Value{}, x.errorf(inner, "bad escape")
		}
		data = value.Text(string(raw))
		if tag == buffer.TagCarray {
			data = value.Bytes(raw)
		}
	}
	return value.Wrap(tag.String(), subtype, data), nil
}
