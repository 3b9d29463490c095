package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/danmuck/typedbuf/internal/atmi"
	"github.com/danmuck/typedbuf/internal/buffer"
	"github.com/danmuck/typedbuf/internal/codec"
	"github.com/danmuck/typedbuf/internal/config"
	"github.com/danmuck/typedbuf/internal/logging"
	"github.com/danmuck/typedbuf/internal/wire"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

const usage = `usage: bufctl <command> [flags]

commands:
  encode   read a document and write buffer frames
  decode   read buffer frames and write a document
  digest   print the content digest of a document's buffer
  print    write a UBF frame as NAME<TAB>VALUE lines
  extread  read NAME<TAB>VALUE lines and write a UBF frame
  schema   list the fields and views of the loaded schema

run "bufctl <command> --help" for command flags
`

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "bufctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errors.New("missing command")
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "encode":
		return runEncode(rest, stdin, stdout, stderr)
	case "decode":
		return runDecode(rest, stdin, stdout, stderr)
	case "digest":
		return runDigest(rest, stdin, stdout, stderr)
	case "print":
		return runPrint(rest, stdin, stdout, stderr)
	case "extread":
		return runExtRead(rest, stdin, stdout, stderr)
	case "schema":
		return runSchema(rest, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// common holds the flags every command shares.
type common struct {
	configPath string
	schemas    []string
	logLevel   string
}

func (c *common) register(fs *pflag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "runtime config file (TOML)")
	fs.StringSliceVarP(&c.schemas, "schema", "s", nil, "schema file (TOML or YAML); repeatable")
	fs.StringVar(&c.logLevel, "log-level", "", "log level override")
}

// environment is what a command needs after flags are parsed.
type environment struct {
	cfg config.RuntimeConfig
	ctx *atmi.Context
}

func (c *common) load(stderr io.Writer) (*environment, error) {
	cfg := config.Defaults()
	if c.configPath != "" {
		loaded, err := config.LoadRuntimeConfig(c.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.Schemas = append(cfg.Schemas, c.schemas...)
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	if err := config.ValidateRuntimeConfig(cfg); err != nil {
		return nil, err
	}
	logging.Apply(cfg.Logging(logging.ProfileRuntime), stderr)

	reg, err := cfg.LoadRegistry()
	if err != nil {
		return nil, err
	}
	log.Debug().Strs("schemas", cfg.Schemas).Msg("schema loaded")
	return &environment{cfg: cfg, ctx: atmi.NewContext(cfg.Name, reg, cfg.ContextOptions())}, nil
}

func newFlagSet(name string, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("bufctl "+name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func openInput(path string, stdin io.Reader) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(stdin), nil
	}
	return os.Open(path)
}

func writeOutput(path string, stdout io.Writer, data []byte) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// encodeSpec is the shared input side of encode and digest.
type encodeSpec struct {
	in      string
	format  string
	bufType string
	subtype string
}

func (s *encodeSpec) register(fs *pflag.FlagSet) {
	fs.StringVarP(&s.in, "in", "i", "-", "input document")
	fs.StringVarP(&s.format, "format", "f", "", "input format: json|yaml|cbor|msgpack (default from extension)")
	fs.StringVarP(&s.bufType, "type", "t", "", "buffer type; without it the document is a message envelope")
	fs.StringVar(&s.subtype, "subtype", "", "view name for VIEW buffers")
}

// message reads the input document and encodes it in ctx.
func (s *encodeSpec) message(ctx *atmi.Context, stdin io.Reader) (codec.Message, error) {
	format, err := formatFor(s.format, s.in)
	if err != nil {
		return codec.Message{}, err
	}
	r, err := openInput(s.in, stdin)
	if err != nil {
		return codec.Message{}, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return codec.Message{}, err
	}
	doc, err := parseDocument(format, data)
	if err != nil {
		return codec.Message{}, err
	}
	if s.bufType == "" {
		return ctx.Codec().EncodeMessage(doc)
	}
	tag, err := buffer.ParseTag(s.bufType)
	if err != nil {
		return codec.Message{}, err
	}
	b, err := ctx.Encode(doc, tag, s.subtype)
	return codec.Message{Data: b}, err
}

func runEncode(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := newFlagSet("encode", stderr)
	var (
		c    common
		spec encodeSpec
		out  string
	)
	c.register(fs)
	spec.register(fs)
	fs.StringVarP(&out, "out", "o", "-", "output file for buffer frames")
	if err := fs.Parse(args); err != nil {
		return err
	}
	env, err := c.load(stderr)
	if err != nil {
		return err
	}
	m, err := spec.message(env.ctx, stdin)
	if err != nil {
		return err
	}
	defer env.ctx.Codec().ReleaseMessage(m)

	data, err := wire.Marshal(env.ctx.Resolver(), m.Data)
	if err != nil {
		return err
	}
	if m.CallInfo != nil {
		info, err := wire.Marshal(env.ctx.Resolver(), m.CallInfo)
		if err != nil {
			return err
		}
		data = append(data, info...)
	}
	log.Debug().Str("tag", m.Data.Tag().String()).Int("bytes", len(data)).Msg("encoded")
	return writeOutput(out, stdout, data)
}

func runDecode(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := newFlagSet("decode", stderr)
	var (
		c       common
		in, out string
		format  string
	)
	c.register(fs)
	fs.StringVarP(&in, "in", "i", "-", "input file of buffer frames")
	fs.StringVarP(&out, "out", "o", "-", "output document")
	fs.StringVarP(&format, "format", "f", "", "output format: json|yaml|cbor|msgpack (default from extension)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	format, err := formatFor(format, out)
	if err != nil {
		return err
	}
	env, err := c.load(stderr)
	if err != nil {
		return err
	}
	r, err := openInput(in, stdin)
	if err != nil {
		return err
	}
	defer r.Close()

	var m codec.Message
	defer func() { _ = env.ctx.Codec().ReleaseMessage(m) }()
	for i := 0; ; i++ {
		frame, err := wire.ReadFrame(r, env.cfg.Limits())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		b, err := wire.Unmarshal(frame, env.ctx.Registry(), env.ctx.Resolver(), env.cfg.Limits())
		if err != nil {
			return err
		}
		switch i {
		case 0:
			m.Data = b
		case 1:
			fb, ok := b.(*buffer.Fielded)
			if !ok {
				_ = env.ctx.Release(b)
				return fmt.Errorf("call info frame is %s, not UBF", b.Tag())
			}
			m.CallInfo = fb
		default:
			_ = env.ctx.Release(b)
			return errors.New("more than two frames in input")
		}
	}
	if m.Data == nil {
		return errors.New("no frames in input")
	}
	v, err := env.ctx.Codec().DecodeMessage(m)
	if err != nil {
		return err
	}
	data, err := renderDocument(format, v)
	if err != nil {
		return err
	}
	return writeOutput(out, stdout, data)
}

func runDigest(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := newFlagSet("digest", stderr)
	var (
		c    common
		spec encodeSpec
	)
	c.register(fs)
	spec.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	env, err := c.load(stderr)
	if err != nil {
		return err
	}
	m, err := spec.message(env.ctx, stdin)
	if err != nil {
		return err
	}
	defer env.ctx.Codec().ReleaseMessage(m)
	sum, err := wire.Digest(env.ctx.Resolver(), m.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, sum)
	return err
}

func runPrint(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := newFlagSet("print", stderr)
	var (
		c       common
		in, out string
	)
	c.register(fs)
	fs.StringVarP(&in, "in", "i", "-", "input file holding a UBF frame")
	fs.StringVarP(&out, "out", "o", "-", "output file for the printed buffer")
	if err := fs.Parse(args); err != nil {
		return err
	}
	env, err := c.load(stderr)
	if err != nil {
		return err
	}
	r, err := openInput(in, stdin)
	if err != nil {
		return err
	}
	defer r.Close()
	frame, err := wire.ReadFrame(r, env.cfg.Limits())
	if errors.Is(err, io.EOF) {
		return errors.New("no frames in input")
	}
	if err != nil {
		return err
	}
	b, err := wire.Unmarshal(frame, env.ctx.Registry(), env.ctx.Resolver(), env.cfg.Limits())
	if err != nil {
		return err
	}
	defer env.ctx.Release(b)

	var printed bytes.Buffer
	if err := env.ctx.Codec().Print(&printed, b); err != nil {
		return err
	}
	return writeOutput(out, stdout, printed.Bytes())
}

func runExtRead(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := newFlagSet("extread", stderr)
	var (
		c       common
		in, out string
	)
	c.register(fs)
	fs.StringVarP(&in, "in", "i", "-", "input file of printed fields")
	fs.StringVarP(&out, "out", "o", "-", "output file for the UBF frame")
	if err := fs.Parse(args); err != nil {
		return err
	}
	env, err := c.load(stderr)
	if err != nil {
		return err
	}
	r, err := openInput(in, stdin)
	if err != nil {
		return err
	}
	defer r.Close()
	b, err := env.ctx.Codec().ExtRead(r)
	if err != nil {
		return err
	}
	defer env.ctx.Release(b)

	data, err := wire.Marshal(env.ctx.Resolver(), b)
	if err != nil {
		return err
	}
	log.Debug().Int("bytes", len(data)).Msg("read printed buffer")
	return writeOutput(out, stdout, data)
}

func runSchema(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("schema", stderr)
	var c common
	c.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	env, err := c.load(stderr)
	if err != nil {
		return err
	}
	reg := env.ctx.Registry()
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tID\tTYPE\tMAX_OCC\tMAX_LEN")
	for _, fd := range reg.Fields() {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", fd.Name, fd.ID, fd.BaseType, limit(fd.MaxOccurrences), limit(fd.MaxLength))
	}
	if views := reg.Views(); len(views) > 0 {
		fmt.Fprintln(tw, "\nVIEW\tFIELD\tTYPE\tCOUNT\tSIZE")
		for _, name := range views {
			vd, err := reg.LookupView(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%s\t\t\t\t%d\n", vd.Name, vd.Size)
			for _, f := range vd.Fields {
				fmt.Fprintf(tw, "\t%s\t%s\t%d\t%d\n", f.Name, f.ElementType, f.FixedCount, f.ElementSize)
			}
		}
	}
	return tw.Flush()
}

func limit(n uint32) string {
	if n == 0 {
		return "-"
	}
	return fmt.Sprint(n)
}
