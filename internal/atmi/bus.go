package atmi

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/typedbuf/internal/buffer"
	"github.com/danmuck/typedbuf/internal/codec"
	"github.com/danmuck/typedbuf/internal/observability"
	"github.com/danmuck/typedbuf/internal/value"
	"github.com/rs/zerolog/log"
)

// Flags modify a call.
type Flags uint32

const (
	// FlagNoReply sends an asynchronous call whose reply is discarded.
	FlagNoReply Flags = 1 << iota
)

// Request is what a service handler receives. Its buffers belong to the
// service's Context and are released by the Bus when the handler returns.
// Data is never nil: a call without data delivers a NULL buffer.
type Request struct {
	Service        string
	CallDescriptor int
	// Event names the posted event for deliveries made by Post.
	Event          string
	Flags          Flags
	Data           buffer.Buffer
	CallInfo       *buffer.Fielded
}

// Reply is what a service returns. A non-zero ReturnCode marks failure; the
// caller then gets a ServiceError along with the reply data.
type Reply struct {
	ReturnCode int
	UserCode   int64
	Data       buffer.Buffer
}

// Handler serves one request in the service's Context. Reply data must be
// allocated in that Context; the Bus marshals and releases it.
type Handler func(ctx context.Context, c *Context, req *Request) (*Reply, error)

// ConversationHandler serves one conversation until it returns.
type ConversationHandler func(ctx context.Context, conv *Conversation, req *Request) error

type service struct {
	name string
	ctx  *Context
	call Handler
	conv ConversationHandler
}

// frames is a request or reply in transit between contexts.
type frames struct {
	data     []byte
	callinfo []byte
	rcode    int
	ucode    int64
	event    string
}

type pendingCall struct {
	owner   *Context
	service string
	done    chan struct{}
	reply   frames
	err     error
}

// Bus routes calls between contexts by service name.
type Bus struct {
	mu       sync.RWMutex
	services map[string]*service
	pending  map[int]*pendingCall
	nextCD   int
	subs     map[int64]*subscription
	nextSub  int64
}

func NewBus() *Bus {
	return &Bus{
		services: make(map[string]*service),
		pending:  make(map[int]*pendingCall),
		subs:     make(map[int64]*subscription),
	}
}

// Advertise publishes a request/reply service served in c.
func (b *Bus) Advertise(name string, c *Context, h Handler) error {
	return b.advertise(&service{name: strings.TrimSpace(name), ctx: c, call: h})
}

// AdvertiseConversation publishes a conversational service served in c.
func (b *Bus) AdvertiseConversation(name string, c *Context, h ConversationHandler) error {
	return b.advertise(&service{name: strings.TrimSpace(name), ctx: c, conv: h})
}

func (b *Bus) advertise(s *service) error {
	if s.name == "" {
		return fmt.Errorf("%w: empty service name", ErrNoEntry)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.services[s.name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, s.name)
	}
	b.services[s.name] = s
	log.Debug().Str("service", s.name).Str("context", s.ctx.ID()).Msg("service advertised")
	return nil
}

func (b *Bus) Unadvertise(name string) error {
	name = strings.TrimSpace(name)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.services[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNoEntry, name)
	}
	delete(b.services, name)
	log.Debug().Str("service", name).Msg("service unadvertised")
	return nil
}

// Services lists advertised service names.
func (b *Bus) Services() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.services))
	for name := range b.services {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (b *Bus) lookup(name string, conversational bool) (*service, error) {
	b.mu.RLock()
	s, ok := b.services[strings.TrimSpace(name)]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoEntry, name)
	}
	if (s.conv != nil) != conversational {
		return nil, fmt.Errorf("%w: %s", ErrConversational, name)
	}
	return s, nil
}

// Call sends data to svc and waits for the reply, which is allocated in c.
// The caller keeps ownership of data.
func (b *Bus) Call(ctx context.Context, c *Context, svc string, data buffer.Buffer) (*Reply, error) {
	return b.CallMessage(ctx, c, svc, codec.Message{Data: data})
}

// CallMessage is Call with call information attached.
func (b *Bus) CallMessage(ctx context.Context, c *Context, svc string, m codec.Message) (*Reply, error) {
	start := time.Now()
	s, err := b.lookup(svc, false)
	if err != nil {
		return nil, err
	}
	req, err := exportMessage(c, m)
	if err != nil {
		return nil, err
	}
	out, err := b.dispatch(ctx, s, 0, 0, req)
	if err != nil {
		observability.RecordServiceCall(s.name, "call", time.Since(start), false)
		return nil, err
	}
	reply, err := importReply(c, s.name, out)
	observability.RecordServiceCall(s.name, "call", time.Since(start), err == nil)
	return reply, err
}

// CallValue encodes v as a message envelope, calls svc and decodes the
// reply data into an envelope. Every buffer involved is released.
func (b *Bus) CallValue(ctx context.Context, c *Context, svc string, v value.Value) (value.Value, error) {
	m, err := c.Codec().EncodeMessage(v)
	if err != nil {
		return value.Value{}, err
	}
	reply, callErr := b.CallMessage(ctx, c, svc, m)
	if err := c.Codec().ReleaseMessage(m); err != nil {
		log.Warn().Err(err).Str("service", svc).Msg("request release failed")
	}
	if reply == nil {
		return value.Value{}, callErr
	}
	if reply.Data == nil {
		return value.Wrap(buffer.TagNull.String(), "", value.Null()), callErr
	}
	out, err := c.Codec().DecodeMessage(codec.Message{Data: reply.Data})
	if rerr := c.Release(reply.Data); err == nil {
		err = rerr
	}
	if err != nil {
		return value.Value{}, err
	}
	return out, callErr
}

// ACall sends data to svc without waiting and returns the call descriptor
// to pass to GetReply. With FlagNoReply the descriptor is 0 and the reply
// is dropped.
func (b *Bus) ACall(ctx context.Context, c *Context, svc string, data buffer.Buffer, flags Flags) (int, error) {
	start := time.Now()
	s, err := b.lookup(svc, false)
	if err != nil {
		return 0, err
	}
	req, err := exportMessage(c, codec.Message{Data: data})
	if err != nil {
		return 0, err
	}
	if flags&FlagNoReply != 0 {
		go func() {
			_, err := b.dispatch(context.WithoutCancel(ctx), s, 0, flags, req)
			observability.RecordServiceCall(s.name, "acall", time.Since(start), err == nil)
		}()
		return 0, nil
	}

	p := &pendingCall{owner: c, service: s.name, done: make(chan struct{})}
	b.mu.Lock()
	b.nextCD++
	cd := b.nextCD
	b.pending[cd] = p
	b.mu.Unlock()

	go func() {
		p.reply, p.err = b.dispatch(context.WithoutCancel(ctx), s, cd, flags, req)
		observability.RecordServiceCall(s.name, "acall", time.Since(start), p.err == nil && p.reply.rcode == 0)
		close(p.done)
	}()
	return cd, nil
}

// GetReply waits for the reply of an earlier ACall made from c. When ctx
// ends first the call stays pending and can be collected later.
func (b *Bus) GetReply(ctx context.Context, c *Context, cd int) (*Reply, error) {
	b.mu.RLock()
	p, ok := b.pending[cd]
	b.mu.RUnlock()
	if !ok || p.owner != c {
		return nil, fmt.Errorf("%w: %d", ErrBadDescriptor, cd)
	}
	select {
	case <-p.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	b.mu.Lock()
	delete(b.pending, cd)
	b.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return importReply(c, p.service, p.reply)
}

// dispatch rebuilds the request in the service context, runs the handler
// and exports its reply.
func (b *Bus) dispatch(ctx context.Context, s *service, cd int, flags Flags, in frames) (frames, error) {
	sc := s.ctx
	req := &Request{Service: s.name, CallDescriptor: cd, Flags: flags, Event: in.event}
	var err error
	if req.Data, err = sc.adoptData(in.data); err != nil {
		return frames{}, err
	}
	if req.CallInfo, err = sc.adoptCallInfo(in.callinfo); err != nil {
		_ = sc.Release(req.Data)
		return frames{}, err
	}

	reply, herr := s.call(ctx, sc, req)
	var out frames
	if reply != nil {
		out.rcode = reply.ReturnCode
		out.ucode = reply.UserCode
		if reply.Data != nil {
			out.data, err = sc.export(reply.Data)
		}
	}
	releaseRequest(sc, req, reply)
	if herr != nil {
		log.Debug().Err(herr).Str("service", s.name).Msg("service handler failed")
		return frames{}, fmt.Errorf("atmi: service %s: %w", s.name, herr)
	}
	if err != nil {
		return frames{}, err
	}
	return out, nil
}

// releaseRequest frees the request and reply buffers in the service
// context. A handler may answer with the request buffer itself.
func releaseRequest(sc *Context, req *Request, reply *Reply) {
	release := func(buf buffer.Buffer, what string) {
		if err := sc.Release(buf); err != nil {
			log.Warn().Err(err).Str("service", req.Service).Str("buffer", what).Msg("service buffer release failed")
		}
	}
	release(req.Data, "request")
	if reply != nil && reply.Data != nil && (req.Data == nil || reply.Data.ID() != req.Data.ID()) {
		release(reply.Data, "reply")
	}
	if req.CallInfo != nil {
		release(req.CallInfo, "callinfo")
	}
}

func exportMessage(c *Context, m codec.Message) (frames, error) {
	data, err := c.export(m.Data)
	if err != nil {
		return frames{}, err
	}
	var info []byte
	if m.CallInfo != nil {
		if info, err = c.export(m.CallInfo); err != nil {
			return frames{}, err
		}
	}
	return frames{data: data, callinfo: info}, nil
}

func importReply(c *Context, svc string, in frames) (*Reply, error) {
	data, err := c.adopt(in.data)
	if err != nil {
		return nil, err
	}
	reply := &Reply{ReturnCode: in.rcode, UserCode: in.ucode, Data: data}
	if in.rcode != 0 {
		return reply, ServiceError{Service: svc, ReturnCode: in.rcode, UserCode: in.ucode}
	}
	return reply, nil
}
