package atmi

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/typedbuf/internal/buffer"
	"github.com/danmuck/typedbuf/internal/codec"
	"github.com/danmuck/typedbuf/internal/observability"
	"github.com/rs/zerolog/log"
)

// conversationDepth is how many frames one side may send before the peer
// receives.
const conversationDepth = 16

// Conversation is one end of a connection between a client and a service.
// Each end sends from and receives into its own Context.
type Conversation struct {
	c       *Context
	service string

	out  chan<- []byte
	in   <-chan []byte
	done chan struct{}
	peer <-chan struct{}
	once sync.Once
}

func conversationPair(client, server *Context, svc string) (*Conversation, *Conversation) {
	toServer := make(chan []byte, conversationDepth)
	toClient := make(chan []byte, conversationDepth)
	clientDone := make(chan struct{})
	serverDone := make(chan struct{})
	return &Conversation{c: client, service: svc, out: toServer, in: toClient, done: clientDone, peer: serverDone},
		&Conversation{c: server, service: svc, out: toClient, in: toServer, done: serverDone, peer: clientDone}
}

// Context returns the context this end sends from and receives into.
func (cv *Conversation) Context() *Context { return cv.c }
func (cv *Conversation) Service() string   { return cv.service }

// Connect starts a conversation with svc. data, which may be nil, is the
// service's initial request; the caller keeps ownership of it.
func (b *Bus) Connect(ctx context.Context, c *Context, svc string, data buffer.Buffer) (*Conversation, error) {
	start := time.Now()
	s, err := b.lookup(svc, true)
	if err != nil {
		return nil, err
	}
	in, err := exportMessage(c, codec.Message{Data: data})
	if err != nil {
		return nil, err
	}
	sc := s.ctx
	req := &Request{Service: s.name}
	if req.Data, err = sc.adoptData(in.data); err != nil {
		return nil, err
	}
	client, server := conversationPair(c, sc, s.name)

	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		defer cancel()
		select {
		case <-client.done:
		case <-server.done:
		}
	}()
	go func() {
		err := s.conv(hctx, server, req)
		server.Close()
		releaseRequest(sc, req, nil)
		if err != nil {
			log.Debug().Err(err).Str("service", s.name).Msg("conversation handler failed")
		}
		observability.RecordServiceCall(s.name, "conv", time.Since(start), err == nil)
	}()
	log.Debug().Str("service", s.name).Str("context", c.ID()).Msg("conversation connected")
	return client, nil
}

// Send marshals data to the peer. The sender keeps ownership of data.
func (cv *Conversation) Send(ctx context.Context, data buffer.Buffer) error {
	select {
	case <-cv.done:
		return ErrClosed
	default:
	}
	frame, err := cv.c.export(data)
	if err != nil {
		return err
	}
	select {
	case cv.out <- frame:
		return nil
	case <-cv.peer:
		return ErrClosed
	case <-cv.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv waits for the next buffer from the peer and rebuilds it in this
// end's Context. Frames sent before the peer closed are still delivered.
func (cv *Conversation) Recv(ctx context.Context) (buffer.Buffer, error) {
	select {
	case <-cv.done:
		return nil, ErrClosed
	default:
	}
	select {
	case frame := <-cv.in:
		return cv.receive(frame)
	case <-cv.peer:
		select {
		case frame := <-cv.in:
			return cv.receive(frame)
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (cv *Conversation) receive(frame []byte) (buffer.Buffer, error) {
	return cv.c.adoptData(frame)
}

// Close ends this side. The peer's pending Recv calls drain what was sent
// and then fail with ErrClosed.
func (cv *Conversation) Close() {
	cv.once.Do(func() { close(cv.done) })
}
