package atmi

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/typedbuf/internal/buffer"
	"github.com/danmuck/typedbuf/internal/wire"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// QueueFlags select how Dequeue picks a message.
type QueueFlags uint32

const (
	// DequeueByMsgID takes the message whose id is QueueCtl.MsgID.
	DequeueByMsgID QueueFlags = 1 << iota
	// DequeueByCorrID takes the oldest message with QueueCtl.CorrID.
	DequeueByCorrID
	// DequeuePeek returns a copy and leaves the message queued.
	DequeuePeek
)

// QueueCtl carries message identities in and out of queue operations.
type QueueCtl struct {
	MsgID  string
	CorrID string
	Flags  QueueFlags
}

// QueuedMessage describes one stored message.
type QueuedMessage struct {
	MsgID      string
	CorrID     string
	Tag        buffer.Tag
	Size       int
	Stored     int
	Compressed bool
	QueuedAt   time.Time
}

type queuedFrame struct {
	QueuedMessage
	frame []byte
}

// QueueOptions configures a QueueSpace.
type QueueOptions struct {
	// CompressThreshold is the frame size from which stored frames are
	// zstd-compressed; 0 disables compression.
	CompressThreshold int
	// AutoCreate creates unknown queues on first enqueue.
	AutoCreate bool
}

// QueueSpace stores marshaled buffers in named FIFO queues. A dequeued
// buffer is rebuilt in the caller's Context.
type QueueSpace struct {
	name string
	opts QueueOptions
	enc  *zstd.Encoder
	dec  *zstd.Decoder

	mu     sync.Mutex
	queues map[string][]queuedFrame
	seq    uint64
}

func NewQueueSpace(name string, opts QueueOptions) (*QueueSpace, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("atmi: queue space %s: %w", name, err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("atmi: queue space %s: %w", name, err)
	}
	return &QueueSpace{
		name:   name,
		opts:   opts,
		enc:    enc,
		dec:    dec,
		queues: make(map[string][]queuedFrame),
	}, nil
}

func (q *QueueSpace) Name() string { return q.name }

// Create declares an empty queue. Creating an existing queue is a no-op.
func (q *QueueSpace) Create(qname string) error {
	qname = strings.TrimSpace(qname)
	if qname == "" {
		return fmt.Errorf("%w: empty queue name", ErrNoEntry)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.queues[qname]; !ok {
		q.queues[qname] = nil
	}
	return nil
}

func (q *QueueSpace) Queues() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.queues))
	for name := range q.queues {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Enqueue stores a copy of data, which stays owned by c. The returned
// control carries the assigned message id.
func (q *QueueSpace) Enqueue(c *Context, qname string, ctl QueueCtl, data buffer.Buffer) (QueueCtl, error) {
	frame, err := wire.Marshal(c.Resolver(), data)
	if err != nil {
		return QueueCtl{}, err
	}
	item := queuedFrame{
		QueuedMessage: QueuedMessage{
			CorrID:   strings.TrimSpace(ctl.CorrID),
			Tag:      data.Tag(),
			Size:     len(frame),
			QueuedAt: time.Now(),
		},
		frame: frame,
	}
	if q.opts.CompressThreshold > 0 && len(frame) >= q.opts.CompressThreshold {
		item.frame = q.enc.EncodeAll(frame, make([]byte, 0, len(frame)/2))
		item.Compressed = true
	}
	item.Stored = len(item.frame)

	q.mu.Lock()
	defer q.mu.Unlock()
	items, ok := q.queues[qname]
	if !ok && !q.opts.AutoCreate {
		return QueueCtl{}, fmt.Errorf("%w: queue %s", ErrNoEntry, qname)
	}
	q.seq++
	item.MsgID = fmt.Sprintf("%016x", q.seq)
	q.queues[qname] = append(items, item)
	log.Trace().Str("qspace", q.name).Str("queue", qname).Str("msgid", item.MsgID).
		Int("size", item.Size).Int("stored", item.Stored).Msg("message enqueued")
	return QueueCtl{MsgID: item.MsgID, CorrID: item.CorrID}, nil
}

// Dequeue removes the selected message and rebuilds it in c. Without
// selection flags the oldest message is taken. The message stays queued
// unless it was rebuilt in c.
func (q *QueueSpace) Dequeue(c *Context, qname string, ctl QueueCtl) (buffer.Buffer, QueueCtl, error) {
	q.mu.Lock()
	items, ok := q.queues[qname]
	if !ok {
		q.mu.Unlock()
		return nil, QueueCtl{}, fmt.Errorf("%w: queue %s", ErrNoEntry, qname)
	}
	idx := selectMessage(items, ctl)
	if idx < 0 {
		q.mu.Unlock()
		return nil, QueueCtl{}, ErrNoMessage
	}
	item := items[idx]
	q.mu.Unlock()

	frame := item.frame
	if item.Compressed {
		var err error
		if frame, err = q.dec.DecodeAll(item.frame, make([]byte, 0, item.Size)); err != nil {
			return nil, QueueCtl{}, fmt.Errorf("atmi: queue %s message %s: %w", qname, item.MsgID, err)
		}
	}
	b, err := c.adopt(frame)
	if err != nil {
		return nil, QueueCtl{}, err
	}
	out := QueueCtl{MsgID: item.MsgID, CorrID: item.CorrID}
	if ctl.Flags&DequeuePeek != 0 {
		return b, out, nil
	}

	q.mu.Lock()
	items = q.queues[qname]
	idx = selectMessage(items, QueueCtl{MsgID: item.MsgID, Flags: DequeueByMsgID})
	if idx >= 0 {
		q.queues[qname] = append(items[:idx:idx], items[idx+1:]...)
	}
	q.mu.Unlock()
	if idx < 0 {
		// another consumer took it while this one was decoding
		_ = c.Release(b)
		return nil, QueueCtl{}, ErrNoMessage
	}
	return b, out, nil
}

func selectMessage(items []queuedFrame, ctl QueueCtl) int {
	for i, item := range items {
		switch {
		case ctl.Flags&DequeueByMsgID != 0:
			if item.MsgID == ctl.MsgID {
				return i
			}
		case ctl.Flags&DequeueByCorrID != 0:
			if item.CorrID == ctl.CorrID {
				return i
			}
		default:
			return i
		}
	}
	return -1
}

// List describes the messages of qname, oldest first.
func (q *QueueSpace) List(qname string) ([]QueuedMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items, ok := q.queues[qname]
	if !ok {
		return nil, fmt.Errorf("%w: queue %s", ErrNoEntry, qname)
	}
	out := make([]QueuedMessage, 0, len(items))
	for _, item := range items {
		out = append(out, item.QueuedMessage)
	}
	return out, nil
}

func (q *QueueSpace) Close() error {
	q.dec.Close()
	return q.enc.Close()
}
