package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/danmuck/typedbuf/internal/buffer"
)

const (
	HeaderLen        = 24
	Magic     uint32 = 0x54424631
	Version   uint16 = 1

	// FlagHasInline marks a fielded payload carrying inline wrapper frames.
	FlagHasInline uint8 = 0x01

	readChunk = 1 << 20
)

var (
	ErrBadMagic        = errors.New("wire: bad magic")
	ErrBadVersion      = errors.New("wire: unsupported version")
	ErrPayloadTooLarge = errors.New("wire: payload too large")
	ErrTooDeep         = errors.New("wire: wrapper nesting too deep")
	ErrTrailingBytes   = errors.New("wire: trailing bytes after frame")
	// ErrHandleInFrame reports an arena handle inside a frame; frames carry
	// nested buffers inline only.
	ErrHandleInFrame = errors.New("wire: arena handle inside frame")
)

// Header is the fixed frame header.
type Header struct {
	Magic       uint32
	Version     uint16
	Tag         buffer.Tag
	Flags       uint8
	SubtypeLen  uint16
	InlineCount uint32
	PayloadLen  uint64
}

// Size is the full frame length the header announces. DecodeHeader
// guarantees it fits an int.
func (h Header) Size() uint64 {
	return HeaderLen + uint64(h.SubtypeLen) + h.PayloadLen
}

// Limits constrains frame decode memory use and recursion.
type Limits struct {
	MaxPayloadBytes uint64
	MaxDepth        int
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 64 << 20,
		MaxDepth:        64,
	}
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	buf[6] = uint8(h.Tag)
	buf[7] = h.Flags
	binary.BigEndian.PutUint16(buf[8:10], h.SubtypeLen)
	binary.BigEndian.PutUint32(buf[12:16], h.InlineCount)
	binary.BigEndian.PutUint64(buf[16:24], h.PayloadLen)
	return buf
}

// DecodeHeader parses and checks the fixed header at the start of b.
func DecodeHeader(b []byte, limits Limits) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, buffer.DecodeTruncatedError{What: "frame header", Need: HeaderLen, Have: len(b)}
	}
	h := Header{
		Magic:       binary.BigEndian.Uint32(b[0:4]),
		Version:     binary.BigEndian.Uint16(b[4:6]),
		Tag:         buffer.Tag(b[6]),
		Flags:       b[7],
		SubtypeLen:  binary.BigEndian.Uint16(b[8:10]),
		InlineCount: binary.BigEndian.Uint32(b[12:16]),
		PayloadLen:  binary.BigEndian.Uint64(b[16:24]),
	}
	if h.Magic != Magic {
		return Header{}, fmt.Errorf("%w: %#x", ErrBadMagic, h.Magic)
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("%w: %d", ErrBadVersion, h.Version)
	}
	if !h.Tag.Valid() {
		return Header{}, fmt.Errorf("%w: %d", buffer.ErrUnknownTag, uint8(h.Tag))
	}
	if limits.MaxPayloadBytes > 0 && h.PayloadLen > limits.MaxPayloadBytes {
		return Header{}, ErrPayloadTooLarge
	}
	if h.PayloadLen > uint64(math.MaxInt-HeaderLen-int(h.SubtypeLen)) {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, h.PayloadLen)
	}
	return h, nil
}

// ReadFrame reads exactly one frame from r.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	head := make([]byte, HeaderLen)
	if n, err := io.ReadFull(r, head); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, buffer.DecodeTruncatedError{What: "frame header", Need: HeaderLen, Have: n}
		}
		return nil, err
	}
	h, err := DecodeHeader(head, limits)
	if err != nil {
		return nil, err
	}
	// The body buffer grows as bytes arrive, so a lying header cannot force
	// a large allocation up front.
	body := int64(h.Size()) - HeaderLen
	var data bytes.Buffer
	data.Grow(HeaderLen + int(min(body, readChunk)))
	data.Write(head)
	if n, err := io.CopyN(&data, r, body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, buffer.DecodeTruncatedError{What: "frame body", Need: int(body), Have: int(n)}
		}
		return nil, err
	}
	return data.Bytes(), nil
}

// WriteFrame writes the frame of b to w.
func WriteFrame(w io.Writer, res *buffer.Resolver, b buffer.Buffer) error {
	data, err := Marshal(res, b)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
