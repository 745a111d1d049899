package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/nik012003/voyeurs/internal/playback"
)

// Wire format: a big-endian uint32 payload length, then the payload.
// Payload layout: 1 tag byte followed by fixed-order big-endian fields.
// Strings are a uint16 length plus UTF-8 bytes, floats are IEEE-754 bits,
// bools are a single byte.

const (
	tagHello byte = iota
	tagFullState
	tagStateDelta
	tagPing
	tagPong
	tagError
)

// MaxFrameSize bounds a single payload. Anything larger is treated as a
// corrupt length prefix, not a legitimate message.
const MaxFrameSize = 64 * 1024

var (
	// ErrMalformed marks truncated, corrupt, or oversized input. The
	// connection must be closed; there is no way to resynchronize a
	// byte stream after a bad frame.
	ErrMalformed = errors.New("protocol: malformed message")
	// ErrUnsupportedVersion marks a Hello whose protocol version is not
	// recognized. The connection must be closed.
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")
)

// Encode serializes a message into a payload without the length prefix.
func Encode(m Message) ([]byte, error) {
	var buf bytes.Buffer
	switch msg := m.(type) {
	case Hello:
		buf.WriteByte(tagHello)
		writeUint32(&buf, msg.ProtocolVersion)
		writeString(&buf, msg.Name)
	case FullState:
		buf.WriteByte(tagFullState)
		writeState(&buf, msg.State)
	case StateDelta:
		buf.WriteByte(tagStateDelta)
		writeState(&buf, msg.State)
	case Ping:
		buf.WriteByte(tagPing)
		writeInt64(&buf, msg.SentTime)
	case Pong:
		buf.WriteByte(tagPong)
		writeInt64(&buf, msg.EchoedTime)
	case Error:
		buf.WriteByte(tagError)
		writeString(&buf, msg.Reason)
	default:
		return nil, fmt.Errorf("protocol: cannot encode %T", m)
	}
	if buf.Len() > MaxFrameSize {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", ErrMalformed, MaxFrameSize)
	}
	return buf.Bytes(), nil
}

// Decode parses a payload produced by Encode. It returns ErrMalformed on
// truncated or corrupt input and ErrUnsupportedVersion on a Hello carrying
// an unknown protocol version.
func Decode(payload []byte) (Message, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	r := &fieldReader{buf: payload[1:]}
	var msg Message
	switch payload[0] {
	case tagHello:
		ver := r.uint32()
		name := r.string()
		if r.err == nil && ver != Version {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, ver, Version)
		}
		msg = Hello{ProtocolVersion: ver, Name: name}
	case tagFullState:
		msg = FullState{State: r.state()}
	case tagStateDelta:
		msg = StateDelta{State: r.state()}
	case tagPing:
		msg = Ping{SentTime: r.int64()}
	case tagPong:
		msg = Pong{EchoedTime: r.int64()}
	case tagError:
		msg = Error{Reason: r.string()}
	default:
		return nil, fmt.Errorf("%w: unknown tag 0x%02x", ErrMalformed, payload[0])
	}
	if r.err != nil {
		return nil, r.err
	}
	if len(r.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after %T", ErrMalformed, len(r.buf), msg)
	}
	return msg, nil
}

// ReadFrame reads one length-prefixed payload from a byte stream.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame length %d", ErrMalformed, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated frame: %v", ErrMalformed, err)
		}
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes one length-prefixed payload to a byte stream.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 || len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: frame length %d", ErrMalformed, len(payload))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func writeState(buf *bytes.Buffer, s playback.State) {
	writeUint64(buf, s.Epoch)
	writeString(buf, s.MediaRef)
	writeFloat64(buf, s.Position)
	writeBool(buf, s.Paused)
	writeFloat64(buf, s.Rate)
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeInt64(buf *bytes.Buffer, v int64) {
	writeUint64(buf, uint64(v))
}

func writeFloat64(buf *bytes.Buffer, v float64) {
	writeUint64(buf, math.Float64bits(v))
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func writeString(buf *bytes.Buffer, s string) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(len(s)))
	buf.Write(b[:])
	buf.WriteString(s)
}

// fieldReader consumes fixed-order fields from a payload, latching the
// first error so call sites check once at the end.
type fieldReader struct {
	buf []byte
	err error
}

func (r *fieldReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < n {
		r.err = fmt.Errorf("%w: truncated field", ErrMalformed)
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *fieldReader) uint32() uint32 {
	b := r.take(4)
	if r.err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *fieldReader) uint64() uint64 {
	b := r.take(8)
	if r.err != nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *fieldReader) int64() int64 {
	return int64(r.uint64())
}

func (r *fieldReader) float64() float64 {
	return math.Float64frombits(r.uint64())
}

func (r *fieldReader) bool() bool {
	b := r.take(1)
	if r.err != nil {
		return false
	}
	return b[0] != 0
}

func (r *fieldReader) string() string {
	b := r.take(2)
	if r.err != nil {
		return ""
	}
	n := int(binary.BigEndian.Uint16(b))
	s := r.take(n)
	if r.err != nil {
		return ""
	}
	return string(s)
}

func (r *fieldReader) state() playback.State {
	return playback.State{
		Epoch:    r.uint64(),
		MediaRef: r.string(),
		Position: r.float64(),
		Paused:   r.bool(),
		Rate:     r.float64(),
	}
}
