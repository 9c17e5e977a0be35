package peering

import (
	"encoding/binary"
	"io"
)

// MaxFrameLength bounds the declared length of a single peer message.
const MaxFrameLength = 1 << 16

// Framer turns an accumulating byte stream into peer messages. Bytes are
// added with Feed and messages taken out with Next.
type Framer struct {
	buf []byte
}

func (f *Framer) Feed(p []byte) {
	f.buf = append(f.buf, p...)
}

// Buffered reports how many bytes are waiting to be framed.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Next extracts one message. It returns (nil, nil) when the buffer does not
// yet hold a complete frame; partial frames stay buffered. Keep-alives are
// consumed silently.
func (f *Framer) Next() (*Message, error) {
	for {
		if len(f.buf) < 4 {
			return nil, nil
		}

		length := binary.BigEndian.Uint32(f.buf[:4])
		if length == 0 {
			f.consume(4)
			continue
		}
		if length > MaxFrameLength {
			return nil, protocolErrorf("frame of length %d exceeds %d", length, MaxFrameLength)
		}

		frameEnd := 4 + int(length)
		if len(f.buf) < frameEnd {
			return nil, nil
		}

		id := MessageID(f.buf[4])
		if !id.Valid() {
			return nil, protocolErrorf("invalid message id %d", f.buf[4])
		}
		payload := make([]byte, frameEnd-5)
		copy(payload, f.buf[5:frameEnd])
		f.consume(frameEnd)

		return &Message{ID: id, Payload: payload}, nil
	}
}

func (f *Framer) consume(n int) {
	remaining := copy(f.buf, f.buf[n:])
	f.buf = f.buf[:remaining]
}

// Encode frames msg as length prefix, id byte and payload.
func (msg Message) Encode() ([]byte, error) {
	length := len(msg.Payload) + 1
	if length > MaxFrameLength {
		return nil, protocolErrorf("message %s of length %d exceeds %d", msg.ID, length, MaxFrameLength)
	}

	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], uint32(length))
	buf[4] = byte(msg.ID)
	copy(buf[5:], msg.Payload)
	return buf, nil
}

// MessageConn reads and writes framed messages over a byte stream.
type MessageConn struct {
	rw      io.ReadWriter
	framer  Framer
	scratch []byte
}

func NewMessageConn(rw io.ReadWriter) *MessageConn {
	return &MessageConn{rw: rw, scratch: make([]byte, 32*1024)}
}

// ReadMessage blocks until a whole message has arrived.
func (c *MessageConn) ReadMessage() (*Message, error) {
	for {
		msg, err := c.framer.Next()
		if err != nil || msg != nil {
			return msg, err
		}

		n, err := c.rw.Read(c.scratch)
		c.framer.Feed(c.scratch[:n])
		if err != nil {
			if msg, ferr := c.framer.Next(); msg != nil || ferr != nil {
				return msg, ferr
			}
			return nil, &TransportError{Op: "read message", Err: err}
		}
	}
}

func (c *MessageConn) WriteMessage(msg Message) error {
	buf, err := msg.Encode()
	if err != nil {
		return err
	}
	if _, err := c.rw.Write(buf); err != nil {
		return &TransportError{Op: "write " + msg.ID.String(), Err: err}
	}
	return nil
}
