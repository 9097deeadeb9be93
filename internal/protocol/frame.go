// internal/protocol/frame.go
package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// MaxFrameSize bounds the body of one frame.
	MaxFrameSize = 64 << 20

	headerSize = 4
	slotSize   = 4
)

// Frame is one message addressed to a worker slot of a connection.
type Frame struct {
	Slot uint32
	Msg  Message
}

// AppendFrame appends the framed encoding of m to dst:
// u32 body length | u32 slot | u8 tag | fields.
func AppendFrame(dst []byte, slot uint32, m Message) []byte {
	body := Marshal(m)
	dst = binary.BigEndian.AppendUint32(dst, uint32(slotSize+len(body)))
	dst = binary.BigEndian.AppendUint32(dst, slot)
	return append(dst, body...)
}

// WriteFrame writes one frame with a single Write call.
func WriteFrame(w io.Writer, slot uint32, m Message) error {
	if _, err := w.Write(AppendFrame(nil, slot, m)); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", m.Tag(), err)
	}
	return nil
}

// Reader reads frames from a stream.
type Reader struct {
	r *bufio.Reader
}

// NewReader creates a frame reader on r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadFrame reads the next frame. The whole frame is always consumed, so a
// *SerializationError leaves the stream positioned at the next frame and the
// returned Frame still carries the slot when it could be read. Any other error
// (I/O failure, ErrFrameTooLarge) is fatal for the stream.
func (r *Reader) ReadFrame() (Frame, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r.r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}

	if n < slotSize {
		return Frame{}, &SerializationError{Field: "slot", Err: ErrTruncated}
	}
	f := Frame{Slot: binary.BigEndian.Uint32(body[:slotSize])}
	msg, err := Unmarshal(body[slotSize:])
	if err != nil {
		return f, err
	}
	f.Msg = msg
	return f, nil
}

// Expect reads the next frame and fails unless it carries the wanted tag.
func (r *Reader) Expect(want Tag) (Frame, error) {
	f, err := r.ReadFrame()
	if err != nil {
		return f, err
	}
	if f.Msg.Tag() != want {
		return f, &SerializationError{Tag: f.Msg.Tag(), Err: fmt.Errorf("%w: want %s", ErrTagMismatch, want)}
	}
	return f, nil
}
