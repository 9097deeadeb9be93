// internal/protocol/codec.go
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// AppendBytes appends the byte-array encoding of b to dst: a u32 length, then the raw bytes.
func AppendBytes(dst, b []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

// WriteBytes writes the byte-array encoding of b to w.
func WriteBytes(w io.Writer, b []byte) error {
	if _, err := w.Write(AppendBytes(make([]byte, 0, 4+len(b)), b)); err != nil {
		return fmt.Errorf("failed to write byte array: %w", err)
	}
	return nil
}

// ReadBytes reads one byte array written by WriteBytes. A short input
// yields a SerializationError wrapping ErrTruncated.
func ReadBytes(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, &SerializationError{Field: "length", Err: truncated(err)}
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, &SerializationError{Field: "length", Err: ErrFrameTooLarge}
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, &SerializationError{Field: "data", Err: truncated(err)}
	}
	return b, nil
}

func truncated(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrTruncated
	}
	return err
}

// Marshal encodes m as a message body: the tag followed by its fields.
func Marshal(m Message) []byte {
	e := &encoder{buf: make([]byte, 0, 64)}
	e.buf = append(e.buf, byte(m.Tag()))
	m.encode(e)
	return e.buf
}

// Unmarshal decodes a message body produced by Marshal.
func Unmarshal(body []byte) (Message, error) {
	if len(body) == 0 {
		return nil, &SerializationError{Field: "tag", Err: ErrTruncated}
	}
	d := &decoder{tag: Tag(body[0]), buf: body[1:]}

	var m Message
	switch d.tag {
	case TagNewWorker:
		m = NewWorker{Accelerated: d.bool("is_accelerated")}
	case TagAssign:
		m = Assign{
			Width:      d.u32("width"),
			Height:     d.u32("height"),
			Iterations: d.u32("iterations"),
			TaskID:     d.u32("task_id"),
			MinRe:      d.f32("min_re"),
			MaxRe:      d.f32("max_re"),
			MinIm:      d.f32("min_im"),
			MaxIm:      d.f32("max_im"),
		}
	case TagResult:
		m = Result{
			TaskID:      d.u32("task_id"),
			Payload:     d.bytes("payload"),
			Accelerated: d.bool("is_accelerated"),
		}
	case TagGetWorkers:
		m = GetWorkers{}
	case TagInit:
		m = Init{Sink: string(d.bytes("display_sink"))}
	case TagDone:
		m = Done{Total: d.u32("total_count")}
	case TagQuit:
		m = Quit{}
	case TagExit:
		m = Exit{Reason: ExitReason(d.u32("reason"))}
	default:
		return nil, &SerializationError{Tag: d.tag, Field: "tag", Err: ErrUnknownTag}
	}

	if d.err != nil {
		return nil, d.err
	}
	if len(d.buf) != 0 {
		return nil, &SerializationError{Tag: d.tag, Err: fmt.Errorf("%w: %d", ErrTrailingBytes, len(d.buf))}
	}
	return m, nil
}

type encoder struct {
	buf []byte
}

func (e *encoder) u32(v uint32) { e.buf = binary.BigEndian.AppendUint32(e.buf, v) }
func (e *encoder) f32(v float32) { e.u32(math.Float32bits(v)) }
func (e *encoder) bytes(b []byte) { e.buf = AppendBytes(e.buf, b) }

func (e *encoder) bool(v bool) {
	if v {
		e.buf = append(e.buf, 1)
		return
	}
	e.buf = append(e.buf, 0)
}

// decoder reads fields in order and keeps the first error.
type decoder struct {
	tag Tag
	buf []byte
	err error
}

func (d *decoder) take(field string, n uint64) []byte {
	if d.err != nil {
		return nil
	}
	if uint64(len(d.buf)) < n {
		d.err = &SerializationError{
			Tag:   d.tag,
			Field: field,
			Err:   fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, n, len(d.buf)),
		}
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) u32(field string) uint32 {
	b := d.take(field, 4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *decoder) f32(field string) float32 { return math.Float32frombits(d.u32(field)) }

func (d *decoder) bool(field string) bool {
	b := d.take(field, 1)
	if b == nil {
		return false
	}
	return b[0] != 0
}

func (d *decoder) bytes(field string) []byte {
	n := d.u32(field)
	b := d.take(field, uint64(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (m NewWorker) encode(e *encoder) { e.bool(m.Accelerated) }

func (m Assign) encode(e *encoder) {
	e.u32(m.Width)
	e.u32(m.Height)
	e.u32(m.Iterations)
	e.u32(m.TaskID)
	e.f32(m.MinRe)
	e.f32(m.MaxRe)
	e.f32(m.MinIm)
	e.f32(m.MaxIm)
}

func (m Result) encode(e *encoder) {
	e.u32(m.TaskID)
	e.bytes(m.Payload)
	e.bool(m.Accelerated)
}

func (GetWorkers) encode(*encoder) {}

func (m Init) encode(e *encoder) { e.bytes([]byte(m.Sink)) }

func (m Done) encode(e *encoder) { e.u32(m.Total) }

func (Quit) encode(*encoder) {}

func (m Exit) encode(e *encoder) { e.u32(uint32(m.Reason)) }
