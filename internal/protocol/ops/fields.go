package ops

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/danmuck/zerolink/internal/protocol/frame"
)

var (
	ErrPayloadSize   = errors.New("ops: unexpected payload size")
	ErrInvalidString = fmt.Errorf("%w: string contains zero byte", frame.ErrEncoding)
)

// FieldOverflowError reports a string that does not fit its fixed region.
type FieldOverflowError struct {
	Field string
	Width int
	Len   int
}

func (e *FieldOverflowError) Error() string {
	return fmt.Sprintf("ops: field %s is %d bytes, region holds %d", e.Field, e.Len, e.Width)
}

func (e *FieldOverflowError) Unwrap() error {
	return frame.ErrEncoding
}

// writer fills a fixed-size payload left to right. The first error sticks.
type writer struct {
	buf []byte
	off int
	err error
}

func newWriter(size int) *writer {
	return &writer{buf: make([]byte, size)}
}

func (w *writer) str(field string, width int, v string) {
	if w.err != nil {
		return
	}
	raw := []byte(v)
	if len(raw) > width {
		w.err = &FieldOverflowError{Field: field, Width: width, Len: len(raw)}
		return
	}
	if bytes.IndexByte(raw, 0) >= 0 {
		w.err = fmt.Errorf("%w: field %s", ErrInvalidString, field)
		return
	}
	copy(w.buf[w.off:w.off+width], raw)
	w.off += width
}

func (w *writer) boolean(v bool) {
	if v {
		w.buf[w.off] = 1
	}
	w.off++
}

func (w *writer) u32(v uint32) {
	binary.BigEndian.PutUint32(w.buf[w.off:w.off+4], v)
	w.off += 4
}

func (w *writer) f32(v float32) {
	w.u32(math.Float32bits(v))
}

func (w *writer) i64(v int64) {
	binary.BigEndian.PutUint64(w.buf[w.off:w.off+8], uint64(v))
	w.off += 8
}

func (w *writer) bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

type reader struct {
	buf []byte
	off int
}

func newReader(b []byte, size int, what string) (*reader, error) {
	if len(b) != size {
		return nil, fmt.Errorf("%w: %s got=%d want=%d", ErrPayloadSize, what, len(b), size)
	}
	return &reader{buf: b}, nil
}

func (r *reader) str(width int) string {
	region := r.buf[r.off : r.off+width]
	r.off += width
	if i := bytes.IndexByte(region, 0); i >= 0 {
		region = region[:i]
	}
	return string(region)
}

func (r *reader) boolean() bool {
	v := r.buf[r.off] != 0
	r.off++
	return v
}

func (r *reader) u32() uint32 {
	v := binary.BigEndian.Uint32(r.buf[r.off : r.off+4])
	r.off += 4
	return v
}

func (r *reader) f32() float32 {
	return math.Float32frombits(r.u32())
}

func (r *reader) i64() int64 {
	v := binary.BigEndian.Uint64(r.buf[r.off : r.off+8])
	r.off += 8
	return int64(v)
}
