package frame

import (
	"errors"
	"fmt"
)

// Assembler accumulates transport chunks until a logical message is complete
// and then decodes it as one frame. It is not safe for concurrent use; the
// receive loop that owns it is the only caller.
type Assembler struct {
	limits Limits
	buf    []byte
	// dropped counts bytes of an overflowed message; nonzero means the rest
	// of the message is discarded.
	dropped int
}

func NewAssembler(limits Limits) *Assembler {
	return &Assembler{limits: limits}
}

// Feed appends chunk. Until endOfMessage it returns ok=false. At end of
// message the buffer is decoded and reset regardless of the outcome. A
// message longer than its header declares, or declaring more than
// MaxPayloadBytes, stops being buffered and completes with ErrMalformed.
func (a *Assembler) Feed(chunk []byte, endOfMessage bool) (Frame, bool, error) {
	if a.dropped > 0 {
		a.dropped += len(chunk)
	} else {
		a.buf = append(a.buf, chunk...)
		if a.overflowed() {
			a.dropped = len(a.buf)
			a.buf = a.buf[:0]
		}
	}
	if !endOfMessage {
		return Frame{}, false, nil
	}

	if a.dropped > 0 {
		size := a.dropped
		a.dropped = 0
		return Frame{}, true, fmt.Errorf("%w: message of %d bytes exceeds its frame", ErrMalformed, size)
	}
	msg := a.buf
	a.buf = a.buf[:0]
	f, err := Decode(msg, a.limits)
	if errors.Is(err, ErrNeedMoreData) {
		return Frame{}, true, fmt.Errorf("%w: truncated message of %d bytes", ErrMalformed, len(msg))
	}
	if err != nil {
		return Frame{}, true, err
	}
	return f, true, nil
}

func (a *Assembler) overflowed() bool {
	n, ok := PayloadLen(a.buf)
	if !ok {
		return false
	}
	if a.limits.MaxPayloadBytes > 0 && n > a.limits.MaxPayloadBytes {
		return true
	}
	return len(a.buf) > HeaderLen+n
}

// Buffered returns the number of bytes held for the current message.
func (a *Assembler) Buffered() int {
	return len(a.buf)
}

func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
	a.dropped = 0
}
