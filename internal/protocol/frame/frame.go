package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	HeaderLen = 4

	// FireAndForgetID marks a frame that expects no reply.
	FireAndForgetID byte = 0xFF

	MaxPayloadLen = math.MaxUint16
)

var (
	ErrEncoding        = errors.New("frame: encoding error")
	ErrPayloadTooLarge = fmt.Errorf("%w: payload exceeds 16-bit length", ErrEncoding)
	ErrNeedMoreData    = errors.New("frame: need more data")
	ErrMalformed       = errors.New("frame: malformed")
)

// Frame is one complete wire message.
type Frame struct {
	Opcode        Opcode
	CorrelationID byte
	Payload       []byte
}

// Limits constrains decode memory use.
type Limits struct {
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 4 * 1024,
	}
}

// Encode builds header+payload for one frame.
func Encode(op Opcode, correlationID byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: len=%d", ErrPayloadTooLarge, len(payload))
	}
	buf := make([]byte, HeaderLen+len(payload))
	buf[0] = byte(op)
	buf[1] = correlationID
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(payload)))
	copy(buf[HeaderLen:], payload)
	return buf, nil
}

// Marshal encodes f.
func (f Frame) Marshal() ([]byte, error) {
	return Encode(f.Opcode, f.CorrelationID, f.Payload)
}

// Decode parses exactly one frame from b. It reports ErrNeedMoreData while b
// is shorter than the declared frame and ErrMalformed for oversized or
// trailing bytes.
func Decode(b []byte, limits Limits) (Frame, error) {
	if len(b) < HeaderLen {
		return Frame{}, ErrNeedMoreData
	}
	payloadLen := int(binary.BigEndian.Uint16(b[2:4]))
	if limits.MaxPayloadBytes > 0 && payloadLen > limits.MaxPayloadBytes {
		return Frame{}, fmt.Errorf("%w: payload_len=%d max=%d", ErrMalformed, payloadLen, limits.MaxPayloadBytes)
	}
	total := HeaderLen + payloadLen
	if len(b) < total {
		return Frame{}, ErrNeedMoreData
	}
	if len(b) > total {
		return Frame{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(b)-total)
	}
	payload := make([]byte, payloadLen)
	copy(payload, b[HeaderLen:total])
	return Frame{
		Opcode:        Opcode(b[0]),
		CorrelationID: b[1],
		Payload:       payload,
	}, nil
}

// PayloadLen returns the declared payload length of a header, or false when
// b holds less than a header.
func PayloadLen(b []byte) (int, bool) {
	if len(b) < HeaderLen {
		return 0, false
	}
	return int(binary.BigEndian.Uint16(b[2:4])), true
}
