package ops

import "github.com/danmuck/zerolink/internal/protocol/frame"

// Error codes carried in the first byte of an Error frame.
const (
	CodeUnspecified    byte = 0x00
	CodeInvalidRequest byte = 0x01
	CodeUnauthorized   byte = 0x02
	CodeUnknownRound   byte = 0x03
	CodeUnsupported    byte = 0x04
	CodeInternal       byte = 0x7F
)

// ErrorReply is the Error frame payload: one code byte then a UTF-8 message.
type ErrorReply struct {
	Code    byte
	Message string
}

func (m ErrorReply) MarshalBinary() ([]byte, error) {
	if 1+len(m.Message) > frame.MaxPayloadLen {
		return nil, frame.ErrPayloadTooLarge
	}
	buf := make([]byte, 1+len(m.Message))
	buf[0] = m.Code
	copy(buf[1:], m.Message)
	return buf, nil
}

// UnmarshalBinary accepts any length; an empty payload is code 0 with no message.
func (m *ErrorReply) UnmarshalBinary(b []byte) error {
	if len(b) == 0 {
		*m = ErrorReply{}
		return nil
	}
	m.Code = b[0]
	m.Message = string(b[1:])
	return nil
}

// EncodeError builds an Error frame payload.
func EncodeError(code byte, message string) ([]byte, error) {
	return ErrorReply{Code: code, Message: message}.MarshalBinary()
}

// DecodeError parses an Error frame payload. It never fails.
func DecodeError(payload []byte) ErrorReply {
	var reply ErrorReply
	_ = reply.UnmarshalBinary(payload)
	return reply
}

func CodeName(code byte) string {
	switch code {
	case CodeUnspecified:
		return "unspecified"
	case CodeInvalidRequest:
		return "invalid_request"
	case CodeUnauthorized:
		return "unauthorized"
	case CodeUnknownRound:
		return "unknown_round"
	case CodeUnsupported:
		return "unsupported"
	case CodeInternal:
		return "internal"
	default:
		return "unknown"
	}
}
