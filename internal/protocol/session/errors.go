package session

import (
	"errors"
	"fmt"

	"github.com/danmuck/zerolink/internal/protocol/ops"
)

var (
	ErrAddressRequired  = errors.New("session: address required")
	ErrDialerRequired   = errors.New("session: dialer required")
	ErrNotConnected     = errors.New("session: not connected")
	ErrAlreadyConnected = errors.New("session: already connected")
	ErrTimeout          = errors.New("session: request timeout")
	ErrConnectionClosed = errors.New("session: connection closed")
	ErrHeartbeatLost    = errors.New("session: heartbeat lost")
)

// ServerError is decoded from an Error frame sent in reply to a request.
type ServerError struct {
	Code    byte
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("session: server error code=%d (%s)", e.Code, ops.CodeName(e.Code))
	}
	return fmt.Sprintf("session: server error code=%d (%s): %s", e.Code, ops.CodeName(e.Code), e.Message)
}

func serverErrorFromPayload(payload []byte) *ServerError {
	reply := ops.DecodeError(payload)
	return &ServerError{Code: reply.Code, Message: reply.Message}
}
