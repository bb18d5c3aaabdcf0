package frame

import "fmt"

// Opcode identifies the operation or outcome carried by a frame.
type Opcode byte

// Operation opcodes, initiator -> responder.
const (
	OpLogin             Opcode = 0x01
	OpRoundStart        Opcode = 0x03
	OpRoundEnd          Opcode = 0x04
	OpUpdatePlayerState Opcode = 0x05
)

// Outcome and control opcodes.
const (
	OpSuccess Opcode = 0x80
	OpPong    Opcode = 0xFD
	OpPing    Opcode = 0xFE
	OpError   Opcode = 0xFF
)

func (o Opcode) IsOperation() bool {
	switch o {
	case OpLogin, OpRoundStart, OpRoundEnd, OpUpdatePlayerState:
		return true
	}
	return false
}

// IsOutcome reports whether o completes a pending request.
func (o Opcode) IsOutcome() bool {
	return o == OpSuccess || o == OpError
}

func (o Opcode) IsHeartbeat() bool {
	return o == OpPing || o == OpPong
}

func (o Opcode) String() string {
	switch o {
	case OpLogin:
		return "login"
	case OpRoundStart:
		return "round_start"
	case OpRoundEnd:
		return "round_end"
	case OpUpdatePlayerState:
		return "update_player_state"
	case OpSuccess:
		return "success"
	case OpPong:
		return "pong"
	case OpPing:
		return "ping"
	case OpError:
		return "error"
	default:
		return fmt.Sprintf("opcode(0x%02x)", byte(o))
	}
}
