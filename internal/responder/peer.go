package responder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/zerolink/internal/observability"
	"github.com/danmuck/zerolink/internal/protocol/frame"
	"github.com/danmuck/zerolink/internal/protocol/ops"
	"github.com/danmuck/zerolink/internal/transport"
	"github.com/rs/zerolog"
)

// peer serves one accepted connection: a single read loop plus one
// goroutine per request.
type peer struct {
	srv  *Server
	conn transport.Conn
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type remoteAddresser interface {
	RemoteAddr() string
}

func newPeer(srv *Server, conn transport.Conn) *peer {
	ctx, cancel := context.WithCancel(context.Background())
	logger := srv.log
	if ra, ok := conn.(remoteAddresser); ok {
		logger = logger.With().Str("remote", ra.RemoteAddr()).Logger()
	}
	return &peer{srv: srv, conn: conn, log: logger, ctx: ctx, cancel: cancel}
}

func (p *peer) serve() {
	p.log.Info().Msg("responder.peer connected")
	asm := frame.NewAssembler(p.srv.cfg.Limits)
	var readErr error
	for {
		chunk, eom, err := p.conn.Receive()
		if err != nil {
			readErr = err
			break
		}
		f, ok, err := asm.Feed(chunk, eom)
		if !ok {
			continue
		}
		if err != nil {
			p.log.Warn().Err(err).Msg("responder.peer drop frame")
			observability.RecordDroppedFrame("malformed")
			continue
		}
		p.dispatch(f)
	}

	p.cancel()
	p.wg.Wait()
	_ = p.conn.Close()

	event := p.log.Info()
	if readErr != nil && !errors.Is(readErr, transport.ErrClosed) {
		event = p.log.Warn().Err(readErr)
	}
	event.Msg("responder.peer disconnected")
}

func (p *peer) dispatch(f frame.Frame) {
	switch {
	case f.Opcode == frame.OpPing:
		observability.RecordHeartbeat("in", f.Opcode.String())
		p.write(frame.OpPong, f.CorrelationID, nil)
	case f.Opcode == frame.OpPong:
		observability.RecordHeartbeat("in", f.Opcode.String())
	case f.Opcode.IsOperation():
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.handle(f)
		}()
	default:
		p.log.Debug().Str("op", f.Opcode.String()).Uint8("id", f.CorrelationID).Msg("responder.peer unsupported opcode")
		observability.RecordDroppedFrame("unknown_opcode")
		if f.CorrelationID != frame.FireAndForgetID {
			p.replyError(f, &ReplyError{Code: ops.CodeUnsupported, Message: fmt.Sprintf("opcode %s not supported", f.Opcode)})
		}
	}
}

func (p *peer) handle(f frame.Frame) {
	reply, err := p.invoke(f)
	if f.CorrelationID == frame.FireAndForgetID {
		if err != nil {
			p.log.Debug().Str("op", f.Opcode.String()).Err(err).Msg("responder.peer fire-and-forget rejected")
		}
		observability.RecordResponderRequest(f.Opcode.String(), resultCode(err))
		return
	}
	if err != nil {
		p.replyError(f, err)
		return
	}
	observability.RecordResponderRequest(f.Opcode.String(), "ok")
	p.write(frame.OpSuccess, f.CorrelationID, reply)
}

func (p *peer) invoke(f frame.Frame) ([]byte, error) {
	h := p.srv.handler
	switch f.Opcode {
	case frame.OpLogin:
		var req ops.LoginRequest
		if err := req.UnmarshalBinary(f.Payload); err != nil {
			return nil, invalid(err)
		}
		resp, err := h.Login(p.ctx, req)
		if err != nil {
			return nil, err
		}
		return resp.MarshalBinary()
	case frame.OpRoundStart:
		var req ops.RoundStartRequest
		if err := req.UnmarshalBinary(f.Payload); err != nil {
			return nil, invalid(err)
		}
		resp, err := h.RoundStart(p.ctx, req)
		if err != nil {
			return nil, err
		}
		return resp.MarshalBinary()
	case frame.OpRoundEnd:
		var req ops.RoundEndRequest
		if err := req.UnmarshalBinary(f.Payload); err != nil {
			return nil, invalid(err)
		}
		resp, err := h.RoundEnd(p.ctx, req)
		if err != nil {
			return nil, err
		}
		return resp.MarshalBinary()
	case frame.OpUpdatePlayerState:
		var state ops.PlayerState
		if err := state.UnmarshalBinary(f.Payload); err != nil {
			return nil, invalid(err)
		}
		// acknowledged with an empty Success when sent with a real id
		return nil, h.UpdatePlayerState(p.ctx, state)
	default:
		return nil, &ReplyError{Code: ops.CodeUnsupported, Message: fmt.Sprintf("opcode %s not supported", f.Opcode)}
	}
}

func invalid(err error) *ReplyError {
	return &ReplyError{Code: ops.CodeInvalidRequest, Message: err.Error()}
}

func (p *peer) replyError(f frame.Frame, err error) {
	var replyErr *ReplyError
	if !errors.As(err, &replyErr) {
		p.log.Error().Str("op", f.Opcode.String()).Err(err).Msg("responder.peer handler failed")
		replyErr = &ReplyError{Code: ops.CodeInternal, Message: err.Error()}
	}
	observability.RecordResponderRequest(f.Opcode.String(), ops.CodeName(replyErr.Code))
	payload, mErr := ops.EncodeError(replyErr.Code, replyErr.Message)
	if mErr != nil {
		payload = []byte{replyErr.Code}
	}
	p.write(frame.OpError, f.CorrelationID, payload)
}

func resultCode(err error) string {
	if err == nil {
		return "ok"
	}
	var replyErr *ReplyError
	if errors.As(err, &replyErr) {
		return ops.CodeName(replyErr.Code)
	}
	return ops.CodeName(ops.CodeInternal)
}

// write sends one frame; the ws transport serializes concurrent writers.
func (p *peer) write(op frame.Opcode, id byte, payload []byte) {
	raw, err := frame.Encode(op, id, payload)
	if err != nil {
		p.log.Error().Str("op", op.String()).Err(err).Msg("responder.peer encode reply")
		return
	}
	if err := p.conn.Send(p.ctx, raw); err != nil && !errors.Is(err, context.Canceled) {
		p.log.Debug().Str("op", op.String()).Uint8("id", id).Err(err).Msg("responder.peer write")
	}
}
