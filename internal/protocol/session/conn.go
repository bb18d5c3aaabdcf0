package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/zerolink/internal/logging"
	"github.com/danmuck/zerolink/internal/observability"
	"github.com/danmuck/zerolink/internal/protocol/frame"
	"github.com/danmuck/zerolink/internal/transport"
	"github.com/rs/zerolog"
)

// State is the connection lifecycle position.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// link is one established transport and the goroutines serving it.
type link struct {
	tr       transport.Conn
	done     chan struct{}
	stop     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
	closeErr error
}

// connectAttempt lets Close abort a Connect that has not published its link.
type connectAttempt struct {
	cancel  context.CancelFunc
	aborted bool
}

// Conn multiplexes correlated requests over one transport connection.
type Conn struct {
	addr   string
	dialer transport.Dialer
	cfg    Config
	table  *PendingTable
	log    zerolog.Logger
	rng    *rand.Rand

	mu         sync.Mutex
	state      State
	cur        *link
	connecting *connectAttempt
	lastErr    error

	writeMu       sync.Mutex
	lastHeartbeat atomic.Int64
}

func NewConn(addr string, dialer transport.Dialer, cfg Config) (*Conn, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, ErrAddressRequired
	}
	if dialer == nil {
		return nil, ErrDialerRequired
	}
	return &Conn{
		addr:   strings.TrimSpace(addr),
		dialer: dialer,
		cfg:    cfg.WithDefaults(),
		table:  NewPendingTable(),
		log:    logging.Component("session").With().Str("addr", strings.TrimSpace(addr)).Logger(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Connect dials the transport, retrying with backoff, and starts the
// receive loop (and heartbeat when configured).
func (c *Conn) Connect(ctx context.Context) error {
	connectCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	attempt := &connectAttempt{cancel: cancel}

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.connecting = attempt
	c.mu.Unlock()

	tr, err := c.dial(connectCtx)

	c.mu.Lock()
	c.connecting = nil
	if attempt.aborted {
		err = fmt.Errorf("%w: closed while connecting", ErrConnectionClosed)
	}
	if err != nil {
		c.state = StateDisconnected
		c.lastErr = err
		c.mu.Unlock()
		if tr != nil {
			_ = tr.Close()
		}
		return err
	}
	l := &link{
		tr:   tr,
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}
	c.cur = l
	c.state = StateOpen
	c.lastErr = nil
	c.mu.Unlock()
	c.touchHeartbeat()

	l.wg.Add(1)
	go c.receiveLoop(l)
	if c.cfg.HeartbeatInterval > 0 {
		l.wg.Add(1)
		go c.heartbeatLoop(l)
	}
	c.log.Info().Msg("session.Conn open")
	return nil
}

func (c *Conn) dial(ctx context.Context) (transport.Conn, error) {
	var attempt int
	for {
		attempt++
		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		tr, err := c.dialer.Dial(dialCtx, c.addr)
		cancel()
		if err == nil {
			return tr, nil
		}
		c.log.Warn().Int("attempt", attempt).Err(err).Msg("session.Conn dial")
		if !c.shouldRetry(attempt) {
			return nil, err
		}
		if err := c.sleepBackoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

func (c *Conn) shouldRetry(attempt int) bool {
	if c.cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < c.cfg.MaxConnectAttempts
}

func (c *Conn) sleepBackoff(ctx context.Context, attempt int) error {
	delay := c.cfg.Backoff.Delay(attempt, c.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close stops the connection and rejects every pending request with
// ErrConnectionClosed. A Connect still dialing is aborted and returns
// ErrConnectionClosed. Closing a disconnected Conn is a no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	if a := c.connecting; a != nil {
		a.aborted = true
		a.cancel()
	}
	l := c.cur
	c.mu.Unlock()
	if l == nil {
		return nil
	}
	c.shutdown(l, nil)
	l.wg.Wait()
	return l.closeErr
}

// shutdown runs once per link: Open -> Closing -> Disconnected.
func (c *Conn) shutdown(l *link, cause error) {
	l.once.Do(func() {
		c.mu.Lock()
		if c.cur == l {
			c.state = StateClosing
		}
		c.mu.Unlock()

		close(l.stop)
		l.closeErr = l.tr.Close()

		rejectErr := ErrConnectionClosed
		if cause != nil {
			rejectErr = fmt.Errorf("%w: %w", ErrConnectionClosed, cause)
		}
		n := c.table.FailAll(rejectErr)

		c.mu.Lock()
		if c.cur == l {
			c.cur = nil
			c.state = StateDisconnected
			c.lastErr = cause
		}
		c.mu.Unlock()
		close(l.done)

		event := c.log.Info()
		if cause != nil {
			event = c.log.Warn().Err(cause)
		}
		event.Int("rejected", n).Msg("session.Conn closed")
	})
}

func (c *Conn) openLink() (*link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen || c.cur == nil {
		return nil, ErrNotConnected
	}
	return c.cur, nil
}

// Request sends op with a fresh correlation id and waits for the matching
// Success frame. Error frames surface as *ServerError.
func (c *Conn) Request(ctx context.Context, op frame.Opcode, payload []byte, opts ...CallOption) (frame.Frame, error) {
	call := callConfig{timeout: c.cfg.RequestTimeout}
	for _, opt := range opts {
		opt(&call)
	}

	l, err := c.openLink()
	if err != nil {
		return frame.Frame{}, err
	}
	if len(payload) > frame.MaxPayloadLen {
		return frame.Frame{}, fmt.Errorf("%w: len=%d", frame.ErrPayloadTooLarge, len(payload))
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, call.timeout)
	defer cancel()

	p, err := c.table.Register(callCtx, op, start, start.Add(call.timeout))
	if err != nil {
		err = callError(err)
		c.record(op, err, start)
		return frame.Frame{}, err
	}

	raw, err := frame.Encode(op, p.ID, payload)
	if err != nil {
		c.table.Cancel(p.ID)
		return frame.Frame{}, err
	}
	if err := c.write(callCtx, l, raw); err != nil {
		c.table.Cancel(p.ID)
		observability.RecordRequest(op.String(), observability.OutcomeSendFailed, time.Since(start))
		return frame.Frame{}, err
	}

	var out Outcome
	select {
	case out = <-p.Done():
	case <-callCtx.Done():
		if c.table.Cancel(p.ID) {
			out = Outcome{Err: callError(callCtx.Err())}
			c.log.Debug().Uint8("id", p.ID).Str("op", op.String()).Err(out.Err).Msg("session.Conn request abandoned")
		} else {
			out = <-p.Done()
		}
	case <-l.done:
		if c.table.Cancel(p.ID) {
			out = Outcome{Err: ErrConnectionClosed}
		} else {
			out = <-p.Done()
		}
	}
	c.record(op, out.Err, start)
	return out.Frame, out.Err
}

func callError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

func (c *Conn) record(op frame.Opcode, err error, start time.Time) {
	outcome := observability.OutcomeSuccess
	var serverErr *ServerError
	switch {
	case err == nil:
	case errors.As(err, &serverErr):
		outcome = observability.OutcomeServerError
	case errors.Is(err, ErrTimeout):
		outcome = observability.OutcomeTimeout
	case errors.Is(err, ErrConnectionClosed):
		outcome = observability.OutcomeClosed
	default:
		outcome = observability.OutcomeCanceled
	}
	observability.RecordRequest(op.String(), outcome, time.Since(start))
}

// Send writes op with the fire-and-forget id. Nothing is registered and no
// reply is awaited.
func (c *Conn) Send(ctx context.Context, op frame.Opcode, payload []byte) error {
	l, err := c.openLink()
	if err != nil {
		return err
	}
	raw, err := frame.Encode(op, frame.FireAndForgetID, payload)
	if err != nil {
		return err
	}
	if err := c.write(ctx, l, raw); err != nil {
		return err
	}
	observability.RecordFireAndForget(op.String())
	return nil
}

// write holds the write lock for one whole frame.
func (c *Conn) write(ctx context.Context, l *link, raw []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	writeCtx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	return l.tr.Send(writeCtx, raw)
}

func (c *Conn) receiveLoop(l *link) {
	defer l.wg.Done()
	asm := frame.NewAssembler(c.cfg.Limits)
	for {
		chunk, eom, err := l.tr.Receive()
		if err != nil {
			c.shutdown(l, err)
			return
		}
		f, ok, err := asm.Feed(chunk, eom)
		if !ok {
			continue
		}
		if err != nil {
			c.log.Warn().Err(err).Msg("session.Conn drop frame")
			observability.RecordDroppedFrame("malformed")
			continue
		}
		c.dispatch(l, f)
	}
}

func (c *Conn) dispatch(l *link, f frame.Frame) {
	switch f.Opcode {
	case frame.OpSuccess, frame.OpError:
		out := Outcome{Frame: f}
		if f.Opcode == frame.OpError {
			out = Outcome{Err: serverErrorFromPayload(f.Payload)}
		}
		if !c.table.Resolve(f.CorrelationID, out) {
			c.log.Debug().Uint8("id", f.CorrelationID).Str("op", f.Opcode.String()).Msg("session.Conn unmatched reply")
			observability.RecordDroppedFrame("unmatched")
		}
	case frame.OpPong:
		c.touchHeartbeat()
		observability.RecordHeartbeat("in", f.Opcode.String())
	case frame.OpPing:
		c.touchHeartbeat()
		observability.RecordHeartbeat("in", f.Opcode.String())
		l.wg.Add(1)
		go func(id byte) {
			defer l.wg.Done()
			c.sendControl(l, frame.OpPong, id)
		}(f.CorrelationID)
	default:
		c.log.Debug().Str("op", f.Opcode.String()).Msg("session.Conn unknown opcode")
		observability.RecordDroppedFrame("unknown_opcode")
	}
}

func (c *Conn) heartbeatLoop(l *link) {
	defer l.wg.Done()
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			if c.cfg.SessionDeadAfter > 0 && time.Since(c.LastHeartbeat()) > c.cfg.SessionDeadAfter {
				c.shutdown(l, ErrHeartbeatLost)
				return
			}
			c.sendControl(l, frame.OpPing, frame.FireAndForgetID)
		}
	}
}

func (c *Conn) sendControl(l *link, op frame.Opcode, id byte) {
	raw, _ := frame.Encode(op, id, nil)
	if err := c.write(context.Background(), l, raw); err != nil {
		c.log.Debug().Str("op", op.String()).Err(err).Msg("session.Conn heartbeat write")
		return
	}
	observability.RecordHeartbeat("out", op.String())
}

func (c *Conn) touchHeartbeat() {
	c.lastHeartbeat.Store(time.Now().UnixNano())
}

// LastHeartbeat is when a Ping or Pong was last seen (or the connect time).
func (c *Conn) LastHeartbeat() time.Time {
	return time.Unix(0, c.lastHeartbeat.Load())
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the cause of the last disconnect, nil after a clean Close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Done is closed when the current connection terminates. It is already
// closed when there is no open connection.
func (c *Conn) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.cur.done
}

// Pending reports the number of requests awaiting replies.
func (c *Conn) Pending() int {
	return c.table.Len()
}

func (c *Conn) PendingSnapshot() []PendingRequest {
	return c.table.List()
}

func (c *Conn) Addr() string {
	return c.addr
}
