package ws

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/zerolink/internal/protocol/frame"
	"github.com/danmuck/zerolink/internal/transport"
	"github.com/gorilla/websocket"
)

const DefaultChunkSize = 512

var ErrAddressRequired = errors.New("ws: address required")

// Options tunes a wrapped socket.
type Options struct {
	WriteTimeout time.Duration
	ChunkSize    int
	// Limits bounds inbound messages to one header plus MaxPayloadBytes.
	Limits frame.Limits
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Limits.MaxPayloadBytes <= 0 {
		o.Limits = frame.DefaultLimits()
	}
	return o
}

// Dialer opens client-side WebSocket connections.
type Dialer struct {
	HandshakeTimeout time.Duration
	Header           http.Header
	TLSClientConfig  *tls.Config
	Options          Options
}

func (d Dialer) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, ErrAddressRequired
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
		TLSClientConfig:  d.TLSClientConfig,
	}
	conn, resp, err := dialer.DialContext(ctx, addr, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ws: dial %s: status=%d: %w", addr, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("ws: dial %s: %w", addr, err)
	}
	return Wrap(conn, d.Options), nil
}

// Conn adapts a gorilla websocket to transport.Conn. Send may be called
// concurrently with Receive; Receive has a single caller.
type Conn struct {
	ws     *websocket.Conn
	opts   Options
	reader io.Reader
	buf    []byte

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func Wrap(conn *websocket.Conn, opts Options) *Conn {
	opts = opts.withDefaults()
	conn.SetReadLimit(int64(frame.HeaderLen + opts.Limits.MaxPayloadBytes))
	return &Conn{
		ws:   conn,
		opts: opts,
		buf:  make([]byte, opts.ChunkSize),
	}
}

func (c *Conn) Send(ctx context.Context, msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(c.writeDeadline(ctx)); err != nil {
		return err
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return transport.ErrClosed
		}
		return err
	}
	return nil
}

func (c *Conn) writeDeadline(ctx context.Context) time.Time {
	var deadline time.Time
	if c.opts.WriteTimeout > 0 {
		deadline = time.Now().Add(c.opts.WriteTimeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}
	return deadline
}

// Receive streams the current message in ChunkSize pieces. Text and other
// non-binary messages are drained and skipped.
func (c *Conn) Receive() ([]byte, bool, error) {
	for {
		if c.reader == nil {
			mt, r, err := c.ws.NextReader()
			if err != nil {
				return nil, false, c.mapReadErr(err)
			}
			if mt != websocket.BinaryMessage {
				if _, err := io.Copy(io.Discard, r); err != nil {
					return nil, false, c.mapReadErr(err)
				}
				continue
			}
			c.reader = r
		}

		n, err := c.reader.Read(c.buf)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			return c.chunk(n), true, nil
		}
		if err != nil {
			c.reader = nil
			return nil, false, c.mapReadErr(err)
		}
		if n == 0 {
			continue
		}
		return c.chunk(n), false, nil
	}
}

func (c *Conn) chunk(n int) []byte {
	out := make([]byte, n)
	copy(out, c.buf[:n])
	return out
}

func (c *Conn) mapReadErr(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return fmt.Errorf("%w: %v", transport.ErrClosed, err)
	}
	return err
}

// Close sends a close frame when possible and tears the socket down.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}
