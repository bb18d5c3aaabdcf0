package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/zerolink/internal/protocol/frame"
	"github.com/danmuck/zerolink/internal/transport"
)

type fakeChunk struct {
	data []byte
	eom  bool
}

// fakeTransport is an in-memory peer: the test plays the server by reading
// sent frames and pushing inbound chunks.
type fakeTransport struct {
	inbound chan fakeChunk
	sent    chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan fakeChunk, 1024),
		sent:    make(chan []byte, 1024),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) Send(ctx context.Context, msg []byte) error {
	select {
	case <-f.closed:
		return transport.ErrClosed
	default:
	}
	out := make([]byte, len(msg))
	copy(out, msg)
	select {
	case f.sent <- out:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTransport) Receive() ([]byte, bool, error) {
	select {
	case c := <-f.inbound:
		return c.data, c.eom, nil
	case <-f.closed:
		return nil, false, transport.ErrClosed
	}
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) deliver(t *testing.T, op frame.Opcode, id byte, payload []byte) {
	t.Helper()
	raw, err := frame.Encode(op, id, payload)
	if err != nil {
		t.Fatalf("encode inbound: %v", err)
	}
	f.inbound <- fakeChunk{data: raw, eom: true}
}

func (f *fakeTransport) nextSent(t *testing.T) frame.Frame {
	t.Helper()
	select {
	case raw := <-f.sent:
		fr, err := frame.Decode(raw, frame.DefaultLimits())
		if err != nil {
			t.Fatalf("decode sent frame: %v", err)
		}
		return fr
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for outbound frame")
	}
	return frame.Frame{}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 0
	cfg.SessionDeadAfter = 0
	cfg.MaxConnectAttempts = 1
	cfg.RequestTimeout = 2 * time.Second
	return cfg
}

func newTestConn(t *testing.T, cfg Config) (*Conn, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	dialer := transport.DialerFunc(func(ctx context.Context, addr string) (transport.Conn, error) {
		return tr, nil
	})
	c, err := NewConn("fake://peer", dialer, cfg)
	if err != nil {
		t.Fatalf("new conn: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, tr
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
