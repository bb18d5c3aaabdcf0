package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/zerolink/internal/protocol/frame"
	"github.com/danmuck/zerolink/internal/protocol/ops"
	"github.com/danmuck/zerolink/internal/testutil/testlog"
	"github.com/danmuck/zerolink/internal/transport"
)

func TestRequestLoginExampleScenario(t *testing.T) {
	testlog.Start(t)
	c, tr := newTestConn(t, testConfig())

	reqPayload, err := ops.LoginRequest{PlayerID: "p1", Version: "1.0.0"}.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	type result struct {
		fr  frame.Frame
		err error
	}
	done := make(chan result, 1)
	go func() {
		fr, err := c.Request(context.Background(), frame.OpLogin, reqPayload)
		done <- result{fr, err}
	}()

	sent := tr.nextSent(t)
	if sent.Opcode != frame.OpLogin || sent.CorrelationID != 1 {
		t.Fatalf("unexpected outbound header: op=%s id=%d", sent.Opcode, sent.CorrelationID)
	}
	if !bytes.Equal(sent.Payload[0:2], []byte("p1")) || !bytes.Equal(sent.Payload[16:21], []byte("1.0.0")) {
		t.Fatalf("unexpected outbound payload: % x", sent.Payload)
	}

	reply := make([]byte, ops.LoginResponseSize)
	copy(reply, "sess-ab12")
	binary.BigEndian.PutUint64(reply[16:], 1700000000)
	tr.deliver(t, frame.OpSuccess, sent.CorrelationID, reply)

	res := <-done
	if res.err != nil {
		t.Fatalf("request: %v", res.err)
	}
	var resp ops.LoginResponse
	if err := resp.UnmarshalBinary(res.fr.Payload); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if resp.SessionID != "sess-ab12" || resp.ExpiresAt != 1700000000 {
		t.Fatalf("unexpected reply: %+v", resp)
	}
	if c.Pending() != 0 {
		t.Fatalf("pending entries left: %d", c.Pending())
	}
}

func TestConcurrentRequestsResolveToOwnCaller(t *testing.T) {
	testlog.Start(t)
	c, tr := newTestConn(t, testConfig())
	const n = 100

	// echo server that answers in reverse arrival order
	go func() {
		frames := make([]frame.Frame, 0, n)
		for len(frames) < n {
			fr, err := frame.Decode(<-tr.sent, frame.DefaultLimits())
			if err != nil {
				t.Errorf("decode sent frame: %v", err)
				return
			}
			frames = append(frames, fr)
		}
		for i := len(frames) - 1; i >= 0; i-- {
			raw, _ := frame.Encode(frame.OpSuccess, frames[i].CorrelationID, frames[i].Payload)
			tr.inbound <- fakeChunk{data: raw, eom: true}
		}
	}()

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := []byte(fmt.Sprintf("caller-%03d", i))
			fr, err := c.Request(context.Background(), frame.OpRoundStart, want)
			if err != nil {
				errs <- fmt.Errorf("caller %d: %w", i, err)
				return
			}
			if !bytes.Equal(fr.Payload, want) {
				errs <- fmt.Errorf("caller %d got reply %q", i, fr.Payload)
				return
			}
			errs <- nil
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestConcurrentRequestsUseDistinctIDs(t *testing.T) {
	testlog.Start(t)
	c, tr := newTestConn(t, testConfig())
	const n = 50

	for i := 0; i < n; i++ {
		go func() {
			_, _ = c.Request(context.Background(), frame.OpLogin, nil)
		}()
	}
	seen := make(map[byte]bool, n)
	frames := make([]frame.Frame, 0, n)
	for i := 0; i < n; i++ {
		fr := tr.nextSent(t)
		if seen[fr.CorrelationID] {
			t.Fatalf("duplicate correlation id %d", fr.CorrelationID)
		}
		if fr.CorrelationID == frame.FireAndForgetID || fr.CorrelationID == 0 {
			t.Fatalf("reserved id on the wire: %d", fr.CorrelationID)
		}
		seen[fr.CorrelationID] = true
		frames = append(frames, fr)
	}
	if c.Pending() != n {
		t.Fatalf("expected %d pending, got %d", n, c.Pending())
	}
	for _, fr := range frames {
		tr.deliver(t, frame.OpSuccess, fr.CorrelationID, nil)
	}
	waitFor(t, "pending drained", func() bool { return c.Pending() == 0 })
}

func TestSendIsFireAndForget(t *testing.T) {
	testlog.Start(t)
	c, tr := newTestConn(t, testConfig())

	payload, err := ops.PlayerState{InstanceID: "wrld_1", PlayerID: "p1", IsAlive: true}.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := c.Send(context.Background(), frame.OpUpdatePlayerState, payload); err != nil {
		t.Fatalf("send: %v", err)
	}
	if c.Pending() != 0 {
		t.Fatalf("fire-and-forget registered a pending entry")
	}
	sent := tr.nextSent(t)
	if sent.Opcode != frame.OpUpdatePlayerState || sent.CorrelationID != frame.FireAndForgetID {
		t.Fatalf("unexpected frame: op=%s id=%d", sent.Opcode, sent.CorrelationID)
	}
	if len(sent.Payload) != ops.PlayerStateSize {
		t.Fatalf("unexpected payload size %d", len(sent.Payload))
	}
}

func TestRequestTimeoutDropsLateReply(t *testing.T) {
	testlog.Start(t)
	c, tr := newTestConn(t, testConfig())

	start := time.Now()
	_, err := c.Request(context.Background(), frame.OpLogin, []byte("slow"), WithTimeout(50*time.Millisecond))
	elapsed := time.Since(start)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed < 50*time.Millisecond {
		t.Fatalf("timed out early after %v", elapsed)
	}
	late := tr.nextSent(t)
	if c.table.Contains(late.CorrelationID) || c.Pending() != 0 {
		t.Fatalf("timed out entry still in table")
	}

	// the late reply is discarded; the next request gets its own answer
	tr.deliver(t, frame.OpSuccess, late.CorrelationID, []byte("late"))
	done := make(chan frame.Frame, 1)
	go func() {
		fr, err := c.Request(context.Background(), frame.OpLogin, []byte("fast"))
		if err != nil {
			t.Errorf("second request: %v", err)
		}
		done <- fr
	}()
	next := tr.nextSent(t)
	if next.CorrelationID == late.CorrelationID {
		t.Fatalf("released id reused immediately: %d", next.CorrelationID)
	}
	tr.deliver(t, frame.OpSuccess, next.CorrelationID, []byte("fresh"))
	if fr := <-done; string(fr.Payload) != "fresh" {
		t.Fatalf("second request got %q", fr.Payload)
	}
}

func TestRequestContextCancel(t *testing.T) {
	testlog.Start(t)
	c, tr := newTestConn(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := c.Request(ctx, frame.OpLogin, nil)
		errc <- err
	}()
	_ = tr.nextSent(t)
	cancel()
	err := <-errc
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrTimeout) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if c.Pending() != 0 {
		t.Fatalf("cancelled entry still pending")
	}
}

func TestReassembledReplyResolves(t *testing.T) {
	testlog.Start(t)
	c, tr := newTestConn(t, testConfig())

	done := make(chan frame.Frame, 1)
	go func() {
		fr, err := c.Request(context.Background(), frame.OpRoundEnd, make([]byte, ops.RoundEndRequestSize))
		if err != nil {
			t.Errorf("request: %v", err)
		}
		done <- fr
	}()
	sent := tr.nextSent(t)

	reply, _ := ops.RoundEndResponse{EndedAt: 1700000999}.MarshalBinary()
	raw, _ := frame.Encode(frame.OpSuccess, sent.CorrelationID, reply)
	tr.inbound <- fakeChunk{data: raw[:1]}
	tr.inbound <- fakeChunk{data: raw[1:3]}
	tr.inbound <- fakeChunk{data: raw[3:], eom: true}

	fr := <-done
	var resp ops.RoundEndResponse
	if err := resp.UnmarshalBinary(fr.Payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.EndedAt != 1700000999 {
		t.Fatalf("unexpected reply: %+v", resp)
	}
}

func TestServerErrorFrame(t *testing.T) {
	testlog.Start(t)
	c, tr := newTestConn(t, testConfig())
	errc := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), frame.OpRoundEnd, nil)
		errc <- err
	}()
	sent := tr.nextSent(t)
	payload, _ := ops.ErrorReply{Code: ops.CodeUnknownRound, Message: "no such round"}.MarshalBinary()
	tr.deliver(t, frame.OpError, sent.CorrelationID, payload)

	err := <-errc
	var serverErr *ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if serverErr.Code != ops.CodeUnknownRound || serverErr.Message != "no such round" {
		t.Fatalf("unexpected server error: %+v", serverErr)
	}
}

func TestMalformedFrameDoesNotStopLoop(t *testing.T) {
	testlog.Start(t)
	c, tr := newTestConn(t, testConfig())
	errc := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), frame.OpLogin, nil)
		errc <- err
	}()
	sent := tr.nextSent(t)

	tr.inbound <- fakeChunk{data: []byte{0x80, sent.CorrelationID, 0x00, 0x01, 0xAA, 0xBB}, eom: true}
	tr.inbound <- fakeChunk{data: []byte{0x80}, eom: true}
	tr.deliver(t, frame.Opcode(0x42), 9, nil)
	tr.deliver(t, frame.OpSuccess, sent.CorrelationID, nil)

	if err := <-errc; err != nil {
		t.Fatalf("request after malformed frames: %v", err)
	}
	if c.State() != StateOpen {
		t.Fatalf("connection left open state: %s", c.State())
	}
}

func TestCloseRejectsPending(t *testing.T) {
	testlog.Start(t)
	c, tr := newTestConn(t, testConfig())
	errc := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), frame.OpLogin, nil)
		errc <- err
	}()
	_ = tr.nextSent(t)
	waitFor(t, "request pending", func() bool { return c.Pending() == 1 })

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := <-errc; !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("unexpected state after close: %s", c.State())
	}
	if _, err := c.Request(context.Background(), frame.OpLogin, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := c.Send(context.Background(), frame.OpUpdatePlayerState, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected from send, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestTransportFailureFlushesPending(t *testing.T) {
	testlog.Start(t)
	c, tr := newTestConn(t, testConfig())
	done := c.Done()
	errc := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), frame.OpLogin, nil)
		errc <- err
	}()
	_ = tr.nextSent(t)

	_ = tr.Close()
	if err := <-errc; !errors.Is(err, ErrConnectionClosed) || !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrConnectionClosed wrapping transport error, got %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("done not closed after transport failure")
	}
	if !errors.Is(c.Err(), transport.ErrClosed) {
		t.Fatalf("unexpected disconnect cause: %v", c.Err())
	}
}

func TestPongUpdatesHeartbeat(t *testing.T) {
	testlog.Start(t)
	c, tr := newTestConn(t, testConfig())
	c.lastHeartbeat.Store(time.Unix(0, 0).UnixNano())

	tr.deliver(t, frame.OpPong, frame.FireAndForgetID, nil)
	waitFor(t, "heartbeat marker", func() bool { return c.LastHeartbeat().After(time.Unix(1, 0)) })
	if c.Pending() != 0 {
		t.Fatalf("pong touched the pending table")
	}
}

func TestPingAnsweredWithPong(t *testing.T) {
	testlog.Start(t)
	_, tr := newTestConn(t, testConfig())
	tr.deliver(t, frame.OpPing, frame.FireAndForgetID, nil)
	sent := tr.nextSent(t)
	if sent.Opcode != frame.OpPong || sent.CorrelationID != frame.FireAndForgetID {
		t.Fatalf("unexpected heartbeat reply: op=%s id=%d", sent.Opcode, sent.CorrelationID)
	}
}

func TestHeartbeatLostClosesConnection(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.SessionDeadAfter = 40 * time.Millisecond
	c, tr := newTestConn(t, cfg)

	if ping := tr.nextSent(t); ping.Opcode != frame.OpPing {
		t.Fatalf("expected ping, got %s", ping.Opcode)
	}
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("connection not closed without pongs")
	}
	if !errors.Is(c.Err(), ErrHeartbeatLost) {
		t.Fatalf("expected ErrHeartbeatLost, got %v", c.Err())
	}
}

func TestConnectRetriesWithBackoff(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.MaxConnectAttempts = 3
	cfg.Backoff = BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}

	attempts := 0
	tr := newFakeTransport()
	dialer := transport.DialerFunc(func(ctx context.Context, addr string) (transport.Conn, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("refused")
		}
		return tr, nil
	})
	c, err := NewConn("fake://peer", dialer, cfg)
	if err != nil {
		t.Fatalf("new conn: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()
	if attempts != 3 || c.State() != StateOpen {
		t.Fatalf("attempts=%d state=%s", attempts, c.State())
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestConnectGivesUp(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.MaxConnectAttempts = 2
	cfg.Backoff = BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
	refused := errors.New("refused")
	dialer := transport.DialerFunc(func(ctx context.Context, addr string) (transport.Conn, error) {
		return nil, refused
	})
	c, _ := NewConn("fake://peer", dialer, cfg)
	if err := c.Connect(context.Background()); !errors.Is(err, refused) {
		t.Fatalf("expected dial error, got %v", err)
	}
	if c.State() != StateDisconnected || !errors.Is(c.Err(), refused) {
		t.Fatalf("state=%s err=%v", c.State(), c.Err())
	}
}

func TestCloseAbortsConnectInProgress(t *testing.T) {
	testlog.Start(t)
	dialing := make(chan struct{})
	dialer := transport.DialerFunc(func(ctx context.Context, addr string) (transport.Conn, error) {
		close(dialing)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c, _ := NewConn("fake://peer", dialer, testConfig())

	result := make(chan error, 1)
	go func() { result <- c.Connect(context.Background()) }()
	<-dialing
	if c.State() != StateConnecting {
		t.Fatalf("state=%s want connecting", c.State())
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-result:
		if !errors.Is(err, ErrConnectionClosed) {
			t.Fatalf("expected ErrConnectionClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("connect not aborted by close")
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state=%s want disconnected", c.State())
	}
}

func TestCloseDuringDialDiscardsLateTransport(t *testing.T) {
	testlog.Start(t)
	tr := newFakeTransport()
	dialing := make(chan struct{})
	release := make(chan struct{})
	dialer := transport.DialerFunc(func(ctx context.Context, addr string) (transport.Conn, error) {
		close(dialing)
		<-release
		return tr, nil
	})
	c, _ := NewConn("fake://peer", dialer, testConfig())

	result := make(chan error, 1)
	go func() { result <- c.Connect(context.Background()) }()
	<-dialing
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	close(release)

	if err := <-result; !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state=%s want disconnected", c.State())
	}
	select {
	case <-tr.closed:
	default:
		t.Fatalf("late transport left open")
	}
	if _, err := c.Request(context.Background(), frame.OpLogin, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestNewConnValidation(t *testing.T) {
	testlog.Start(t)
	if _, err := NewConn(" ", transport.DialerFunc(nil), DefaultConfig()); !errors.Is(err, ErrAddressRequired) {
		t.Fatalf("expected ErrAddressRequired, got %v", err)
	}
	if _, err := NewConn("ws://x", nil, DefaultConfig()); !errors.Is(err, ErrDialerRequired) {
		t.Fatalf("expected ErrDialerRequired, got %v", err)
	}
}

func TestRequestPayloadTooLarge(t *testing.T) {
	testlog.Start(t)
	c, _ := newTestConn(t, testConfig())
	_, err := c.Request(context.Background(), frame.OpLogin, make([]byte, frame.MaxPayloadLen+1))
	if !errors.Is(err, frame.ErrEncoding) {
		t.Fatalf("expected encoding error, got %v", err)
	}
	if c.Pending() != 0 {
		t.Fatalf("oversized payload registered an entry")
	}
}
