package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/danmuck/zerolink/internal/protocol/ops"
	"github.com/danmuck/zerolink/internal/responder"
	"github.com/danmuck/zerolink/internal/testutil/testlog"
	"github.com/danmuck/zerolink/internal/testutil/tlstest"
	"github.com/danmuck/zerolink/internal/transport/ws"
	"github.com/gin-gonic/gin"
)

func startTLSResponder(t *testing.T, tlsCfg ws.TLSConfig) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv, err := responder.NewServer(responder.Config{NodeID: "tls-test", TLS: tlsCfg}, responder.NewMemoryHandler())
	if err != nil {
		t.Fatalf("new responder: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Errorf("responder did not stop")
		}
	})
	return "wss://" + ln.Addr().String() + "/ws"
}

func TestClientMutualTLS(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "zerolink-test-ca")
	serverCert, serverKey := ca.IssueLocalServerCert(t, dir, "zerod")
	clientCert, clientKey := ca.IssueClientCert(t, dir, "zeroctl")

	addr := startTLSResponder(t, ws.TLSConfig{
		Enabled:  true,
		Mutual:   true,
		CertFile: serverCert,
		KeyFile:  serverKey,
		CAFile:   ca.CAFile(),
	})

	cfg := DefaultConfig()
	cfg.Address = addr
	cfg.Session.HeartbeatInterval = 0
	cfg.Session.SessionDeadAfter = 0
	cfg.TLS = ws.TLSConfig{
		Enabled:  true,
		Mutual:   true,
		CertFile: clientCert,
		KeyFile:  clientKey,
		CAFile:   ca.CAFile(),
	}
	c, err := Dial(context.Background(), cfg)
	if err != nil {
		t.Fatalf("dial over tls: %v", err)
	}
	defer c.Close()

	if _, err := c.Login(context.Background(), ops.LoginRequest{PlayerID: "p1", Version: "1.0.0"}); err != nil {
		t.Fatalf("login over tls: %v", err)
	}

	// without a client certificate the handshake is refused
	anon := cfg
	anon.TLS = ws.TLSConfig{Enabled: true, CAFile: ca.CAFile()}
	anon.Session.MaxConnectAttempts = 1
	if c2, err := Dial(context.Background(), anon); err == nil {
		_ = c2.Close()
		t.Fatalf("expected handshake failure without client certificate")
	}
}

func TestClientTLSConfigValidation(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.Address = "wss://127.0.0.1:1/ws"
	cfg.TLS = ws.TLSConfig{Enabled: true, Mutual: true, CAFile: "ca.crt"}
	if _, err := Dial(context.Background(), cfg); err == nil {
		t.Fatalf("expected missing client cert to be rejected")
	}
}
