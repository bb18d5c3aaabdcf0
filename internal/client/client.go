package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/danmuck/zerolink/internal/auth"
	"github.com/danmuck/zerolink/internal/protocol/frame"
	"github.com/danmuck/zerolink/internal/protocol/ops"
	"github.com/danmuck/zerolink/internal/protocol/session"
	"github.com/danmuck/zerolink/internal/transport/ws"
)

var (
	ErrAddressRequired = errors.New("client: address required")
	ErrUnexpectedReply = errors.New("client: unexpected reply")
)

type Config struct {
	Address   string
	Header    http.Header
	// AuthToken is sent as a bearer token on the upgrade request.
	AuthToken string
	TLS       ws.TLSConfig
	Session   session.Config
}

func DefaultConfig() Config {
	return Config{
		Session: session.DefaultConfig(),
	}
}

// Client exposes the Protocol ZERO operations over one session.Conn. It
// keeps no protocol state of its own.
type Client struct {
	conn *session.Conn
}

// Dial opens a WebSocket session to cfg.Address and returns a ready Client.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	addr := strings.TrimSpace(cfg.Address)
	if addr == "" {
		return nil, ErrAddressRequired
	}
	scfg := cfg.Session.WithDefaults()
	tlsCfg, err := cfg.TLS.ClientTLS(addr)
	if err != nil {
		return nil, fmt.Errorf("client: tls: %w", err)
	}
	header := cfg.Header
	if token := strings.TrimSpace(cfg.AuthToken); token != "" {
		header = auth.SetBearer(header, token)
	}
	dialer := ws.Dialer{
		HandshakeTimeout: scfg.ConnectTimeout,
		Header:           header,
		TLSClientConfig:  tlsCfg,
		Options:          ws.Options{WriteTimeout: scfg.WriteTimeout, Limits: scfg.Limits},
	}
	conn, err := session.NewConn(addr, dialer, scfg)
	if err != nil {
		return nil, err
	}
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("client: connect %s: %w", addr, err)
	}
	return New(conn), nil
}

// New wraps an already connected session.
func New(conn *session.Conn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Conn() *session.Conn {
	return c.conn
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Login(ctx context.Context, req ops.LoginRequest, opts ...session.CallOption) (ops.LoginResponse, error) {
	var resp ops.LoginResponse
	err := c.call(ctx, frame.OpLogin, req, &resp, opts)
	return resp, err
}

func (c *Client) RoundStart(ctx context.Context, req ops.RoundStartRequest, opts ...session.CallOption) (ops.RoundStartResponse, error) {
	var resp ops.RoundStartResponse
	err := c.call(ctx, frame.OpRoundStart, req, &resp, opts)
	return resp, err
}

func (c *Client) RoundEnd(ctx context.Context, req ops.RoundEndRequest, opts ...session.CallOption) (ops.RoundEndResponse, error) {
	var resp ops.RoundEndResponse
	err := c.call(ctx, frame.OpRoundEnd, req, &resp, opts)
	return resp, err
}

// UpdatePlayerState is fire-and-forget: it returns once the frame is written.
func (c *Client) UpdatePlayerState(ctx context.Context, state ops.PlayerState) error {
	payload, err := state.MarshalBinary()
	if err != nil {
		return err
	}
	return c.conn.Send(ctx, frame.OpUpdatePlayerState, payload)
}

type binaryMessage interface {
	MarshalBinary() ([]byte, error)
}

type binaryReply interface {
	UnmarshalBinary([]byte) error
}

func (c *Client) call(ctx context.Context, op frame.Opcode, req binaryMessage, resp binaryReply, opts []session.CallOption) error {
	payload, err := req.MarshalBinary()
	if err != nil {
		return err
	}
	reply, err := c.conn.Request(ctx, op, payload, opts...)
	if err != nil {
		return err
	}
	if reply.Opcode != frame.OpSuccess {
		return fmt.Errorf("%w: %s reply to %s", ErrUnexpectedReply, reply.Opcode, op)
	}
	if err := resp.UnmarshalBinary(reply.Payload); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnexpectedReply, op, err)
	}
	return nil
}
