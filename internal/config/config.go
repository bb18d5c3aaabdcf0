package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/zerolink/internal/client"
	"github.com/danmuck/zerolink/internal/responder"
	"github.com/danmuck/zerolink/internal/transport/ws"
)

type backoffFile struct {
	Initial    string  `toml:"initial"`
	Max        string  `toml:"max"`
	Multiplier float64 `toml:"multiplier"`
	Jitter     bool    `toml:"jitter"`
}

type tlsFile struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type clientFile struct {
	Address            string      `toml:"address"`
	AuthToken          string      `toml:"auth_token"`
	ConnectTimeout     string      `toml:"connect_timeout"`
	WriteTimeout       string      `toml:"write_timeout"`
	RequestTimeout     string      `toml:"request_timeout"`
	HeartbeatInterval  string      `toml:"heartbeat_interval"`
	SessionDeadAfter   string      `toml:"session_dead_after"`
	MaxConnectAttempts int         `toml:"max_connect_attempts"`
	MaxPayloadBytes    int         `toml:"max_payload_bytes"`
	Backoff            backoffFile `toml:"backoff"`
	TLS                tlsFile     `toml:"tls"`
}

type responderFile struct {
	NodeID          string   `toml:"node_id"`
	ListenAddr      string   `toml:"listen_addr"`
	WriteTimeout    string   `toml:"write_timeout"`
	ShutdownTimeout string   `toml:"shutdown_timeout"`
	ChunkSize       int      `toml:"chunk_size"`
	MaxPayloadBytes int      `toml:"max_payload_bytes"`
	CORSOrigins     []string `toml:"cors_origins"`
	AuthToken       string   `toml:"auth_token"`
	SessionTTL      string   `toml:"session_ttl"`
	TLS             tlsFile  `toml:"tls"`
}

// Responder is the zerod configuration: the server plus handler settings.
type Responder struct {
	Server     responder.Config
	SessionTTL time.Duration
}

func DefaultResponder() Responder {
	return Responder{
		Server:     responder.DefaultConfig(),
		SessionTTL: responder.DefaultSessionTTL,
	}
}

func DefaultClient() client.Config {
	cfg := client.DefaultConfig()
	cfg.Address = "ws://127.0.0.1:7420/ws"
	return cfg
}

// LoadClientConfig applies the keys present in path over DefaultClient.
func LoadClientConfig(path string) (client.Config, error) {
	cfg := DefaultClient()

	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return client.Config{}, fmt.Errorf("load client config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return client.Config{}, fmt.Errorf("load client config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("auth_token") {
		cfg.AuthToken = strings.TrimSpace(raw.AuthToken)
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.Session.ConnectTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.Session.WriteTimeout},
		{"request_timeout", raw.RequestTimeout, &cfg.Session.RequestTimeout},
		{"heartbeat_interval", raw.HeartbeatInterval, &cfg.Session.HeartbeatInterval},
		{"session_dead_after", raw.SessionDeadAfter, &cfg.Session.SessionDeadAfter},
		{"backoff.initial", raw.Backoff.Initial, &cfg.Session.Backoff.InitialDelay},
		{"backoff.max", raw.Backoff.Max, &cfg.Session.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(strings.Split(d.key, ".")...) {
			continue
		}
		v, err := parseDuration(d.key, d.raw)
		if err != nil {
			return client.Config{}, err
		}
		*d.dst = v
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.Session.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("max_payload_bytes") {
		cfg.Session.Limits.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	if meta.IsDefined("backoff", "multiplier") {
		cfg.Session.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if meta.IsDefined("backoff", "jitter") {
		cfg.Session.Backoff.Jitter = raw.Backoff.Jitter
	}
	if meta.IsDefined("tls") {
		cfg.TLS = raw.TLS.toTLS()
	}

	if err := ValidateClient(cfg); err != nil {
		return client.Config{}, err
	}
	return cfg, nil
}

// LoadResponderConfig applies the keys present in path over DefaultResponder.
func LoadResponderConfig(path string) (Responder, error) {
	cfg := DefaultResponder()

	var raw responderFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Responder{}, fmt.Errorf("load responder config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Responder{}, fmt.Errorf("load responder config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("node_id") {
		if id := strings.TrimSpace(raw.NodeID); id != "" {
			cfg.Server.NodeID = id
		}
	}
	if meta.IsDefined("listen_addr") {
		cfg.Server.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"write_timeout", raw.WriteTimeout, &cfg.Server.WriteTimeout},
		{"shutdown_timeout", raw.ShutdownTimeout, &cfg.Server.ShutdownTimeout},
		{"session_ttl", raw.SessionTTL, &cfg.SessionTTL},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := parseDuration(d.key, d.raw)
		if err != nil {
			return Responder{}, err
		}
		*d.dst = v
	}
	if meta.IsDefined("chunk_size") {
		cfg.Server.ChunkSize = raw.ChunkSize
	}
	if meta.IsDefined("max_payload_bytes") {
		cfg.Server.Limits.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	if meta.IsDefined("cors_origins") {
		cfg.Server.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if meta.IsDefined("auth_token") {
		cfg.Server.AuthToken = strings.TrimSpace(raw.AuthToken)
	}
	if meta.IsDefined("tls") {
		cfg.Server.TLS = raw.TLS.toTLS()
	}

	if err := ValidateResponder(cfg); err != nil {
		return Responder{}, err
	}
	return cfg, nil
}

func ValidateClient(cfg client.Config) error {
	addr := strings.TrimSpace(cfg.Address)
	if addr == "" {
		return fmt.Errorf("client config missing address")
	}
	if !strings.HasPrefix(addr, "ws://") && !strings.HasPrefix(addr, "wss://") {
		return fmt.Errorf("client config address must be ws:// or wss://: %q", addr)
	}
	if strings.HasPrefix(addr, "wss://") && !cfg.TLS.Enabled {
		return fmt.Errorf("client config address %q requires [tls] enabled", addr)
	}
	if cfg.Session.SessionDeadAfter > 0 && cfg.Session.HeartbeatInterval <= 0 {
		return fmt.Errorf("client config session_dead_after requires heartbeat_interval")
	}
	if cfg.Session.SessionDeadAfter > 0 && cfg.Session.SessionDeadAfter <= cfg.Session.HeartbeatInterval {
		return fmt.Errorf("client config session_dead_after must exceed heartbeat_interval")
	}
	if err := cfg.TLS.ValidateClient(); err != nil {
		return fmt.Errorf("client config tls invalid: %w", err)
	}
	return nil
}

func ValidateResponder(cfg Responder) error {
	if strings.TrimSpace(cfg.Server.NodeID) == "" {
		return fmt.Errorf("responder config missing node_id")
	}
	if strings.TrimSpace(cfg.Server.ListenAddr) == "" {
		return fmt.Errorf("responder config missing listen_addr")
	}
	if cfg.Server.ChunkSize < 0 {
		return fmt.Errorf("responder config chunk_size must not be negative")
	}
	if cfg.SessionTTL <= 0 {
		return fmt.Errorf("responder config session_ttl must be positive")
	}
	if err := cfg.Server.TLS.ValidateServer(); err != nil {
		return fmt.Errorf("responder config tls invalid: %w", err)
	}
	return nil
}

func (f tlsFile) toTLS() ws.TLSConfig {
	return ws.TLSConfig{
		Enabled:            f.Enabled,
		Mutual:             f.Mutual,
		CertFile:           strings.TrimSpace(f.CertFile),
		KeyFile:            strings.TrimSpace(f.KeyFile),
		CAFile:             strings.TrimSpace(f.CAFile),
		ServerName:         strings.TrimSpace(f.ServerName),
		InsecureSkipVerify: f.InsecureSkipVerify,
	}
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("parse %s: negative duration %s", key, d)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
