package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/zerolink/internal/client"
	"github.com/danmuck/zerolink/internal/transport/ws"
	"github.com/pelletier/go-toml/v2"
)

const (
	KindClient    = "client"
	KindResponder = "responder"
)

// Template returns a config file for kind populated with the defaults.
func Template(kind string) (string, error) {
	var (
		out []byte
		err error
	)
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindClient:
		out, err = RenderClient(DefaultClient())
	case KindResponder:
		out, err = RenderResponder(DefaultResponder())
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// RenderClient encodes cfg in the same layout LoadClientConfig reads.
func RenderClient(cfg client.Config) ([]byte, error) {
	s := cfg.Session
	return toml.Marshal(clientFile{
		Address:            cfg.Address,
		AuthToken:          cfg.AuthToken,
		ConnectTimeout:     s.ConnectTimeout.String(),
		WriteTimeout:       s.WriteTimeout.String(),
		RequestTimeout:     s.RequestTimeout.String(),
		HeartbeatInterval:  s.HeartbeatInterval.String(),
		SessionDeadAfter:   s.SessionDeadAfter.String(),
		MaxConnectAttempts: s.MaxConnectAttempts,
		MaxPayloadBytes:    s.Limits.MaxPayloadBytes,
		Backoff: backoffFile{
			Initial:    s.Backoff.InitialDelay.String(),
			Max:        s.Backoff.MaxDelay.String(),
			Multiplier: s.Backoff.Multiplier,
			Jitter:     s.Backoff.Jitter,
		},
		TLS: fromTLS(cfg.TLS),
	})
}

// RenderResponder encodes cfg in the same layout LoadResponderConfig reads.
func RenderResponder(cfg Responder) ([]byte, error) {
	s := cfg.Server
	origins := s.CORSOrigins
	if origins == nil {
		origins = []string{}
	}
	return toml.Marshal(responderFile{
		NodeID:          s.NodeID,
		ListenAddr:      s.ListenAddr,
		WriteTimeout:    s.WriteTimeout.String(),
		ShutdownTimeout: s.ShutdownTimeout.String(),
		ChunkSize:       s.ChunkSize,
		MaxPayloadBytes: s.Limits.MaxPayloadBytes,
		CORSOrigins:     origins,
		AuthToken:       s.AuthToken,
		SessionTTL:      durationString(cfg.SessionTTL),
		TLS:             fromTLS(s.TLS),
	})
}

func fromTLS(c ws.TLSConfig) tlsFile {
	return tlsFile{
		Enabled:            c.Enabled,
		Mutual:             c.Mutual,
		CertFile:           c.CertFile,
		KeyFile:            c.KeyFile,
		CAFile:             c.CAFile,
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}
}

func durationString(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	return d.String()
}
