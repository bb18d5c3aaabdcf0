package session

import (
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/zerolink/internal/testutil/testlog"
)

func TestBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig().Backoff
	cfg.Jitter = false
	want := []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := cfg.Delay(i+1, nil); got != w {
			t.Fatalf("attempt%d got=%v want=%v", i+1, got, w)
		}
	}
}

func TestBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig().Backoff
	plain := cfg
	plain.Jitter = false
	rng := rand.New(rand.NewSource(7))
	for attempt := 1; attempt <= 8; attempt++ {
		base := plain.Delay(attempt, nil)
		got := cfg.Delay(attempt, rng)
		if got < base/2 || got > base*3/2 || got > cfg.MaxDelay {
			t.Fatalf("attempt%d jitter out of range: %v base=%v", attempt, got, base)
		}
	}
}

func TestBackoffDelayEdges(t *testing.T) {
	testlog.Start(t)
	if got := (BackoffConfig{}).Delay(3, nil); got != 0 {
		t.Fatalf("zero config should not wait: %v", got)
	}
	flat := BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 0.5}
	if got := flat.Delay(4, nil); got != 10*time.Millisecond {
		t.Fatalf("multiplier below 1 should hold the delay: %v", got)
	}
	low := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 1, Jitter: true}
	if got := low.Delay(1, nil); got != 50*time.Millisecond {
		t.Fatalf("nil rng should apply the low jitter bound: %v", got)
	}
}

func TestConfigWithDefaultsKeepsHeartbeatOff(t *testing.T) {
	testlog.Start(t)
	cfg := Config{RequestTimeout: time.Second}.WithDefaults()
	if cfg.RequestTimeout != time.Second {
		t.Fatalf("request timeout overwritten: %v", cfg.RequestTimeout)
	}
	if cfg.HeartbeatInterval != 0 || cfg.SessionDeadAfter != 0 {
		t.Fatalf("heartbeat enabled by defaults: %+v", cfg)
	}
	if cfg.ConnectTimeout != 5*time.Second || cfg.Limits.MaxPayloadBytes != 4096 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}
