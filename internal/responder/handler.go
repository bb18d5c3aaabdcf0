package responder

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/zerolink/internal/protocol/ops"
)

// Handler implements the server side of each operation. Returning a
// *ReplyError selects the Error frame code; any other error is sent as
// CodeInternal.
type Handler interface {
	Login(ctx context.Context, req ops.LoginRequest) (ops.LoginResponse, error)
	RoundStart(ctx context.Context, req ops.RoundStartRequest) (ops.RoundStartResponse, error)
	RoundEnd(ctx context.Context, req ops.RoundEndRequest) (ops.RoundEndResponse, error)
	UpdatePlayerState(ctx context.Context, state ops.PlayerState) error
}

type ReplyError struct {
	Code    byte
	Message string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("responder: %s: %s", ops.CodeName(e.Code), e.Message)
}

func replyErrorf(code byte, format string, args ...any) *ReplyError {
	return &ReplyError{Code: code, Message: fmt.Sprintf(format, args...)}
}

const DefaultSessionTTL = time.Hour

// Round is the responder's record of one round.
type Round struct {
	ID         string
	InstanceID string
	RoundType  string
	MapName    string
	StartedAt  time.Time
	EndedAt    time.Time
	Survived   bool
	Duration   time.Duration
	Damage     float32
	TerrorName string
}

func (r Round) Ended() bool {
	return !r.EndedAt.IsZero()
}

type playerSession struct {
	playerID string
	version  string
	expires  time.Time
}

type stateKey struct {
	instance string
	player   string
}

type MemoryOption func(*MemoryHandler)

// WithClock replaces time.Now for issued timestamps and expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(h *MemoryHandler) {
		if now != nil {
			h.now = now
		}
	}
}

func WithSessionTTL(ttl time.Duration) MemoryOption {
	return func(h *MemoryHandler) {
		if ttl > 0 {
			h.ttl = ttl
		}
	}
}

// MemoryHandler keeps sessions, rounds and the latest player states in
// memory. It is safe for concurrent use.
type MemoryHandler struct {
	now func() time.Time
	ttl time.Duration

	mu       sync.Mutex
	sessions map[string]playerSession
	rounds   map[string]Round
	states   map[stateKey]ops.PlayerState
}

var _ Handler = (*MemoryHandler)(nil)

func NewMemoryHandler(opts ...MemoryOption) *MemoryHandler {
	h := &MemoryHandler{
		now:      time.Now,
		ttl:      DefaultSessionTTL,
		sessions: make(map[string]playerSession),
		rounds:   make(map[string]Round),
		states:   make(map[stateKey]ops.PlayerState),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *MemoryHandler) Login(ctx context.Context, req ops.LoginRequest) (ops.LoginResponse, error) {
	if strings.TrimSpace(req.PlayerID) == "" {
		return ops.LoginResponse{}, replyErrorf(ops.CodeInvalidRequest, "player_id required")
	}
	id, err := newID()
	if err != nil {
		return ops.LoginResponse{}, err
	}
	now := h.now()
	expires := now.Add(h.ttl)

	h.mu.Lock()
	h.sweepLocked(now)
	h.sessions[id] = playerSession{playerID: req.PlayerID, version: req.Version, expires: expires}
	h.mu.Unlock()

	return ops.LoginResponse{SessionID: id, ExpiresAt: expires.Unix()}, nil
}

func (h *MemoryHandler) sweepLocked(now time.Time) {
	for id, s := range h.sessions {
		if !now.Before(s.expires) {
			delete(h.sessions, id)
		}
	}
}

// SessionPlayer returns the player bound to a live session id.
func (h *MemoryHandler) SessionPlayer(id string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	if !ok || !h.now().Before(s.expires) {
		return "", false
	}
	return s.playerID, true
}

func (h *MemoryHandler) RoundStart(ctx context.Context, req ops.RoundStartRequest) (ops.RoundStartResponse, error) {
	if strings.TrimSpace(req.InstanceID) == "" {
		return ops.RoundStartResponse{}, replyErrorf(ops.CodeInvalidRequest, "instance_id required")
	}
	if strings.TrimSpace(req.RoundType) == "" {
		return ops.RoundStartResponse{}, replyErrorf(ops.CodeInvalidRequest, "round_type required")
	}
	id, err := newID()
	if err != nil {
		return ops.RoundStartResponse{}, err
	}
	now := h.now()

	h.mu.Lock()
	h.rounds[id] = Round{
		ID:         id,
		InstanceID: req.InstanceID,
		RoundType:  req.RoundType,
		MapName:    req.MapName,
		StartedAt:  now,
	}
	h.mu.Unlock()

	return ops.RoundStartResponse{RoundID: id, StartedAt: now.Unix()}, nil
}

func (h *MemoryHandler) RoundEnd(ctx context.Context, req ops.RoundEndRequest) (ops.RoundEndResponse, error) {
	now := h.now()

	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rounds[req.RoundID]
	if !ok || r.Ended() {
		return ops.RoundEndResponse{}, replyErrorf(ops.CodeUnknownRound, "round %q not active", req.RoundID)
	}
	r.EndedAt = now
	r.Survived = req.Survived
	r.Duration = time.Duration(req.Duration) * time.Second
	r.Damage = req.DamageDealt
	r.TerrorName = req.TerrorName
	h.rounds[req.RoundID] = r
	return ops.RoundEndResponse{EndedAt: now.Unix()}, nil
}

func (h *MemoryHandler) UpdatePlayerState(ctx context.Context, state ops.PlayerState) error {
	if strings.TrimSpace(state.PlayerID) == "" {
		return replyErrorf(ops.CodeInvalidRequest, "player_id required")
	}
	h.mu.Lock()
	h.states[stateKey{instance: state.InstanceID, player: state.PlayerID}] = state
	h.mu.Unlock()
	return nil
}

func (h *MemoryHandler) Round(id string) (Round, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rounds[id]
	return r, ok
}

// PlayerState returns the last state reported for a player in an instance.
func (h *MemoryHandler) PlayerState(instanceID, playerID string) (ops.PlayerState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.states[stateKey{instance: instanceID, player: playerID}]
	return s, ok
}

// newID returns 16 hex characters, the width of an id region.
func newID() (string, error) {
	var b [ops.IDWidth / 2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("responder: generate id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
