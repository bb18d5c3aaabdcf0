package ops

import "time"

// Fixed payload sizes per operation.
const (
	LoginRequestSize       = 32
	LoginResponseSize      = 24
	RoundStartRequestSize  = 80
	RoundStartResponseSize = 24
	RoundEndRequestSize    = 57
	RoundEndResponseSize   = 8
	PlayerStateSize        = 45
)

// Region widths for string fields.
const (
	IDWidth      = 16
	VersionWidth = 16
	NameWidth    = 32
)

// LoginRequest opens a player session.
type LoginRequest struct {
	PlayerID string
	Version  string
}

func (m LoginRequest) MarshalBinary() ([]byte, error) {
	w := newWriter(LoginRequestSize)
	w.str("player_id", IDWidth, m.PlayerID)
	w.str("version", VersionWidth, m.Version)
	return w.bytes()
}

func (m *LoginRequest) UnmarshalBinary(b []byte) error {
	r, err := newReader(b, LoginRequestSize, "login request")
	if err != nil {
		return err
	}
	m.PlayerID = r.str(IDWidth)
	m.Version = r.str(VersionWidth)
	return nil
}

type LoginResponse struct {
	SessionID string
	ExpiresAt int64
}

// Expires returns ExpiresAt as a wall-clock time (unix seconds).
func (m LoginResponse) Expires() time.Time {
	return time.Unix(m.ExpiresAt, 0)
}

func (m LoginResponse) MarshalBinary() ([]byte, error) {
	w := newWriter(LoginResponseSize)
	w.str("session_id", IDWidth, m.SessionID)
	w.i64(m.ExpiresAt)
	return w.bytes()
}

func (m *LoginResponse) UnmarshalBinary(b []byte) error {
	r, err := newReader(b, LoginResponseSize, "login response")
	if err != nil {
		return err
	}
	m.SessionID = r.str(IDWidth)
	m.ExpiresAt = r.i64()
	return nil
}

// RoundStartRequest announces a new round in an instance. MapName may be empty.
type RoundStartRequest struct {
	InstanceID string
	RoundType  string
	MapName    string
}

func (m RoundStartRequest) MarshalBinary() ([]byte, error) {
	w := newWriter(RoundStartRequestSize)
	w.str("instance_id", IDWidth, m.InstanceID)
	w.str("round_type", NameWidth, m.RoundType)
	w.str("map_name", NameWidth, m.MapName)
	return w.bytes()
}

func (m *RoundStartRequest) UnmarshalBinary(b []byte) error {
	r, err := newReader(b, RoundStartRequestSize, "round start request")
	if err != nil {
		return err
	}
	m.InstanceID = r.str(IDWidth)
	m.RoundType = r.str(NameWidth)
	m.MapName = r.str(NameWidth)
	return nil
}

type RoundStartResponse struct {
	RoundID   string
	StartedAt int64
}

func (m RoundStartResponse) MarshalBinary() ([]byte, error) {
	w := newWriter(RoundStartResponseSize)
	w.str("round_id", IDWidth, m.RoundID)
	w.i64(m.StartedAt)
	return w.bytes()
}

func (m *RoundStartResponse) UnmarshalBinary(b []byte) error {
	r, err := newReader(b, RoundStartResponseSize, "round start response")
	if err != nil {
		return err
	}
	m.RoundID = r.str(IDWidth)
	m.StartedAt = r.i64()
	return nil
}

// RoundEndRequest closes a round. Duration is in seconds; TerrorName may be empty.
type RoundEndRequest struct {
	RoundID     string
	Survived    bool
	Duration    uint32
	DamageDealt float32
	TerrorName  string
}

func (m RoundEndRequest) MarshalBinary() ([]byte, error) {
	w := newWriter(RoundEndRequestSize)
	w.str("round_id", IDWidth, m.RoundID)
	w.boolean(m.Survived)
	w.u32(m.Duration)
	w.f32(m.DamageDealt)
	w.str("terror_name", NameWidth, m.TerrorName)
	return w.bytes()
}

func (m *RoundEndRequest) UnmarshalBinary(b []byte) error {
	r, err := newReader(b, RoundEndRequestSize, "round end request")
	if err != nil {
		return err
	}
	m.RoundID = r.str(IDWidth)
	m.Survived = r.boolean()
	m.Duration = r.u32()
	m.DamageDealt = r.f32()
	m.TerrorName = r.str(NameWidth)
	return nil
}

type RoundEndResponse struct {
	EndedAt int64
}

func (m RoundEndResponse) MarshalBinary() ([]byte, error) {
	w := newWriter(RoundEndResponseSize)
	w.i64(m.EndedAt)
	return w.bytes()
}

func (m *RoundEndResponse) UnmarshalBinary(b []byte) error {
	r, err := newReader(b, RoundEndResponseSize, "round end response")
	if err != nil {
		return err
	}
	m.EndedAt = r.i64()
	return nil
}

// PlayerState is the fire-and-forget UpdatePlayerState payload.
type PlayerState struct {
	InstanceID  string
	PlayerID    string
	Velocity    float32
	AFKDuration float32
	Damage      float32
	IsAlive     bool
}

func (m PlayerState) MarshalBinary() ([]byte, error) {
	w := newWriter(PlayerStateSize)
	w.str("instance_id", IDWidth, m.InstanceID)
	w.str("player_id", IDWidth, m.PlayerID)
	w.f32(m.Velocity)
	w.f32(m.AFKDuration)
	w.f32(m.Damage)
	w.boolean(m.IsAlive)
	return w.bytes()
}

func (m *PlayerState) UnmarshalBinary(b []byte) error {
	r, err := newReader(b, PlayerStateSize, "player state")
	if err != nil {
		return err
	}
	m.InstanceID = r.str(IDWidth)
	m.PlayerID = r.str(IDWidth)
	m.Velocity = r.f32()
	m.AFKDuration = r.f32()
	m.Damage = r.f32()
	m.IsAlive = r.boolean()
	return nil
}
