// Package auth checks the shared peer token presented on the WebSocket
// upgrade. Protocol ZERO frames carry no credentials of their own.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

const HeaderAuthorization = "Authorization"

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrMissingToken = errors.New("auth: missing bearer token")
)

// Validator validates a peer token.
type Validator interface {
	Validate(token string) error
}

// StaticToken accepts exactly one shared token. An empty Token rejects
// everything.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header.
func BearerToken(h http.Header) (string, error) {
	raw := strings.TrimSpace(h.Get(HeaderAuthorization))
	scheme, token, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMissingToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// SetBearer returns a copy of h carrying token. A nil h is allowed.
func SetBearer(h http.Header, token string) http.Header {
	out := h.Clone()
	if out == nil {
		out = http.Header{}
	}
	out.Set(HeaderAuthorization, "Bearer "+token)
	return out
}

// CheckRequest validates the bearer token on r.
func CheckRequest(v Validator, r *http.Request) error {
	token, err := BearerToken(r.Header)
	if err != nil {
		return err
	}
	return v.Validate(token)
}
