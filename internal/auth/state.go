// File: internal/auth/state.go
package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Storage keys MGrant uses for its session. The token entry is the source of
// truth for "logged in"; the user entry carries the identity JSON.
const (
	TokenKey = "authToken"
	UserKey  = "user"
)

// SessionSource records where the current auth state came from.
type SessionSource string

const (
	SourceLive SessionSource = "live"
	SourceFile SessionSource = "file"
	SourceNone SessionSource = "none"
)

// State is the cached browser authentication snapshot: cookies plus both web
// storage areas, enough to reconstruct an authenticated session without
// re-submitting credentials. It is owned exclusively by the Manager; modules
// only ever observe it through the page session the Manager has configured.
type State struct {
	IsAuthenticated    bool
	Cookies            []schemas.Cookie
	LocalStorage       map[string]string
	SessionStorage     map[string]string
	User               *schemas.User
	URL                string
	Timestamp          time.Time
	LastValidated      time.Time
	ValidationAttempts int
	Source             SessionSource
}

// persistedState is the stable on-disk shape. Runtime bookkeeping
// (LastValidated, ValidationAttempts, Source) is deliberately not persisted.
type persistedState struct {
	IsAuthenticated bool              `json:"isAuthenticated"`
	Timestamp       time.Time         `json:"timestamp"`
	URL             string            `json:"url"`
	Cookies         []schemas.Cookie  `json:"cookies"`
	LocalStorage    map[string]string `json:"localStorage"`
	SessionStorage  map[string]string `json:"sessionStorage"`
	User            *schemas.User     `json:"user,omitempty"`
}

// NewState returns an empty, unauthenticated state.
func NewState() *State {
	return &State{
		LocalStorage:   make(map[string]string),
		SessionStorage: make(map[string]string),
		Source:         SourceNone,
	}
}

// Token returns the cached auth token, "" when absent.
func (s *State) Token() string {
	return s.SessionStorage[TokenKey]
}

// Validate checks the snapshot's internal consistency without touching the
// network: the state must claim authentication, hold a non-empty token, and
// resolve a user identity. Each call increments the attempt counter and
// stamps LastValidated, so staleness is observable.
func (s *State) Validate(logger *zap.Logger) bool {
	s.ValidationAttempts++
	s.LastValidated = time.Now()

	if !s.IsAuthenticated {
		logger.Debug("Auth state invalid: not flagged authenticated.")
		return false
	}

	token := s.Token()
	if token == "" {
		logger.Debug("Auth state invalid: no auth token in sessionStorage.")
		return false
	}

	if expired, ok := tokenExpired(token); ok && expired {
		logger.Debug("Auth state invalid: JWT is expired.")
		return false
	}

	if s.resolveUser() == nil {
		logger.Debug("Auth state invalid: no resolvable user identity.")
		return false
	}

	return true
}

// resolveUser returns the identity from the User field or, failing that, by
// decoding the sessionStorage user entry.
func (s *State) resolveUser() *schemas.User {
	if s.User != nil {
		return s.User
	}
	raw, ok := s.SessionStorage[UserKey]
	if !ok || raw == "" {
		return nil
	}
	var u schemas.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil
	}
	if u.ID == "" && u.Email == "" {
		return nil
	}
	s.User = &u
	return s.User
}

// tokenExpired inspects a JWT's exp claim without verifying the signature.
// The suite has no business knowing the app's signing key; it only needs to
// avoid replaying a token the app will certainly reject. Non-JWT tokens are
// reported as not inspectable.
func tokenExpired(token string) (expired, inspectable bool) {
	if strings.Count(token, ".") != 2 {
		return false, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false, false
	}
	return exp.Before(time.Now()), true
}

// Reset returns a cleared state, logging why the previous one was discarded.
func (s *State) Reset(reason string, logger *zap.Logger) *State {
	logger.Info("Resetting auth state.", zap.String("reason", reason))
	return NewState()
}

// Serialize encodes the snapshot in its stable on-disk shape.
func (s *State) Serialize() ([]byte, error) {
	p := persistedState{
		IsAuthenticated: s.IsAuthenticated,
		Timestamp:       s.Timestamp,
		URL:             s.URL,
		Cookies:         s.Cookies,
		LocalStorage:    s.LocalStorage,
		SessionStorage:  s.SessionStorage,
		User:            s.User,
	}
	return json.MarshalIndent(p, "", "  ")
}

// Deserialize decodes a persisted snapshot. Malformed input yields a
// *CorruptSessionError; the caller must fall back to "no session".
func Deserialize(data []byte) (*State, error) {
	var p persistedState
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &CorruptSessionError{Err: err}
	}

	s := NewState()
	s.IsAuthenticated = p.IsAuthenticated
	s.Timestamp = p.Timestamp
	s.URL = p.URL
	s.Cookies = p.Cookies
	if p.LocalStorage != nil {
		s.LocalStorage = p.LocalStorage
	}
	if p.SessionStorage != nil {
		s.SessionStorage = p.SessionStorage
	}
	s.User = p.User
	s.Source = SourceFile
	return s, nil
}
