// Package creds persists the bearer credential the transport attaches
// to every API call. Authentication itself happens against the server;
// this package only stores what the server issued.
package creds

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nordaqua/fieldsync/internal/models"
)

// TokenInfo is the persisted credential.
type TokenInfo struct {
	Token     string    `json:"token"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	SavedAt   time.Time `json:"saved_at"`
}

// IsExpired reports whether the token is past its expiry. Tokens
// without a known expiry are assumed valid; the server is the judge.
func (t *TokenInfo) IsExpired() bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(t.ExpiresAt)
}

// TokenStore is a file-backed credential store.
type TokenStore struct {
	path string

	mu     sync.RWMutex
	cached *TokenInfo
}

// NewTokenStore creates a store at path.
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// Save persists a token. Expiry is read from the JWT's exp claim when
// present; the signature is not verified here, the server does that on
// every call.
func (s *TokenStore) Save(token, email string) error {
	info := &TokenInfo{
		Token:   token,
		Email:   email,
		SavedAt: time.Now().UTC(),
	}

	if exp, ok := tokenExpiry(token); ok {
		info.ExpiresAt = exp
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}

	s.mu.Lock()
	s.cached = info
	s.mu.Unlock()
	return nil
}

// Load reads the stored token.
func (s *TokenStore) Load() (*TokenInfo, error) {
	s.mu.RLock()
	if s.cached != nil {
		info := *s.cached
		s.mu.RUnlock()
		return &info, nil
	}
	s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, models.ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}

	var info TokenInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}

	s.mu.Lock()
	s.cached = &info
	s.mu.Unlock()
	return &info, nil
}

// Clear removes the stored token.
func (s *TokenStore) Clear() error {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Token implements transport.TokenSource. An expired token surfaces as
// models.ErrTokenExpired so a sync pass can skip cleanly instead of
// burning its retry budget on 401 responses.
func (s *TokenStore) Token() (string, error) {
	info, err := s.Load()
	if err != nil {
		return "", err
	}
	if info.IsExpired() {
		return "", models.ErrTokenExpired
	}
	return info.Token, nil
}

// tokenExpiry extracts the exp claim from a JWT without verifying it.
func tokenExpiry(token string) (time.Time, bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
