// Package auth supplies the bearer token pair attached to every outbound frame.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoTokens indicates that a source has no token pair to hand out.
var ErrNoTokens = errors.New("no tokens available")

// DefaultSkew is how long before expiry a cached ID token is refreshed.
const DefaultSkew = 60 * time.Second

// TokenPair is the ID/access token pair issued by the identity provider.
type TokenPair struct {
	IDToken     string `json:"idToken"`
	AccessToken string `json:"accessToken"`
}

// Empty reports whether neither token is set.
func (p TokenPair) Empty() bool {
	return p.IDToken == "" && p.AccessToken == ""
}

// Provider hands out a currently valid token pair.
type Provider interface {
	Tokens(ctx context.Context) (TokenPair, error)
	// Invalidate discards any cached pair so the next Tokens call refetches.
	Invalidate()
}

// Source fetches a fresh token pair.
type Source interface {
	Fetch(ctx context.Context) (TokenPair, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (TokenPair, error)

// Fetch calls f.
func (f SourceFunc) Fetch(ctx context.Context) (TokenPair, error) {
	return f(ctx)
}

// StaticSource always returns the same pair, typically from the environment.
type StaticSource TokenPair

// Fetch returns the static pair, or ErrNoTokens when it is empty.
func (s StaticSource) Fetch(ctx context.Context) (TokenPair, error) {
	if TokenPair(s).Empty() {
		return TokenPair{}, ErrNoTokens
	}
	return TokenPair(s), nil
}

// FileSource reads a JSON token pair written by an external login flow.
// The file is re-read on every fetch so a refreshed login is picked up.
type FileSource struct {
	Path string
}

// Fetch reads and decodes the token file.
func (s FileSource) Fetch(ctx context.Context) (TokenPair, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return TokenPair{}, fmt.Errorf("read token file: %w", err)
	}
	var pair TokenPair
	if err := json.Unmarshal(data, &pair); err != nil {
		return TokenPair{}, fmt.Errorf("decode token file: %w", err)
	}
	if pair.Empty() {
		return TokenPair{}, ErrNoTokens
	}
	return pair, nil
}

// Cached wraps a Source and reuses its pair until the ID token nears expiry.
// All methods are safe for concurrent use.
type Cached struct {
	src    Source
	skew   time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	cur    TokenPair
	expiry time.Time
	valid  bool
}

// NewCached creates a caching provider over src.
func NewCached(src Source, skew time.Duration, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{src: src, skew: skew, logger: logger, now: time.Now}
}

// Tokens returns the cached pair or fetches a new one.
func (c *Cached) Tokens(ctx context.Context) (TokenPair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && (c.expiry.IsZero() || c.now().Add(c.skew).Before(c.expiry)) {
		return c.cur, nil
	}

	pair, err := c.src.Fetch(ctx)
	if err != nil {
		c.valid = false
		return TokenPair{}, fmt.Errorf("fetch tokens: %w", err)
	}

	exp, err := Expiry(pair.IDToken)
	if err != nil {
		c.logger.Debug("id token expiry unknown, caching until invalidated", "error", err)
	}
	c.cur, c.expiry, c.valid = pair, exp, true
	return pair, nil
}

// Invalidate drops the cached pair.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
	c.cur = TokenPair{}
}

// Expiry returns the exp claim of a JWT without verifying its signature;
// verification is the backend's job. A token without exp yields the zero time.
func Expiry(token string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}
