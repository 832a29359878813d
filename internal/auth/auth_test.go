package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(exp.Add(-time.Hour)),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestExpiry(t *testing.T) {
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	got, err := Expiry(signedToken(t, exp))
	require.NoError(t, err)
	assert.True(t, got.Equal(exp))

	_, err = Expiry("not-a-jwt")
	assert.Error(t, err)
}

func TestCachedRefreshesNearExpiry(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	fetches := 0
	src := SourceFunc(func(ctx context.Context) (TokenPair, error) {
		fetches++
		return TokenPair{IDToken: signedToken(t, now.Add(10*time.Minute)), AccessToken: "access"}, nil
	})

	c := NewCached(src, time.Minute, nil)
	c.now = func() time.Time { return now }

	_, err := c.Tokens(context.Background())
	require.NoError(t, err)
	_, err = c.Tokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fetches, "second call should hit the cache")

	now = now.Add(9*time.Minute + 30*time.Second)
	_, err = c.Tokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fetches, "token inside the skew window should be refreshed")
}

func TestCachedInvalidate(t *testing.T) {
	fetches := 0
	c := NewCached(SourceFunc(func(ctx context.Context) (TokenPair, error) {
		fetches++
		return TokenPair{IDToken: "opaque", AccessToken: "opaque"}, nil
	}), DefaultSkew, nil)

	_, err := c.Tokens(context.Background())
	require.NoError(t, err)
	_, err = c.Tokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fetches, "opaque tokens are cached until invalidated")

	c.Invalidate()
	_, err = c.Tokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fetches)
}

func TestSources(t *testing.T) {
	_, err := StaticSource{}.Fetch(context.Background())
	assert.True(t, errors.Is(err, ErrNoTokens))

	pair, err := StaticSource{IDToken: "id", AccessToken: "ac"}.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "id", pair.IDToken)

	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"idToken":"i","accessToken":"a"}`), 0o600))
	pair, err = FileSource{Path: path}.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TokenPair{IDToken: "i", AccessToken: "a"}, pair)

	_, err = FileSource{Path: filepath.Join(t.TempDir(), "missing.json")}.Fetch(context.Background())
	assert.Error(t, err)
}
