package github

import (
	"context"
	"crypto/rsa"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// TokenSource yields bearer tokens for the GitHub API. Invalidate marks
// the current token stale so the next Token call produces a fresh one;
// the client calls it exactly once per request on a 401 before its
// single retry, which keeps persistently bad credentials from looping.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// StaticTokenSource adapts a fixed personal access token.
type StaticTokenSource struct {
	source oauth2.TokenSource
}

// NewStaticTokenSource wraps the given access token.
func NewStaticTokenSource(accessToken string) *StaticTokenSource {
	return &StaticTokenSource{
		source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}),
	}
}

// Token returns the configured access token.
func (s *StaticTokenSource) Token(_ context.Context) (string, error) {
	token, err := s.source.Token()
	if err != nil {
		return "", fmt.Errorf("static token: %w", err)
	}
	return token.AccessToken, nil
}

// Invalidate is a no-op: a static token cannot be refreshed, so the
// client's retry will fail the same way and surface the 401.
func (s *StaticTokenSource) Invalidate() {}

// AppTokenSource mints short-lived RS256 app JWTs from a GitHub App
// private key. Tokens are cached until shortly before expiry.
type AppTokenSource struct {
	appID string
	key   *rsa.PrivateKey

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewAppTokenSource loads the RSA private key at pemPath.
func NewAppTokenSource(appID, pemPath string) (*AppTokenSource, error) {
	pem, err := os.ReadFile(pemPath)
	if err != nil {
		return nil, fmt.Errorf("read app key: %w", err)
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse app key: %w", err)
	}

	return &AppTokenSource{appID: appID, key: key}, nil
}

// Token returns a cached app JWT, minting a new one when the cache is
// empty or near expiry.
func (s *AppTokenSource) Token(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if s.token != "" && now.Before(s.expires.Add(-30*time.Second)) {
		return s.token, nil
	}

	claims := jwt.MapClaims{
		"iss": s.appID,
		// backdate iat to absorb clock drift between us and GitHub
		"iat": now.Add(-time.Minute).Unix(),
		"exp": now.Add(10 * time.Minute).Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign app jwt: %w", err)
	}

	s.token = signed
	s.expires = now.Add(10 * time.Minute)
	return signed, nil
}

// Invalidate drops the cached JWT.
func (s *AppTokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expires = time.Time{}
}
