// Package serviceauth mints short-lived bearer tokens for service-to-service
// calls to collaborator APIs.
package serviceauth

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identify the calling service to a collaborator.
type Claims struct {
	Service string `json:"service"`
	jwt.RegisteredClaims
}

// Minter produces HS256 tokens under a shared secret. Tokens are cached and
// reused until the last quarter of their lifetime.
type Minter struct {
	secret  []byte
	service string
	ttl     time.Duration

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewMinter creates a Minter. ttl <= 0 defaults to two minutes, enough for a
// single request plus clock skew.
func NewMinter(secret, service string, ttl time.Duration) *Minter {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Minter{secret: []byte(secret), service: service, ttl: ttl}
}

// Mint returns a signed bearer token, reusing the cached one while it still
// has at least a quarter of its lifetime left.
func (m *Minter) Mint() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if m.token != "" && now.Before(m.expires.Add(-m.ttl/4)) {
		return m.token, nil
	}

	claims := Claims{
		Service: m.service,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    m.service,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	m.token = token
	m.expires = now.Add(m.ttl)
	return token, nil
}

// Verify parses and validates a token produced by a Minter with the same
// secret. Used in tests and by collaborator fakes.
func Verify(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse service token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid service token")
	}
	return claims, nil
}
