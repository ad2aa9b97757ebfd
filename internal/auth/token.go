// Package auth mints and validates the bearer tokens attached to every
// call when a shared secret is configured.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	authorizationHeader = "authorization"
	bearerPrefix        = "Bearer "

	// refreshMargin is how long before expiry a cached token is replaced.
	refreshMargin = 30 * time.Second
)

var ErrInvalidToken = errors.New("invalid token")

// Claims identifies the caller and the project it may access.
type Claims struct {
	Project string `json:"project"`
	jwt.RegisteredClaims
}

// TokenSource signs HS256 tokens with a shared secret and caches the
// current one until it nears expiry.
type TokenSource struct {
	secret  []byte
	subject string
	project string
	ttl     time.Duration
	secure  bool

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewTokenSource creates a source. secure controls whether gRPC refuses to
// send the token over plaintext connections.
func NewTokenSource(secret, subject, project string, ttl time.Duration, secure bool) (*TokenSource, error) {
	if secret == "" {
		return nil, errors.New("auth secret cannot be empty")
	}
	if ttl <= refreshMargin {
		return nil, fmt.Errorf("token ttl must exceed %s", refreshMargin)
	}
	return &TokenSource{
		secret:  []byte(secret),
		subject: subject,
		project: project,
		ttl:     ttl,
		secure:  secure,
	}, nil
}

// Token returns a valid signed token.
func (s *TokenSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if s.token != "" && now.Add(refreshMargin).Before(s.expires) {
		return s.token, nil
	}

	expires := now.Add(s.ttl)
	claims := Claims{
		Project: s.project,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.subject,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	s.token, s.expires = signed, expires
	return signed, nil
}

// GetRequestMetadata implements credentials.PerRPCCredentials.
func (s *TokenSource) GetRequestMetadata(_ context.Context, _ ...string) (map[string]string, error) {
	token, err := s.Token()
	if err != nil {
		return nil, err
	}
	return map[string]string{authorizationHeader: bearerPrefix + token}, nil
}

// RequireTransportSecurity implements credentials.PerRPCCredentials.
func (s *TokenSource) RequireTransportSecurity() bool { return s.secure }

// Validator checks tokens signed by a TokenSource with the same secret.
type Validator struct {
	secret  []byte
	project string
}

// NewValidator creates a validator. A non-empty project restricts tokens
// to that project.
func NewValidator(secret, project string) *Validator {
	return &Validator{secret: []byte(secret), project: project}
}

// ValidateHeader validates an "authorization" metadata value.
func (v *Validator) ValidateHeader(header string) (*Claims, error) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return nil, fmt.Errorf("%w: missing bearer prefix", ErrInvalidToken)
	}
	return v.Validate(strings.TrimPrefix(header, bearerPrefix))
}

func (v *Validator) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if v.project != "" && claims.Project != v.project {
		return nil, fmt.Errorf("%w: token for project %q", ErrInvalidToken, claims.Project)
	}
	return claims, nil
}

// HeaderKey is the metadata key tokens travel under.
func HeaderKey() string { return authorizationHeader }
