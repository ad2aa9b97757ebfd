package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSource_RoundTrip(t *testing.T) {
	src, err := NewTokenSource("s3cret", "docwatch", "firestore-test", time.Hour, false)
	require.NoError(t, err)

	md, err := src.GetRequestMetadata(context.Background())
	require.NoError(t, err)
	header := md[HeaderKey()]
	require.True(t, strings.HasPrefix(header, "Bearer "))
	assert.False(t, src.RequireTransportSecurity())

	claims, err := NewValidator("s3cret", "firestore-test").ValidateHeader(header)
	require.NoError(t, err)
	assert.Equal(t, "docwatch", claims.Subject)
	assert.Equal(t, "firestore-test", claims.Project)

	// Cached until it nears expiry.
	again, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, strings.TrimPrefix(header, "Bearer "), again)
}

func TestNewTokenSource_Invalid(t *testing.T) {
	_, err := NewTokenSource("", "s", "p", time.Hour, true)
	assert.Error(t, err)
	_, err = NewTokenSource("x", "s", "p", time.Second, true)
	assert.Error(t, err)
}

func TestValidator_Rejects(t *testing.T) {
	src, err := NewTokenSource("s3cret", "docwatch", "firestore-test", time.Hour, true)
	require.NoError(t, err)
	token, err := src.Token()
	require.NoError(t, err)

	_, err = NewValidator("other", "").Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewValidator("s3cret", "another-project").Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewValidator("s3cret", "").ValidateHeader(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
	})
	signed, err := expired.SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = NewValidator("s3cret", "").Validate(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
