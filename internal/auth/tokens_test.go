package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-at-least-32-bytes!!"

func newTokens(t *testing.T) (*Tokens, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tokens, err := NewTokens(testSecret, rdb)
	require.NoError(t, err)
	return tokens, mr
}

func TestIssueAndValidate(t *testing.T) {
	ctx := context.Background()
	tokens, _ := newTokens(t)

	signed, exp, err := tokens.Issue("u1", "u1@example.com")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(DefaultAccessTTL), exp, 5*time.Second)

	claims, err := tokens.Validate(ctx, signed)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "u1@example.com", claims.Email)
	assert.Equal(t, Issuer, claims.Issuer)
}

func TestValidateRejectsBadTokens(t *testing.T) {
	ctx := context.Background()
	tokens, _ := newTokens(t)

	_, err := tokens.Validate(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewTokens("another-secret-that-is-long-enough!!", nil)
	require.NoError(t, err)
	foreign, _, err := other.Issue("u1", "")
	require.NoError(t, err)
	_, err = tokens.Validate(ctx, foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, _, err := tokens.WithTTL(-time.Minute).Issue("u1", "")
	require.NoError(t, err)
	_, err = tokens.Validate(ctx, expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tokens.Validate(ctx, unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSubjectFallback(t *testing.T) {
	tokens, _ := newTokens(t)

	claims := jwt.RegisteredClaims{
		Subject:   "from-sub",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	got, err := tokens.Validate(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, "from-sub", got.UserID)
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	tokens, mr := newTokens(t)

	signed, _, err := tokens.Issue("u1", "")
	require.NoError(t, err)
	claims, err := tokens.Validate(ctx, signed)
	require.NoError(t, err)

	require.NoError(t, tokens.Revoke(ctx, claims))
	assert.True(t, mr.Exists(revokedPrefix+claims.ID))

	_, err = tokens.Validate(ctx, signed)
	assert.ErrorIs(t, err, ErrRevokedToken)
}
