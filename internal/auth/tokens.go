package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	Issuer           = "docqa-platform"
	DefaultAccessTTL = time.Hour

	revokedPrefix = "revoked:"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrRevokedToken = errors.New("token revoked")
)

type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Tokens signs and validates HS256 access tokens. When a Redis client is
// set, revoked token ids are kept there until the token would expire.
type Tokens struct {
	secret []byte
	rdb    *redis.Client
	ttl    time.Duration
}

func NewTokens(secret string, rdb *redis.Client) (*Tokens, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("ACCESS_SECRET must be configured")
	}
	return &Tokens{secret: []byte(secret), rdb: rdb, ttl: DefaultAccessTTL}, nil
}

// WithTTL returns a copy that issues tokens valid for ttl.
func (t *Tokens) WithTTL(ttl time.Duration) *Tokens {
	cp := *t
	cp.ttl = ttl
	return &cp
}

func (t *Tokens) Issue(userID, email string) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(t.ttl)
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    Issuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token failed: %w", err)
	}
	return signed, exp, nil
}

func (t *Tokens) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Prevent algorithm confusion attacks
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return t.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	if t.rdb != nil && claims.ID != "" {
		n, err := t.rdb.Exists(ctx, revokedPrefix+claims.ID).Result()
		if err != nil {
			return nil, fmt.Errorf("check revocation failed: %w", err)
		}
		if n > 0 {
			return nil, ErrRevokedToken
		}
	}

	return claims, nil
}

// Revoke denies claims' token until it expires.
func (t *Tokens) Revoke(ctx context.Context, claims *Claims) error {
	if t.rdb == nil || claims.ID == "" {
		return nil
	}
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		if remaining := time.Until(claims.ExpiresAt.Time); remaining > 0 {
			ttl = remaining
		}
	}
	return t.rdb.Set(ctx, revokedPrefix+claims.ID, claims.UserID, ttl).Err()
}
