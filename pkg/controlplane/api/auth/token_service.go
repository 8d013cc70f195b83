// Package auth implements bearer-token authentication for the admin API.
//
// The appliance has no user database: a single admin token, signed with a
// configured secret, gates the privileged endpoints. Tokens are minted with
// `securenas token` on the device itself.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Common errors for token operations.
var (
	ErrInvalidToken        = errors.New("invalid token")
	ErrExpiredToken        = errors.New("token has expired")
	ErrTokenSigningFailed  = errors.New("failed to sign token")
	ErrInvalidSecretLength = errors.New("token secret must be at least 32 characters")
)

// Issuer is the token issuer claim.
const Issuer = "securenas"

// Claims are the JWT claims carried by admin tokens.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenService mints and validates admin tokens.
type TokenService struct {
	secret   []byte
	duration time.Duration
}

// NewTokenService creates a token service. The secret must be at least
// 32 characters; duration defaults to 12 hours when zero.
func NewTokenService(secret string, duration time.Duration) (*TokenService, error) {
	if len(secret) < 32 {
		return nil, ErrInvalidSecretLength
	}
	if duration == 0 {
		duration = 12 * time.Hour
	}
	return &TokenService{secret: []byte(secret), duration: duration}, nil
}

// MintAdminToken creates a signed admin token.
func (s *TokenService) MintAdminToken() (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.duration)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, ErrTokenSigningFailed
	}

	return signed, expiresAt, nil
}

// ValidateToken validates a token string and returns its claims.
func (s *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != Issuer {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
