package security

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims is the payload of a short-lived access token. Not tracked
// server-side.
type AccessClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token. SessionID names the
// refresh-session row whose hash column tracks this token.
type RefreshClaims struct {
	UserID    string `json:"uid"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies HS512-signed tokens. Construct one per
// process and inject it; there is no package-level instance.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenIssuer(secret string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

func (i *TokenIssuer) IssueAccess(userID string) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// IssueRefresh returns the signed token together with the expiry instant it
// embeds, so the session row and the token derive from the same clock read.
func (i *TokenIssuer) IssueRefresh(userID string, sessionID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(i.refreshTTL)
	claims := RefreshClaims{
		UserID:    userID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, expiresAt, nil
}

func (i *TokenIssuer) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := i.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// ParseRefresh verifies signature and expiry of a presented refresh token.
// It says nothing about whether the matching session is still active.
func (i *TokenIssuer) ParseRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := i.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (i *TokenIssuer) parse(tokenStr string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}

// HashRefreshToken is the deterministic digest used as the session lookup
// key. Unlike password hashing it must be stable across calls.
func HashRefreshToken(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}
