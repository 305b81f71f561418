package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"guardianlink/internal/storage"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the access token payload. Role and organization ride along so
// request handlers can authorize without a user lookup.
type Claims struct {
	UserID         string       `json:"uid"`
	Role           storage.Role `json:"role"`
	OrganizationID string       `json:"org,omitempty"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 access tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

func NewSigner(secret string, ttl time.Duration) Signer {
	return Signer{secret: []byte(secret), ttl: ttl}
}

func (s Signer) Issue(u storage.User) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:         u.ID,
		Role:           u.Role,
		OrganizationID: u.OrganizationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

func (s Signer) Parse(raw string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
