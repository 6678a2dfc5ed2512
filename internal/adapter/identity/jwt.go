// Package identity verifies bearer tokens issued by the identity service.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yassinshaher1/CCB/internal/core/domain"
)

type claims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator accepts HS256 tokens carrying {sub, role, exp} and an optional email.
type JWTAuthenticator struct {
	secret []byte
}

func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

func (a *JWTAuthenticator) AuthenticateBearer(_ context.Context, token string) (domain.Principal, error) {
	if token == "" {
		return domain.Principal{}, fmt.Errorf("empty token: %w", domain.ErrUnauthorized)
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return domain.Principal{}, fmt.Errorf("invalid or expired token: %w", domain.ErrUnauthorized)
	}

	if c.Subject == "" {
		return domain.Principal{}, fmt.Errorf("sub not found in token: %w", domain.ErrUnauthorized)
	}

	return domain.Principal{SubjectID: c.Subject, Email: c.Email, Role: c.Role}, nil
}

// Issue signs a token the way the identity service does. Used by tests and local tooling.
func (a *JWTAuthenticator) Issue(p domain.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role:  p.Role,
		Email: p.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.SubjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("token generation failed: %w", err)
	}
	return signed, nil
}
