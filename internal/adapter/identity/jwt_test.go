package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yassinshaher1/CCB/internal/core/domain"
)

func TestAuthenticateBearer_RoundTrip(t *testing.T) {
	auth := NewJWTAuthenticator("test-secret")

	token, err := auth.Issue(domain.Principal{SubjectID: "user-1", Email: "ann@shop.test", Role: "customer"}, time.Hour)
	require.NoError(t, err)

	p, err := auth.AuthenticateBearer(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.SubjectID)
	assert.Equal(t, "ann@shop.test", p.Email)
	assert.Equal(t, "customer", p.Role)
	assert.False(t, p.IsAdmin())
	assert.True(t, p.Owns("ann@shop.test"))
	assert.False(t, p.Owns("bob@shop.test"))
	assert.False(t, p.Owns(""))
}

func TestAuthenticateBearer_Rejects(t *testing.T) {
	auth := NewJWTAuthenticator("test-secret")
	other := NewJWTAuthenticator("other-secret")

	expired, err := auth.Issue(domain.Principal{SubjectID: "user-1"}, -time.Minute)
	require.NoError(t, err)

	foreign, err := other.Issue(domain.Principal{SubjectID: "user-1"}, time.Hour)
	require.NoError(t, err)

	noSubject, err := auth.Issue(domain.Principal{Role: "admin"}, time.Hour)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not-a-jwt"},
		{name: "expired", token: expired},
		{name: "wrong_secret", token: foreign},
		{name: "missing_subject", token: noSubject},
		{name: "alg_none", token: none},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.AuthenticateBearer(context.Background(), tt.token)
			if !errors.Is(err, domain.ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}
