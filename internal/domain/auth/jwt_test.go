package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotpool/internal/core/apperror"
	appctx "lotpool/internal/core/context"
)

func TestJWTService_RoundTrip(t *testing.T) {
	s := NewJWTService(DefaultJWTConfig("secret"))

	token, exp, err := s.GenerateAccessToken(appctx.UserContext{UserID: "ret-1", Email: "a@b.c", Role: appctx.RoleRetailer})
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	user, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ret-1", user.UserID)
	assert.Equal(t, appctx.RoleRetailer, user.Role)
	assert.NotEmpty(t, user.SessionID)
}

func TestJWTService_Rejects(t *testing.T) {
	s := NewJWTService(DefaultJWTConfig("secret"))
	other := NewJWTService(DefaultJWTConfig("other"))

	foreign, _, err := other.GenerateAccessToken(appctx.UserContext{UserID: "x", Role: appctx.RoleAdmin})
	require.NoError(t, err)

	expiredCfg := DefaultJWTConfig("secret")
	expiredCfg.AccessTokenTTL = -time.Minute
	expired, _, err := NewJWTService(expiredCfg).GenerateAccessToken(appctx.UserContext{UserID: "x", Role: appctx.RoleAdmin})
	require.NoError(t, err)

	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "marketplace",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		UserID: "x",
		Role:   "superuser",
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"wrong secret": foreign,
		"expired":      expired,
		"unknown role": badRole,
		"garbage":      "not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.ValidateToken(token)
			assert.True(t, apperror.IsCode(err, apperror.CodeUnauthorized), "got %v", err)
		})
	}
}
