package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_IssueAndValidate(t *testing.T) {
	s := NewAuthService("secret", 24)

	token, err := s.IssueToken("user-1", "a@example.com")
	require.NoError(t, err)

	uid, claims, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", uid)
	assert.Equal(t, "a@example.com", claims["email"])
}

func TestAuthService_RejectsWrongSecret(t *testing.T) {
	token, err := NewAuthService("secret", 24).IssueToken("user-1", "")
	require.NoError(t, err)

	_, _, err = NewAuthService("other", 24).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_RejectsExpired(t *testing.T) {
	s := NewAuthService("secret", 1)
	issued := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return issued }

	token, err := s.IssueToken("user-1", "")
	require.NoError(t, err)

	s.now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, _, err = s.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_UserIDClaim(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "legacy-1",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	uid, _, err := NewAuthService("secret", 1).ValidateToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "legacy-1", uid)
}

func TestAuthService_NoSubject(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, _, err = NewAuthService("secret", 1).ValidateToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_Disabled(t *testing.T) {
	s := NewAuthService("", 1)
	assert.False(t, s.Enabled())

	_, err := s.IssueToken("u", "")
	assert.Error(t, err)
	_, _, err = s.ValidateToken("anything")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
