package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// AuthService verifies bearer tokens issued by the identity provider. Users
// never log in here.
type AuthService struct {
	jwtSecret []byte // Stored in env (JWT_SECRET)
	jwtExpiry time.Duration
	now       func() time.Time
}

func NewAuthService(secret string, expiryHours int) *AuthService {
	return &AuthService{
		jwtSecret: []byte(secret),
		jwtExpiry: time.Duration(expiryHours) * time.Hour,
		now:       time.Now,
	}
}

// Enabled reports whether a signing secret is configured.
func (s *AuthService) Enabled() bool {
	return len(s.jwtSecret) > 0
}

// Issues a token for uid. Used by the CLI and tests
func (s *AuthService) IssueToken(uid, email string) (string, error) {
	if !s.Enabled() {
		return "", errors.New("JWT secret is not configured")
	}

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   uid,
		"email": email,
		"exp":   now.Add(s.jwtExpiry).Unix(),
		"iat":   now.Unix(),
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	return tokenString, nil
}

// Validates a JWT token and returns the caller's uid
func (s *AuthService) ValidateToken(tokenString string) (string, jwt.MapClaims, error) {
	if !s.Enabled() {
		return "", nil, ErrInvalidToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Verifying signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", nil, ErrInvalidToken
	}

	uid := subject(claims)
	if uid == "" {
		return "", nil, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}

	return uid, claims, nil
}

// subject prefers the standard sub claim and falls back to user_id.
func subject(claims jwt.MapClaims) string {
	for _, key := range []string{"sub", "user_id"} {
		if s, ok := claims[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
