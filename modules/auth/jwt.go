// Package auth verifies the bearer tokens FlowPilot clients present. Tokens
// are issued by the main application; this service only checks them.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	domain "github.com/luisnisc/flowpilot-sub000/domain/chat"
)

const tokenTypeAccess = "access"

var (
	// ErrInvalidToken is returned when the token is invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
	// ErrIdentityMismatch is returned when a request names a user other than
	// the token's subject.
	ErrIdentityMismatch = errors.New("identity does not match token")
)

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	SecretKey           string
	AccessTokenDuration time.Duration
	Issuer              string
}

// JWTClaims represents the custom claims for JWT tokens.
type JWTClaims struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Identity returns the normalised email the token was issued for.
func (c *JWTClaims) Identity() string {
	return domain.NormalizeIdentity(c.Email)
}

// JWTManager handles JWT token operations.
type JWTManager struct {
	config JWTConfig
}

// NewJWTManager creates a new JWTManager. An empty secret yields nil, which
// callers treat as authentication disabled.
func NewJWTManager(config JWTConfig) *JWTManager {
	if config.SecretKey == "" {
		return nil
	}
	if config.AccessTokenDuration <= 0 {
		config.AccessTokenDuration = 15 * time.Minute
	}
	if config.Issuer == "" {
		config.Issuer = "flowpilot"
	}
	return &JWTManager{config: config}
}

// GenerateAccessToken issues an access token. The realtime server never
// calls it; it exists for tools and tests that need a valid token.
func (m *JWTManager) GenerateAccessToken(userID, email string) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		UserID:    userID,
		Email:     email,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.config.SecretKey))
}

// ValidateToken validates the token and returns the claims if valid.
func (m *JWTManager) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(m.config.SecretKey), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// ValidateAccessToken validates an access token carrying an email.
func (m *JWTManager) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	if claims.TokenType != tokenTypeAccess || claims.Identity() == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// CheckIdentity reports ErrIdentityMismatch when claims are present and
// identity is not the token's email. Nil claims mean authentication is off.
func CheckIdentity(claims *JWTClaims, identity string) error {
	if claims == nil {
		return nil
	}
	if domain.NormalizeIdentity(identity) != claims.Identity() {
		return ErrIdentityMismatch
	}
	return nil
}
