package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/covella/loginguard/internal/models"
)

// AdminClaims are the claims carried by an admin API token. Tokens are
// minted by ops tooling; this service only validates them.
type AdminClaims struct {
	Subject string `json:"sub_name"`
	Scope   string `json:"scope"`
	jwt.RegisteredClaims
}

// TokenManager validates admin bearer tokens for the admin surface
type TokenManager struct {
	secret []byte
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string) *TokenManager {
	return &TokenManager{secret: []byte(secret)}
}

// GenerateAdminToken mints an HS256 admin token. Used by provisioning
// tooling and tests; the request path never calls this.
func (tm *TokenManager) GenerateAdminToken(subject string, expiry time.Duration) (string, error) {
	claims := &AdminClaims{
		Subject: subject,
		Scope:   "guard:admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign admin token: %w", err)
	}

	return signed, nil
}

// ValidateToken verifies an admin token and returns its claims
func (tm *TokenManager) ValidateToken(tokenString string) (*AdminClaims, error) {
	claims := &AdminClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Scope != "guard:admin" {
		return nil, models.ErrUnauthorized
	}

	return claims, nil
}
