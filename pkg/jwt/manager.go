package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Claims is the JWT payload for wiki actors calling the moderation API.
// Capabilities mirror the wiki's permission grants; the skip policy reads
// them instead of calling back into the account subsystem.
type Claims struct {
	jwt.RegisteredClaims
	UserID       int64    `json:"user_id"`
	UserName     string   `json:"user_name"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Has reports whether the token carries the given capability
func (c *Claims) Has(capability string) bool {
	for _, g := range c.Capabilities {
		if g == capability {
			return true
		}
	}
	return false
}

// Manager signs and verifies moderation API tokens
type Manager struct {
	secretKey []byte
	ttl       time.Duration
}

// NewManager creates a token manager
func NewManager(secret string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{secretKey: []byte(secret), ttl: ttl}
}

// IssueToken creates a signed token for the given actor
func (m *Manager) IssueToken(userID int64, userName string, capabilities []string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		UserID:       userID,
		UserName:     userName,
		Capabilities: capabilities,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// VerifyToken validates a token and returns its claims
func (m *Manager) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secretKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
