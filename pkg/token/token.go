// Package token, relay bağlantı token'larının üretimi ve doğrulamasını sağlar.
//
// WebSocket bağlantısında HTTP Authorization header göndermek zordur
// (tarayıcı sınırlaması), bu yüzden token URL query parameter'ı olarak
// taşınır: ws://relay/rt?token=JWT_TOKEN
//
// Manager hem relay tarafında (doğrulama) hem client tarafında
// (embedder token üretiyorsa) kullanılır. HMAC (simetrik) imza yeterli —
// token'ı üreten ve doğrulayan aynı sistemdir.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/akinalp/kurye/models"
	"github.com/akinalp/kurye/pkg"
)

// Manager, JWT bağlantı token'larını imzalar ve doğrular.
type Manager struct {
	secret []byte
	expiry time.Duration
}

// NewManager, verilen secret ve geçerlilik süresi ile Manager oluşturur.
func NewManager(secret string, expiry time.Duration) *Manager {
	return &Manager{
		secret: []byte(secret),
		expiry: expiry,
	}
}

// Sign, kullanıcı için yeni bir bağlantı token'ı üretir.
func (m *Manager) Sign(userID string, role models.Role) (string, error) {
	now := time.Now()
	claims := models.TokenClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign connection token: %w", err)
	}
	return signed, nil
}

// Validate, token string'ini doğrular ve claim'leri döner.
//
// Signing method kontrolü önemli: "alg: none" veya RSA gibi beklenmeyen
// bir method ile imzalanmış token reddedilir.
func (m *Manager) Validate(tokenString string) (*models.TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.TokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: invalid token", pkg.ErrUnauthorized)
	}

	claims, ok := token.Claims.(*models.TokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", pkg.ErrUnauthorized)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: token missing user_id", pkg.ErrUnauthorized)
	}

	return claims, nil
}
