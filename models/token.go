package models

import "github.com/golang-jwt/jwt/v5"

// TokenClaims, relay bağlantı token'ının JWT claim'leri.
//
// jwt.RegisteredClaims embed edilir — exp/iat gibi standart alanları
// ve bunların doğrulamasını kütüphane sağlar, biz sadece kendi custom
// claim'lerimizi ekleriz.
type TokenClaims struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	jwt.RegisteredClaims
}
