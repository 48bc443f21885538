package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token kinds carried in the token_type claim. Access tokens authenticate
// requests; refresh tokens can only mint a new pair.
const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

type Claims struct {
	UserID    uuid.UUID `json:"user_id"`
	StoreID   uuid.UUID `json:"store_id"`
	Role      string    `json:"role"`
	TokenType string    `json:"token_type"`
	jwt.RegisteredClaims
}

func GenerateToken(secret string, userID, storeID uuid.UUID, role string) (string, error) {
	claims := Claims{
		UserID:    userID,
		StoreID:   storeID,
		Role:      role,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// GenerateRefreshToken mints a long-lived token carrying only the user id.
// Store and role are resolved fresh on refresh, so a role change takes effect
// on the next token pair.
func GenerateRefreshToken(secret string, userID uuid.UUID) (string, error) {
	claims := Claims{
		UserID:    userID,
		TokenType: tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(7 * 24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken accepts access tokens only. A refresh token presented as a
// bearer token is rejected outright.
func ValidateToken(secret, tokenStr string) (*Claims, error) {
	claims, err := parse(secret, tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeAccess {
		return nil, fmt.Errorf("not an access token")
	}
	return claims, nil
}

// ValidateRefreshToken accepts refresh tokens only and returns the user id
// they were minted for.
func ValidateRefreshToken(secret, tokenStr string) (uuid.UUID, error) {
	claims, err := parse(secret, tokenStr)
	if err != nil {
		return uuid.Nil, err
	}
	if claims.TokenType != tokenTypeRefresh {
		return uuid.Nil, fmt.Errorf("not a refresh token")
	}
	return claims.UserID, nil
}

func parse(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
