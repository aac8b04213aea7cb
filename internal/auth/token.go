package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kbekoe/databroker/internal/errs"
)

type TokenManager struct {
	secretKey []byte
}

func NewTokenManager(secretKey string) *TokenManager {
	return &TokenManager{[]byte(secretKey)}
}

func (tm *TokenManager) GenerateToken(subject int64, role string) (string, error) {
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  time.Now().Add(24 * time.Hour).Unix(),
		"iat":  time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secretKey)
}

func (tm *TokenManager) ParseToken(tokenStr string) (int64, string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errs.ErrInvalidToken
		}
		return tm.secretKey, nil
	})

	if err != nil || !token.Valid {
		return 0, "", errs.ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, "", errs.ErrInvalidToken
	}

	subFloat, ok := claims["sub"].(float64)
	if !ok {
		return 0, "", errs.ErrInvalidToken
	}

	role, ok := claims["role"].(string)
	if !ok {
		return 0, "", errs.ErrInvalidToken
	}

	return int64(subFloat), role, nil
}
