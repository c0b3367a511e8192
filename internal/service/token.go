package service

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier проверяет токены игроков, выданные внешним сервисом авторизации.
// Хост токены не выпускает.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Enabled false, если секрет не задан (режим разработки: игрок передается параметром)
func (v *TokenVerifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// PlayerID возвращает subject проверенного HS256 токена
func (v *TokenVerifier) PlayerID(token string) (string, error) {
	if !v.Enabled() {
		return "", fmt.Errorf("%w: verifier has no secret", ErrInvalidToken)
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}
