package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hitoshi/planboard/internal/model"
)

const tokenIssuerName = "planboard"

// accessClaims はアクセストークンのクレーム。
type accessClaims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer はHS256で署名したアクセストークンを発行・検証する。
// トークンはステートレスのため、ログアウト後も有効期限までは検証に成功する。
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	key, err := deriveKey(secret, "access-token", 32)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token TTL must be positive: %s", ttl)
	}
	return &TokenIssuer{secret: key, ttl: ttl, now: time.Now}, nil
}

// TTL はトークンの有効期間を返す。
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

// Issue はユーザーのアクセストークンを発行し、有効期限とともに返す。
func (t *TokenIssuer) Issue(user *model.User) (string, time.Time, error) {
	jti, err := uuid.NewV7()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate token ID: %w", err)
	}

	now := t.now()
	expiresAt := now.Add(t.ttl)
	claims := accessClaims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			Issuer:    tokenIssuerName,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify はトークンを検証し、対象ユーザーのIDを返す。
func (t *TokenIssuer) Verify(raw string) (string, error) {
	var claims accessClaims
	_, err := jwt.ParseWithClaims(raw, &claims, t.verificationKey,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuerName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return "", fmt.Errorf("invalid access token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("access token has no subject")
	}
	return claims.Subject, nil
}

func (t *TokenIssuer) verificationKey(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return t.secret, nil
}
