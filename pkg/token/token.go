// Package token は開発環境向けのBearerトークンを発行する。
//
// 本番のトークン発行と検証はAuthサービスが担う。Gatewayは検証を行わず、
// 開発モードでのみ共有検証シークレットを使ってトークンを署名する。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer は発行したトークンのissクレームに設定する値。
const Issuer = "pong42-gateway"

// Claims は発行するトークンのクレーム。
type Claims struct {
	jwt.RegisteredClaims
	// Username は表示用のユーザー名。
	Username string `json:"username,omitempty"`
}

// Issue は subject を sub に持つHS256トークンを発行する。
// ttlが0以下の場合は24時間を使う。
func Issue(secret, subject, username string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("署名シークレットが空です")
	}
	if subject == "" {
		return "", errors.New("subjectが空です")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username: username,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("トークンの署名に失敗: %w", err)
	}
	return signed, nil
}
