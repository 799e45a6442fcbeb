package middleware

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Gatewayから下流サービスへの呼び出しに付与する信頼ヘッダー。
// 下流サービスはサービス認証情報を検証できた場合に限り、ユーザー識別ヘッダーを信頼する。
const (
	// HeaderServiceToken はGateway経由の呼び出しであることを示す共有シークレット。
	HeaderServiceToken = "X-Service-Token"
	// HeaderUserID は認証済みユーザーのsubject。
	HeaderUserID = "X-User-ID"
	// HeaderUserClaims は認証済みユーザーのクレーム全体（JSONをbase64エンコードしたもの）。
	HeaderUserClaims = "X-User-Claims"
)

// TrustHeaders は外部からの指定を許さない信頼ヘッダーの一覧。
var TrustHeaders = []string{HeaderServiceToken, HeaderUserID, HeaderUserClaims}

// CodeUntrustedCaller はサービス認証情報が一致しない呼び出しに返すエラーコード。
const CodeUntrustedCaller = "UNTRUSTED_CALLER"

const (
	contextKeyUserID = "user_id"
	contextKeyClaims = "user_claims"
)

// SetUser はGinコンテキストに認証済みユーザーを設定する。
func SetUser(c *gin.Context, userID string, claims map[string]any) {
	c.Set(contextKeyUserID, userID)
	if claims != nil {
		c.Set(contextKeyClaims, claims)
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// 認証されていないリクエストでは空文字列を返す。
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get(contextKeyUserID)
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// GetUserClaims はGinコンテキストからユーザーのクレームを取得する。
func GetUserClaims(c *gin.Context) map[string]any {
	v, _ := c.Get(contextKeyClaims)
	claims, _ := v.(map[string]any)
	return claims
}

// EncodeClaims はクレームをヘッダー値として安全な形式にエンコードする。
func EncodeClaims(claims map[string]any) (string, error) {
	b, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("クレームのシリアライズに失敗: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeClaims はEncodeClaimsでエンコードされたヘッダー値を復元する。
func DecodeClaims(value string) (map[string]any, error) {
	b, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("クレームのデコードに失敗: %w", err)
	}
	var claims map[string]any
	if err := json.Unmarshal(b, &claims); err != nil {
		return nil, fmt.Errorf("クレームのデシリアライズに失敗: %w", err)
	}
	return claims, nil
}

// TrustedGateway は下流サービスがマウントするGinミドルウェアを返す。
// サービス認証情報が一致しない呼び出しは401で拒否し、一致した場合は
// ユーザー識別ヘッダーをコンテキストに設定する。
func TrustedGateway(serviceToken string) gin.HandlerFunc {
	expected := []byte(serviceToken)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(HeaderServiceToken))
		if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
			AbortWithError(c, http.StatusUnauthorized, CodeUntrustedCaller, "Gateway経由の呼び出しではありません")
			return
		}

		if userID := c.GetHeader(HeaderUserID); userID != "" {
			var claims map[string]any
			if raw := c.GetHeader(HeaderUserClaims); raw != "" {
				decoded, err := DecodeClaims(raw)
				if err != nil {
					AbortWithError(c, http.StatusBadRequest, CodeUntrustedCaller, "ユーザークレームの形式が不正です")
					return
				}
				claims = decoded
			}
			SetUser(c, userID, claims)
		}
		c.Next()
	}
}
