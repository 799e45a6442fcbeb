package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// testServiceToken はテスト用のサービス認証情報。
const testServiceToken = "test-service-token"

// TestClaimsEncoding はクレームのエンコードとデコードを検証する。
func TestClaimsEncoding(t *testing.T) {
	t.Parallel()

	t.Run("エンコードした値から同じクレームが復元できること", func(t *testing.T) {
		t.Parallel()

		encoded, err := EncodeClaims(map[string]any{"sub": "user-1", "username": "ユーザー\n改行"})
		if err != nil {
			t.Fatalf("EncodeClaims()でエラーが発生: %v", err)
		}
		claims, err := DecodeClaims(encoded)
		if err != nil {
			t.Fatalf("DecodeClaims()でエラーが発生: %v", err)
		}
		if claims["username"] != "ユーザー\n改行" {
			t.Errorf("username = %v, want %q", claims["username"], "ユーザー\n改行")
		}
	})

	t.Run("不正な値はエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := DecodeClaims("%%%"); err == nil {
			t.Fatal("DecodeClaims()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestTrustedGateway はTrustedGatewayミドルウェアを検証する。
func TestTrustedGateway(t *testing.T) {
	t.Parallel()

	newRouter := func(gotUserID *string, gotClaims *map[string]any) *gin.Engine {
		router := gin.New()
		router.Use(TrustedGateway(testServiceToken))
		router.GET("/internal", func(c *gin.Context) {
			*gotUserID = GetUserID(c)
			*gotClaims = GetUserClaims(c)
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
		return router
	}

	t.Run("サービス認証情報が一致すればユーザー情報が設定されること", func(t *testing.T) {
		t.Parallel()

		var userID string
		var claims map[string]any
		encoded, err := EncodeClaims(map[string]any{"sub": "user-9", "role": "player"})
		if err != nil {
			t.Fatalf("EncodeClaims()でエラーが発生: %v", err)
		}

		req := httptest.NewRequest(http.MethodGet, "/internal", nil)
		req.Header.Set(HeaderServiceToken, testServiceToken)
		req.Header.Set(HeaderUserID, "user-9")
		req.Header.Set(HeaderUserClaims, encoded)
		w := httptest.NewRecorder()
		newRouter(&userID, &claims).ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if userID != "user-9" {
			t.Errorf("GetUserID() = %q, want %q", userID, "user-9")
		}
		if claims["role"] != "player" {
			t.Errorf("claims[role] = %v, want %q", claims["role"], "player")
		}
	})

	t.Run("サービス認証情報のみで匿名の呼び出しを許可すること", func(t *testing.T) {
		t.Parallel()

		var userID string
		var claims map[string]any
		req := httptest.NewRequest(http.MethodGet, "/internal", nil)
		req.Header.Set(HeaderServiceToken, testServiceToken)
		w := httptest.NewRecorder()
		newRouter(&userID, &claims).ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if userID != "" {
			t.Errorf("GetUserID() = %q, want empty string", userID)
		}
	})

	t.Run("サービス認証情報が無い場合はユーザーヘッダーがあっても401になること", func(t *testing.T) {
		t.Parallel()

		var userID string
		var claims map[string]any
		req := httptest.NewRequest(http.MethodGet, "/internal", nil)
		req.Header.Set(HeaderUserID, "spoofed")
		w := httptest.NewRecorder()
		newRouter(&userID, &claims).ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		var body ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("レスポンスボディのパースに失敗: %v", err)
		}
		if body.Error != CodeUntrustedCaller {
			t.Errorf("error = %q, want %q", body.Error, CodeUntrustedCaller)
		}
		if userID != "" {
			t.Error("拒否された呼び出しでハンドラーが呼ばれるべきではない")
		}
	})

	t.Run("サービス認証情報が異なる場合は401になること", func(t *testing.T) {
		t.Parallel()

		var userID string
		var claims map[string]any
		req := httptest.NewRequest(http.MethodGet, "/internal", nil)
		req.Header.Set(HeaderServiceToken, "wrong-token")
		w := httptest.NewRecorder()
		newRouter(&userID, &claims).ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("期待値が空の場合は全て拒否すること", func(t *testing.T) {
		t.Parallel()

		router := gin.New()
		router.Use(TrustedGateway(""))
		router.GET("/internal", func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest(http.MethodGet, "/internal", nil)
		req.Header.Set(HeaderServiceToken, "")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("クレームの形式が不正な場合は400になること", func(t *testing.T) {
		t.Parallel()

		var userID string
		var claims map[string]any
		req := httptest.NewRequest(http.MethodGet, "/internal", nil)
		req.Header.Set(HeaderServiceToken, testServiceToken)
		req.Header.Set(HeaderUserID, "user-9")
		req.Header.Set(HeaderUserClaims, "not-base64!")
		w := httptest.NewRecorder()
		newRouter(&userID, &claims).ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}
