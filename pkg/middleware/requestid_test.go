package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TestRequestID はRequestIDミドルウェアを検証する。
func TestRequestID(t *testing.T) {
	t.Parallel()

	newRouter := func(captured *string) *gin.Engine {
		router := gin.New()
		router.Use(RequestID())
		router.GET("/test", func(c *gin.Context) {
			*captured = GetRequestID(c)
			c.Status(http.StatusOK)
		})
		return router
	}

	t.Run("ヘッダーが無い場合はUUIDが生成されること", func(t *testing.T) {
		t.Parallel()

		var captured string
		w := httptest.NewRecorder()
		newRouter(&captured).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		if _, err := uuid.Parse(captured); err != nil {
			t.Errorf("リクエストIDがUUIDではない: %q", captured)
		}
		if got := w.Header().Get(HeaderRequestID); got != captured {
			t.Errorf("%s = %q, want %q", HeaderRequestID, got, captured)
		}
	})

	t.Run("クライアント指定のIDが引き継がれること", func(t *testing.T) {
		t.Parallel()

		var captured string
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(HeaderRequestID, "client-req-1")
		w := httptest.NewRecorder()
		newRouter(&captured).ServeHTTP(w, req)

		if captured != "client-req-1" {
			t.Errorf("GetRequestID() = %q, want %q", captured, "client-req-1")
		}
	})

	t.Run("長すぎるIDは置き換えられること", func(t *testing.T) {
		t.Parallel()

		var captured string
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(HeaderRequestID, strings.Repeat("x", maxRequestIDLength+1))
		w := httptest.NewRecorder()
		newRouter(&captured).ServeHTTP(w, req)

		if _, err := uuid.Parse(captured); err != nil {
			t.Errorf("リクエストIDがUUIDではない: %q", captured)
		}
	})

	t.Run("ミドルウェア未適用の場合は空文字列が返ること", func(t *testing.T) {
		t.Parallel()

		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		if got := GetRequestID(c); got != "" {
			t.Errorf("GetRequestID() = %q, want empty string", got)
		}
	})
}
