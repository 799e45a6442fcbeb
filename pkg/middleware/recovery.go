package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CodeInternalError はパニック発生時に返すエラーコード。
const CodeInternalError = "INTERNAL_ERROR"

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
// パニック発生時にログを出力し、500エラーを返す。スタックトレースはクライアントに返さない。
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("パニックが発生しました",
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", GetRequestID(c)),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
				AbortWithError(c, http.StatusInternalServerError, CodeInternalError, "内部サーバーエラーが発生しました")
			}
		}()
		c.Next()
	}
}
