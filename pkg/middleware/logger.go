package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// contextKeyService はginコンテキストに転送先サービス名を格納するキー。
const contextKeyService = "service"

// SetService はリクエストの転送先サービス名を記録する。ログとメトリクスのラベルに使う。
func SetService(c *gin.Context, service string) {
	c.Set(contextKeyService, service)
}

// GetService は記録された転送先サービス名を返す。未設定の場合は空文字列を返す。
func GetService(c *gin.Context) string {
	return c.GetString(contextKeyService)
}

// Logger はリクエストごとに1行の構造化ログを出力するGinミドルウェアを返す。
// クエリ文字列やヘッダーにはトークンが含まれ得るため、パスのみを記録する。
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := zapcore.InfoLevel
		switch {
		case status >= 500:
			level = zapcore.ErrorLevel
		case status >= 400:
			level = zapcore.WarnLevel
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", GetRequestID(c)),
		}
		if service := GetService(c); service != "" {
			fields = append(fields, zap.String("service", service))
		}
		if userID := GetUserID(c); userID != "" {
			fields = append(fields, zap.String("user_id", userID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		if ce := logger.Check(level, "リクエストを処理しました"); ce != nil {
			ce.Write(fields...)
		}
	}
}
