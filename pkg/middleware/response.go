package middleware

import "github.com/gin-gonic/gin"

// ErrorResponse はGatewayおよび下流サービスが返すエラー応答の共通形式。
type ErrorResponse struct {
	// Success は常にfalse。
	Success bool `json:"success"`
	// Error は機械判読用の安定したエラーコード。
	Error string `json:"error"`
	// Message は人間向けの説明。
	Message string `json:"message"`
}

// AbortWithError はエラー応答を書き込んで後続のハンドラを中断する。
func AbortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Success: false,
		Error:   code,
		Message: message,
	})
}
