package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pong42/platform/pkg/middleware"
)

// Gatewayが返すエラーコード。クライアントとテストはこの値で原因を判別する。
const (
	CodeAuthRequired           = "AUTH_REQUIRED"
	CodeInvalidToken           = "INVALID_TOKEN"
	CodeAuthServiceUnavailable = "AUTH_SERVICE_UNAVAILABLE"
	CodeServiceUnavailable     = "SERVICE_UNAVAILABLE"
	CodeResponseTooLarge       = "RESPONSE_TOO_LARGE"
	CodeServiceNotFound        = "SERVICE_NOT_FOUND"
	CodeNotFound               = "NOT_FOUND"
	CodeInvalidFileType        = "INVALID_FILE_TYPE"
	CodeFileRequired           = "FILE_REQUIRED"
	CodeTooManyFiles           = "TOO_MANY_FILES"
	CodeInvalidMultipart       = "INVALID_MULTIPART"
	CodeFileTooLarge           = "FILE_TOO_LARGE"
	CodeInvalidRequest         = "INVALID_REQUEST"
)

// apiError はステータスコードとエラーコードの組。
type apiError struct {
	status  int
	code    string
	message string
}

var (
	errAuthRequired           = apiError{http.StatusUnauthorized, CodeAuthRequired, "認証が必要です"}
	errInvalidToken           = apiError{http.StatusUnauthorized, CodeInvalidToken, "トークンが無効です"}
	errAuthServiceUnavailable = apiError{http.StatusBadGateway, CodeAuthServiceUnavailable, "認証サービスに接続できません。時間をおいて再試行してください"}
	errServiceUnavailable     = apiError{http.StatusBadGateway, CodeServiceUnavailable, "内部サービスとの通信に失敗しました。時間をおいて再試行してください"}
	errResponseTooLarge       = apiError{http.StatusBadGateway, CodeResponseTooLarge, "内部サービスの応答が大きすぎます"}
	errServiceNotFound        = apiError{http.StatusNotFound, CodeServiceNotFound, "指定されたサービスは存在しません"}
	errNotFound               = apiError{http.StatusNotFound, CodeNotFound, "エンドポイントが見つかりません"}
	errInvalidFileType        = apiError{http.StatusBadRequest, CodeInvalidFileType, "JPEG画像のみアップロードできます"}
	errFileRequired           = apiError{http.StatusBadRequest, CodeFileRequired, "ファイルが含まれていません"}
	errTooManyFiles           = apiError{http.StatusBadRequest, CodeTooManyFiles, "アップロードできるファイルは1つだけです"}
	errInvalidMultipart       = apiError{http.StatusBadRequest, CodeInvalidMultipart, "マルチパート形式が不正です"}
	errFileTooLarge           = apiError{http.StatusRequestEntityTooLarge, CodeFileTooLarge, "ファイルサイズが上限を超えています"}
	errInvalidRequest         = apiError{http.StatusBadRequest, CodeInvalidRequest, "リクエストの形式が不正です"}
)

// abortWith はエラー応答を書き込んで後続の処理を中断する。
func abortWith(c *gin.Context, e apiError) {
	middleware.AbortWithError(c, e.status, e.code, e.message)
}
