package gateway

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pong42/platform/pkg/metrics"
	"github.com/pong42/platform/pkg/middleware"
)

const (
	// avatarUploadPath はアバターアップロードのサービス内パス。
	avatarUploadPath = "/avatar/upload"
	// avatarPathPrefix はアバター取得のサービス内パスの接頭辞。
	avatarPathPrefix = "/avatar/"
	// avatarMediaType はアップロードを許可する唯一のメディアタイプ。
	avatarMediaType = "image/jpeg"
	// multipartOverhead はファイル以外のマルチパートの境界やヘッダーに許す余裕。
	multipartOverhead = 64 << 10
)

// quoteEscaper はContent-Dispositionの引用符内で使えるように値をエスケープする。
var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// uploadedFile はアップロードされた1つのファイル。
type uploadedFile struct {
	field    string
	filename string
	data     []byte
}

// uploadError はアップロード検証の失敗と、そのメトリクス上の分類。
type uploadError struct {
	apiErr  apiError
	outcome string
}

// AvatarRelay はアバター画像のアップロードと取得をバイト列のまま中継する。
type AvatarRelay struct {
	forwarder *Forwarder
	maxBytes  int64
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewAvatarRelay は新しい AvatarRelay を生成する。maxBytes はファイル1つあたりの上限。
func NewAvatarRelay(forwarder *Forwarder, maxBytes int64, collector *metrics.Collector, logger *zap.Logger) *AvatarRelay {
	return &AvatarRelay{
		forwarder: forwarder,
		maxBytes:  maxBytes,
		metrics:   collector,
		logger:    logger,
	}
}

// isAvatarUpload はアバターアップロードのリクエストかどうかを判定する。
func isAvatarUpload(method, remainder string) bool {
	return method == http.MethodPost && remainder == avatarUploadPath
}

// isAvatarRetrieval はアバター取得のリクエストかどうかを判定する。
func isAvatarRetrieval(method, remainder string) bool {
	if method != http.MethodGet && method != http.MethodHead {
		return false
	}
	id, ok := strings.CutPrefix(remainder, avatarPathPrefix)
	return ok && id != "" && id != "upload" && !strings.Contains(id, "/")
}

// Upload はJPEGファイルを1つだけ含むマルチパートを検証し、同じフィールド名とファイル名で上流に送り直す。
// 検証に失敗した場合は上流を呼ばない。上流の応答はそのまま返す。
func (a *AvatarRelay) Upload(c *gin.Context, route Route, remainder string) {
	limit := a.maxBytes + multipartOverhead
	if c.Request.ContentLength > limit {
		a.reject(c, uploadError{errFileTooLarge, metrics.UploadTooLarge})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	file, uerr := a.readSingleFile(c.Request)
	if uerr != nil {
		a.reject(c, *uerr)
		return
	}

	body, contentType, err := encodeAvatar(file)
	if err != nil {
		a.logger.Error("アバターの再エンコードに失敗", zap.Error(err))
		a.metrics.ObserveUpload(metrics.UploadFailed)
		abortWith(c, errServiceUnavailable)
		return
	}

	header := outboundHeaders(c)
	header.Set("Content-Type", contentType)
	preq := ProxiedRequest{
		Method:        http.MethodPost,
		Target:        route.Target(remainder, c.Request.URL.RawQuery),
		Header:        header,
		Body:          bytes.NewReader(body),
		ContentLength: int64(len(body)),
		Opaque:        true,
	}

	resp, err := a.forwarder.Forward(c.Request.Context(), preq, IdentityFrom(c))
	if err != nil {
		a.metrics.ObserveUpload(metrics.UploadFailed)
		a.metrics.ObserveUpstreamError(route.Service.String())
		a.logger.Warn("アバターの転送に失敗",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.String("service", route.Service.String()),
			zap.Error(err),
		)
		abortWith(c, upstreamError(err))
		return
	}

	a.metrics.ObserveUpload(metrics.UploadAccepted)
	writeProxiedResponse(c, resp)
}

// Retrieve はアバター画像を取得し、ステータス・Content-Type・バイト列をそのまま返す。
func (a *AvatarRelay) Retrieve(c *gin.Context, route Route, remainder string) {
	preq := ProxiedRequest{
		Method:        c.Request.Method,
		Target:        route.Target(remainder, c.Request.URL.RawQuery),
		Header:        outboundHeaders(c),
		ContentLength: -1,
		Opaque:        true,
	}

	resp, err := a.forwarder.Forward(c.Request.Context(), preq, IdentityFrom(c))
	if err != nil {
		a.metrics.ObserveUpstreamError(route.Service.String())
		a.logger.Warn("アバターの取得に失敗",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.String("service", route.Service.String()),
			zap.Error(err),
		)
		abortWith(c, upstreamError(err))
		return
	}
	writeProxiedResponse(c, resp)
}

// readSingleFile はマルチパートを読み、ファイルパートがちょうど1つであることを検証する。
// ファイル以外のフィールドは読み捨てる。
func (a *AvatarRelay) readSingleFile(r *http.Request) (*uploadedFile, *uploadError) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, &uploadError{errInvalidMultipart, metrics.UploadRejected}
	}

	var (
		file  *uploadedFile
		parts int
	)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, readFailure(err)
		}
		parts++

		if part.FileName() == "" {
			if _, err := io.Copy(io.Discard, part); err != nil {
				return nil, readFailure(err)
			}
			continue
		}
		if file != nil {
			return nil, &uploadError{errTooManyFiles, metrics.UploadRejected}
		}

		mediaType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if mediaType != avatarMediaType {
			return nil, &uploadError{errInvalidFileType, metrics.UploadRejected}
		}

		data, err := io.ReadAll(io.LimitReader(part, a.maxBytes+1))
		if err != nil {
			return nil, readFailure(err)
		}
		if int64(len(data)) > a.maxBytes {
			return nil, &uploadError{errFileTooLarge, metrics.UploadTooLarge}
		}
		if !mimetype.Detect(data).Is(avatarMediaType) {
			return nil, &uploadError{errInvalidFileType, metrics.UploadRejected}
		}
		file = &uploadedFile{field: part.FormName(), filename: part.FileName(), data: data}
	}

	// 境界が見つからない場合もNextPartはio.EOFを返すため、パートが1つも無いボディは不正とみなす。
	if parts == 0 {
		return nil, &uploadError{errInvalidMultipart, metrics.UploadRejected}
	}
	if file == nil {
		return nil, &uploadError{errFileRequired, metrics.UploadRejected}
	}
	return file, nil
}

// reject はアップロードを拒否し、メトリクスに記録する。
func (a *AvatarRelay) reject(c *gin.Context, e uploadError) {
	a.metrics.ObserveUpload(e.outcome)
	abortWith(c, e.apiErr)
}

// readFailure はボディ読み込み中のエラーを分類する。
func readFailure(err error) *uploadError {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return &uploadError{errFileTooLarge, metrics.UploadTooLarge}
	}
	return &uploadError{errInvalidMultipart, metrics.UploadRejected}
}

// encodeAvatar はファイルを1つだけ含むマルチパートのボディを組み立てる。
func encodeAvatar(file *uploadedFile) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(file.field), quoteEscaper.Replace(file.filename)))
	h.Set("Content-Type", avatarMediaType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("パートの作成に失敗: %w", err)
	}
	if _, err := part.Write(file.data); err != nil {
		return nil, "", fmt.Errorf("ファイルの書き込みに失敗: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("マルチパートの終端に失敗: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// upstreamError は転送エラーをクライアント向けのエラーに変換する。
func upstreamError(err error) apiError {
	if errors.Is(err, ErrResponseTooLarge) {
		return errResponseTooLarge
	}
	return errServiceUnavailable
}
