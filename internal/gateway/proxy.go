package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pong42/platform/pkg/middleware"
)

var (
	// ErrUpstreamUnavailable は上流サービスから応答を得られなかったことを表す。
	ErrUpstreamUnavailable = errors.New("上流サービスに接続できません")
	// ErrResponseTooLarge は上流の応答ボディが上限を超えたことを表す。
	ErrResponseTooLarge = errors.New("上流サービスの応答が大きすぎます")
)

// hopByHopHeaders は転送時に引き継がないヘッダー。
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// BodyKind は上流の応答ボディの扱い方。
type BodyKind int

const (
	// BodyJSON はJSONとして解釈できたボディ。
	BodyJSON BodyKind = iota + 1
	// BodyText はテキストとして中継するボディ。
	BodyText
	// BodyBinary は解釈せずにバイト列として中継するボディ。
	BodyBinary
)

// String はログ出力用の名前を返す。
func (k BodyKind) String() string {
	switch k {
	case BodyJSON:
		return "json"
	case BodyText:
		return "text"
	case BodyBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// ProxiedRequest は上流に送るリクエスト。
type ProxiedRequest struct {
	// Method はHTTPメソッド。
	Method string
	// Target は転送先の完全なURL。
	Target string
	// Header は送信するヘッダー。信頼ヘッダーは送信時に上書きされる。
	Header http.Header
	// Body はリクエストボディ。ボディを持たないメソッドでは nil。
	Body io.Reader
	// ContentLength はボディの長さ。不明な場合は -1。
	ContentLength int64
	// Opaque が true の場合、応答ボディを解釈せず BodyBinary として扱う。
	Opaque bool
}

// ProxiedResponse は上流から受け取った応答。
type ProxiedResponse struct {
	// Status はHTTPステータスコード。
	Status int
	// Header はクライアントに返すヘッダー。
	Header http.Header
	// Body は応答ボディ。リダイレクトの場合は空。
	Body []byte
	// Kind はボディの扱い方。
	Kind BodyKind
	// Location はリダイレクト先。リダイレクトでない場合は空。
	Location string
}

// IsRedirect はクライアントにそのまま返すリダイレクトかどうかを判定する。
func (r *ProxiedResponse) IsRedirect() bool {
	return r.Status >= 300 && r.Status < 400 && r.Location != ""
}

// Forwarder は上流サービスへのリクエストを実行する。
// 上流のリダイレクトは追跡せず、そのままクライアントに返す。
type Forwarder struct {
	client           *http.Client
	trust            *TrustPropagator
	maxResponseBytes int64
}

// NewForwarder は新しい Forwarder を生成する。
func NewForwarder(timeout time.Duration, maxResponseBytes int64, trust *TrustPropagator) *Forwarder {
	return &Forwarder{
		client:           newUpstreamClient(timeout),
		trust:            trust,
		maxResponseBytes: maxResponseBytes,
	}
}

// newUpstreamClient は上流サービス用のHTTPクライアントを生成する。
func newUpstreamClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 32
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Forward は上流にリクエストを送り、応答を読み切って返す。
// ctx がキャンセルされた場合は上流への呼び出しも中断する。
func (f *Forwarder) Forward(ctx context.Context, preq ProxiedRequest, id *Identity) (*ProxiedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, preq.Method, preq.Target, preq.Body)
	if err != nil {
		return nil, fmt.Errorf("転送リクエストの作成に失敗: %w", err)
	}
	if preq.Header != nil {
		req.Header = preq.Header.Clone()
	}
	if preq.Body != nil && preq.ContentLength >= 0 {
		req.ContentLength = preq.ContentLength
	}
	f.trust.Apply(req.Header, id)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	out := &ProxiedResponse{
		Status: resp.StatusCode,
		Header: responseHeaders(resp.Header),
	}
	if loc := resp.Header.Get("Location"); resp.StatusCode >= 300 && resp.StatusCode < 400 && loc != "" {
		out.Location = loc
		return out, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: 応答ボディの読み込みに失敗: %w", ErrUpstreamUnavailable, err)
	}
	if int64(len(body)) > f.maxResponseBytes {
		return nil, ErrResponseTooLarge
	}
	out.Body = body
	if preq.Opaque {
		out.Kind = BodyBinary
	} else {
		out.Kind = classifyBody(resp.Header.Get("Content-Type"), body)
	}
	return out, nil
}

// classifyBody はContent-Typeとボディの内容から中継方法を決める。
func classifyBody(contentType string, body []byte) BodyKind {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		if json.Valid(body) {
			return BodyJSON
		}
		return BodyText
	case mediaType == "":
		if len(body) > 0 && json.Valid(body) {
			return BodyJSON
		}
		return BodyText
	case strings.HasPrefix(mediaType, "text/"),
		mediaType == "application/xml",
		mediaType == "application/javascript",
		mediaType == "application/x-www-form-urlencoded":
		return BodyText
	default:
		return BodyBinary
	}
}

// responseHeaders はクライアントに返してよい上流のヘッダーを抽出する。
// CORSはGateway自身が決めるため Access-Control-* は引き継がない。
func responseHeaders(src http.Header) http.Header {
	dst := src.Clone()
	removeHopByHop(dst)
	dst.Del("Content-Length")
	for name := range dst {
		if strings.HasPrefix(name, "Access-Control-") {
			dst.Del(name)
		}
	}
	return dst
}

// removeHopByHop はホップバイホップヘッダーと、Connectionで列挙されたヘッダーを取り除く。
func removeHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// methodHasBody はリクエストボディを転送するメソッドかどうかを判定する。
func methodHasBody(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

// outboundHeaders は受信リクエストのヘッダーから上流に送るヘッダーを作る。
// 信頼ヘッダーはここでは取り除くだけで、送信時に TrustPropagator が設定する。
func outboundHeaders(c *gin.Context) http.Header {
	r := c.Request
	h := r.Header.Clone()
	removeHopByHop(h)
	h.Del("Content-Length")
	// 圧縮はトランスポートに任せ、展開済みのボディを受け取る
	h.Del("Accept-Encoding")
	for _, name := range middleware.TrustHeaders {
		h.Del(name)
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := h.Get("X-Forwarded-For"); prior != "" {
			host = prior + ", " + host
		}
		h.Set("X-Forwarded-For", host)
	}
	h.Set("X-Forwarded-Host", r.Host)
	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	h.Set("X-Forwarded-Proto", proto)
	if id := middleware.GetRequestID(c); id != "" {
		h.Set(middleware.HeaderRequestID, id)
	}
	return h
}

// newProxiedRequest は受信リクエストを上流向けのリクエストに変換する。
func newProxiedRequest(c *gin.Context, target string) ProxiedRequest {
	preq := ProxiedRequest{
		Method:        c.Request.Method,
		Target:        target,
		Header:        outboundHeaders(c),
		ContentLength: -1,
	}
	if methodHasBody(c.Request.Method) && c.Request.Body != nil && c.Request.Body != http.NoBody {
		preq.Body = c.Request.Body
		preq.ContentLength = c.Request.ContentLength
	}
	return preq
}

// writeProxiedResponse は上流の応答をクライアントに書き込む。
func writeProxiedResponse(c *gin.Context, resp *ProxiedResponse) {
	for name, values := range resp.Header {
		if name == "Location" || name == "Content-Type" {
			continue
		}
		for _, v := range values {
			c.Writer.Header().Add(name, v)
		}
	}

	if resp.IsRedirect() {
		c.Header("Location", resp.Location)
		c.Status(resp.Status)
		c.Writer.WriteHeaderNow()
		return
	}

	contentType := resp.Header.Get("Content-Type")
	switch resp.Kind {
	case BodyJSON:
		if contentType == "" {
			contentType = "application/json; charset=utf-8"
		}
	case BodyText:
		mediaType, _, _ := mime.ParseMediaType(contentType)
		declaredJSON := mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
		if contentType == "" || (declaredJSON && len(resp.Body) > 0) {
			contentType = "text/plain; charset=utf-8"
		}
	case BodyBinary:
		if contentType == "" {
			contentType = "application/octet-stream"
		}
	}
	if len(resp.Body) == 0 && resp.Header.Get("Content-Type") == "" {
		c.Status(resp.Status)
		c.Writer.WriteHeaderNow()
		return
	}
	c.Data(resp.Status, contentType, resp.Body)
}
