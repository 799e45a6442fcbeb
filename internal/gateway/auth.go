package gateway

import (
	"errors"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pong42/platform/pkg/httpclient"
	"github.com/pong42/platform/pkg/metrics"
	"github.com/pong42/platform/pkg/middleware"
)

// contextKeyIdentity はginコンテキストに検証済みIdentityを格納するキー。
const contextKeyIdentity = "gateway_identity"

// DefaultPublicPaths は認証なしで到達できるパスの接頭辞。
// 設定の public_paths はこの一覧に追加されるだけで、削除はできない。
var DefaultPublicPaths = []string{
	"/health",
	"/api/auth/login",
	"/api/auth/register",
	"/api/auth/2fa/login",
	"/api/auth/oauth",
	"/api/i18n/translations",
}

// AllowList は認証を必要としないパスの接頭辞の集合。
type AllowList struct {
	prefixes []string
}

// NewAllowList は接頭辞の一覧から AllowList を生成する。空文字列と重複は無視する。
func NewAllowList(prefixes ...string) *AllowList {
	seen := make(map[string]struct{}, len(prefixes))
	a := &AllowList{}
	for _, p := range prefixes {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		a.prefixes = append(a.prefixes, p)
	}
	return a
}

// Allows はパスが公開パスかどうかを判定する。
// 接頭辞はセグメント単位で一致させるため /api/auth/login は /api/auth/loginx に一致しない。
// . や .. を含む正規化されていないパスは常に公開パスではない。
func (a *AllowList) Allows(p string) bool {
	if !isCanonicalPath(p) {
		return false
	}
	for _, prefix := range a.prefixes {
		if p == prefix || strings.HasPrefix(p, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}

// Prefixes は登録されている接頭辞を返す。
func (a *AllowList) Prefixes() []string {
	return append([]string(nil), a.prefixes...)
}

// isCanonicalPath はパスが path.Clean で変化しないかを判定する。末尾のスラッシュは許容する。
func isCanonicalPath(p string) bool {
	if !strings.HasPrefix(p, "/") {
		return false
	}
	cleaned := path.Clean(p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned == p
}

// Gatekeeper は全てのリクエストに対する認証の関門。
// 公開パス以外ではBearerトークンを要求し、検証を Verifier に委譲する。
type Gatekeeper struct {
	allow    *AllowList
	verifier Verifier
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewGatekeeper は新しい Gatekeeper を生成する。
func NewGatekeeper(allow *AllowList, verifier Verifier, collector *metrics.Collector, logger *zap.Logger) *Gatekeeper {
	return &Gatekeeper{
		allow:    allow,
		verifier: verifier,
		metrics:  collector,
		logger:   logger,
	}
}

// Middleware は認証を行うginミドルウェアを返す。
// 検証に成功した場合は Identity をコンテキストに格納する。
func (g *Gatekeeper) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if g.allow.Allows(c.Request.URL.Path) {
			g.metrics.ObserveAuth(metrics.OutcomePublic)
			c.Next()
			return
		}

		// 形式を満たさないトークンは検証者に送らず、資格情報なしとして扱う
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok || !wellFormedToken(token) {
			g.metrics.ObserveAuth(metrics.OutcomeMissing)
			abortWith(c, errAuthRequired)
			return
		}

		ctx := httpclient.WithRequestID(c.Request.Context(), middleware.GetRequestID(c))
		id, err := g.verifier.Verify(ctx, token)
		switch {
		case err == nil:
		case errors.Is(err, ErrInvalidToken):
			g.metrics.ObserveAuth(metrics.OutcomeRejected)
			abortWith(c, errInvalidToken)
			return
		default:
			g.metrics.ObserveAuth(metrics.OutcomeUnavailable)
			g.logger.Warn("トークン検証サービスの呼び出しに失敗",
				zap.String("request_id", middleware.GetRequestID(c)),
				zap.Error(err),
			)
			abortWith(c, errAuthServiceUnavailable)
			return
		}

		g.metrics.ObserveAuth(metrics.OutcomeAuthenticated)
		c.Set(contextKeyIdentity, id)
		middleware.SetUser(c, id.Subject, id.Claims)
		c.Next()
	}
}

// IdentityFrom はginコンテキストから検証済み Identity を取り出す。
// 公開パスのリクエストでは nil を返す。
func IdentityFrom(c *gin.Context) *Identity {
	v, ok := c.Get(contextKeyIdentity)
	if !ok {
		return nil
	}
	id, _ := v.(*Identity)
	return id
}

// bearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

// wellFormedToken はトークンがドットで区切られた3つの空でないセグメントからなるかを判定する。
func wellFormedToken(token string) bool {
	if strings.ContainsAny(token, " \t\r\n") {
		return false
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}
