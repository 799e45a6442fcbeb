package gateway

import (
	"context"
	"net/http"

	"github.com/pong42/platform/pkg/httpclient"
	"github.com/pong42/platform/pkg/middleware"
	"go.uber.org/zap"
)

// TrustPropagator は上流への全ての呼び出しに信頼ヘッダーを付与する。
// クライアントが送った同名のヘッダーは必ず取り除く。
type TrustPropagator struct {
	serviceToken string
	logger       *zap.Logger
}

// NewTrustPropagator はサービス認証情報を保持する TrustPropagator を生成する。
func NewTrustPropagator(serviceToken string, logger *zap.Logger) *TrustPropagator {
	return &TrustPropagator{serviceToken: serviceToken, logger: logger}
}

// Apply はヘッダーから信頼ヘッダーを取り除いた上で、サービス認証情報と利用者情報を設定する。
// id が nil の場合は利用者情報を設定しない。
func (p *TrustPropagator) Apply(h http.Header, id *Identity) {
	for _, name := range middleware.TrustHeaders {
		h.Del(name)
	}
	h.Set(middleware.HeaderServiceToken, p.serviceToken)

	if id == nil {
		return
	}
	h.Set(middleware.HeaderUserID, id.Subject)
	if len(id.Claims) == 0 {
		return
	}
	encoded, err := middleware.EncodeClaims(id.Claims)
	if err != nil {
		p.logger.Warn("クレームのエンコードに失敗したため利用者クレームを付与しません",
			zap.String("subject", id.Subject),
			zap.Error(err),
		)
		return
	}
	h.Set(middleware.HeaderUserClaims, encoded)
}

// Decorator はトークン検証呼び出し用の httpclient.Decorator を返す。
func (p *TrustPropagator) Decorator() httpclient.Decorator {
	return func(_ context.Context, req *http.Request) {
		p.Apply(req.Header, nil)
	}
}
