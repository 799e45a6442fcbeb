package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pong42/platform/pkg/httpclient"
)

// verifyPath はAuthサービスのトークン検証エンドポイント。
const verifyPath = "/verify"

var (
	// ErrInvalidToken は検証者がトークンを拒否したことを表す。
	ErrInvalidToken = errors.New("トークンが拒否されました")
	// ErrVerifierUnavailable は検証者から判定を得られなかったことを表す。
	ErrVerifierUnavailable = errors.New("トークン検証サービスを利用できません")
)

// Identity は検証済みの利用者の識別情報。リクエスト単位で生成し、共有しない。
type Identity struct {
	// Subject は利用者ID。
	Subject string
	// Claims は検証者が返したクレーム。
	Claims map[string]any
}

// Verifier はBearerトークンを検証する。
// 拒否された場合は ErrInvalidToken、判定を得られない場合は ErrVerifierUnavailable を返す。
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// verifyRequest は検証エンドポイントへのリクエストボディ。
type verifyRequest struct {
	Token string `json:"token"`
}

// verifyResponse は検証エンドポイントの応答。
// subject は数値で返る実装もあるため any で受ける。
type verifyResponse struct {
	Valid   bool           `json:"valid"`
	Subject any            `json:"subject"`
	Claims  map[string]any `json:"claims"`
}

// AuthClient はAuthサービスに検証を委譲する Verifier。
type AuthClient struct {
	client *httpclient.Client
}

var _ Verifier = (*AuthClient)(nil)

// NewAuthClient はAuthサービスに検証を委譲するクライアントを生成する。
// 検証呼び出しにもサービス認証情報を付与する。
func NewAuthClient(baseURL string, timeout time.Duration, trust *TrustPropagator) *AuthClient {
	return &AuthClient{
		client: httpclient.New(baseURL,
			httpclient.WithTimeout(timeout),
			httpclient.WithDecorator(trust.Decorator()),
		),
	}
}

// Verify はトークンをAuthサービスに送り、判定を返す。
// 400/401/403 は否定の判定として扱い、それ以外の失敗は検証者の障害として扱う。
func (a *AuthClient) Verify(ctx context.Context, token string) (*Identity, error) {
	var resp verifyResponse
	err := a.client.PostJSON(ctx, verifyPath, verifyRequest{Token: token}, &resp)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) {
			switch statusErr.StatusCode {
			case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
				return nil, ErrInvalidToken
			}
		}
		return nil, fmt.Errorf("%w: %w", ErrVerifierUnavailable, err)
	}

	if !resp.Valid {
		return nil, ErrInvalidToken
	}
	subject := subjectString(resp.Subject)
	if subject == "" {
		subject = subjectString(resp.Claims["sub"])
	}
	if subject == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{Subject: subject, Claims: resp.Claims}, nil
}

// subjectString はJSONで受け取った利用者IDを文字列に揃える。
func subjectString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}
