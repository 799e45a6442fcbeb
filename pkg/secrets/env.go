package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvProvider は環境変数からシークレットを読み込む。
// シークレット名は大文字化し、ハイフンをアンダースコアに置換して接頭辞を付ける。
// 例: 接頭辞 "GATEWAY_SECRET_" で "service-token" は GATEWAY_SECRET_SERVICE_TOKEN になる。
type EnvProvider struct {
	// Prefix は環境変数名の接頭辞。
	Prefix string
}

// NewEnvProvider は新しいEnvProviderを生成する。
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{Prefix: prefix}
}

// GetSecret は環境変数からシークレットを取得する。空文字列は未設定として扱う。
func (p *EnvProvider) GetSecret(_ context.Context, name string) (string, error) {
	key := p.EnvVar(name)
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%w: 環境変数 %s", ErrNotFound, key)
	}
	return value, nil
}

// EnvVar はシークレット名に対応する環境変数名を返す。
func (p *EnvProvider) EnvVar(name string) string {
	return p.Prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// Name はプロバイダ名を返す。
func (p *EnvProvider) Name() string {
	return "env"
}
