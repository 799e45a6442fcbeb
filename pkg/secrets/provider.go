package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound はシークレットがプロバイダに存在しないことを表す。
var ErrNotFound = errors.New("シークレットが見つかりません")

// Provider はシークレットのバックエンドを抽象化する。
type Provider interface {
	// GetSecret は名前に対応するシークレットの値を返す。
	// 存在しない場合は ErrNotFound をラップしたエラーを返す。
	GetSecret(ctx context.Context, name string) (string, error)
	// Name はプロバイダ名（env, file, vault）を返す。
	Name() string
}

// Chain は複数のプロバイダを先頭から順に試行するプロバイダ。
type Chain struct {
	providers []Provider
}

// NewChain は新しいChainを生成する。
func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

// GetSecret は最初に値を返したプロバイダの結果を返す。
// 全プロバイダが失敗した場合は最後のエラーを返す。
func (c *Chain) GetSecret(ctx context.Context, name string) (string, error) {
	var lastErr error
	for _, p := range c.providers {
		value, err := p.GetSecret(ctx, name)
		if err == nil {
			return value, nil
		}
		lastErr = fmt.Errorf("%s: %w", p.Name(), err)
	}
	if lastErr == nil {
		return "", fmt.Errorf("%w: %s (プロバイダが未設定)", ErrNotFound, Redact(name))
	}
	return "", lastErr
}

// Name はチェーンを構成するプロバイダ名を連結して返す。
func (c *Chain) Name() string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// Redact はログ出力用にシークレット名の一部を伏せる。
func Redact(name string) string {
	if len(name) <= 4 {
		return "****"
	}
	return name[:4] + "****"
}
