package secrets

import (
	"context"
	"errors"
	"fmt"

	vault "github.com/hashicorp/vault/api"
)

// VaultProvider はHashiCorp VaultのKV v2シークレットエンジンから読み込む。
// 1つのパスに格納されたキーと値の組をシークレット名で引く。
type VaultProvider struct {
	client *vault.Client
	// mount はKV v2エンジンのマウントパス（例: "secret"）。
	mount string
	// path はマウント配下のシークレットパス（例: "gateway"）。
	path string
}

// NewVaultProvider は新しいVaultProviderを生成する。
func NewVaultProvider(address, token, mount, path string) (*VaultProvider, error) {
	if address == "" || token == "" {
		return nil, errors.New("Vaultのアドレスとトークンは必須です")
	}
	if mount == "" || path == "" {
		return nil, errors.New("Vaultのマウントとパスは必須です")
	}

	cfg := vault.DefaultConfig()
	cfg.Address = address
	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("Vaultクライアントの生成に失敗: %w", err)
	}
	client.SetToken(token)

	return &VaultProvider{client: client, mount: mount, path: path}, nil
}

// GetSecret は設定されたパスのシークレットから name のキーを取り出す。
func (p *VaultProvider) GetSecret(ctx context.Context, name string) (string, error) {
	secret, err := p.client.KVv2(p.mount).Get(ctx, p.path)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return "", fmt.Errorf("%w: vault %s/%s", ErrNotFound, p.mount, p.path)
		}
		return "", fmt.Errorf("Vaultからの読み込みに失敗: %w", err)
	}

	raw, ok := secret.Data[name]
	if !ok {
		return "", fmt.Errorf("%w: vault %s/%s のキー %s", ErrNotFound, p.mount, p.path, Redact(name))
	}
	value, ok := raw.(string)
	if !ok || value == "" {
		return "", fmt.Errorf("Vaultのキー %s が文字列ではありません", Redact(name))
	}
	return value, nil
}

// Name はプロバイダ名を返す。
func (p *VaultProvider) Name() string {
	return "vault"
}
