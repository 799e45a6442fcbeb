package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/pong42/platform/pkg/secrets"
)

// Secrets は起動時にシークレットストアから取得する値。プロセスの生存期間中は変更しない。
type Secrets struct {
	// ServiceToken は下流サービスへの全ての呼び出しに付与するサービス認証情報。
	ServiceToken string
	// VerificationSecret はAuthサービスと共有するトークン署名シークレット。
	VerificationSecret string
}

// String はログに値が出力されないよう伏せ字を返す。
func (s Secrets) String() string {
	return "Secrets{ServiceToken:****, VerificationSecret:****}"
}

// GoString は %#v でも値が出力されないよう伏せ字を返す。
func (s Secrets) GoString() string {
	return s.String()
}

// NewSecretProvider は設定に従ってシークレットプロバイダを構築する。
func NewSecretProvider(cfg SecretsConfig) (secrets.Provider, error) {
	var providers []secrets.Provider
	for _, backend := range cfg.Backends() {
		switch backend {
		case BackendEnv:
			providers = append(providers, secrets.NewEnvProvider(cfg.EnvPrefix))
		case BackendFile:
			p, err := secrets.NewFileProvider(cfg.Dir)
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)
		case BackendVault:
			p, err := secrets.NewVaultProvider(cfg.VaultAddr, cfg.VaultToken, cfg.VaultMount, cfg.VaultPath)
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)
		default:
			return nil, fmt.Errorf("不明なシークレットバックエンド: %q", backend)
		}
	}
	if len(providers) == 0 {
		return nil, errors.New("シークレットバックエンドが設定されていません")
	}
	if len(providers) == 1 {
		return providers[0], nil
	}
	return secrets.NewChain(providers...), nil
}

// LoadSecrets はサービス認証情報と検証シークレットを取得する。
// どちらか一方でも取得できない場合はエラーを返し、プロセスは起動してはならない。
func LoadSecrets(ctx context.Context, p secrets.Provider, cfg SecretsConfig) (Secrets, error) {
	serviceToken, err := p.GetSecret(ctx, cfg.ServiceTokenName)
	if err != nil {
		return Secrets{}, fmt.Errorf("サービス認証情報の取得に失敗: %w", err)
	}
	verificationSecret, err := p.GetSecret(ctx, cfg.VerificationSecretName)
	if err != nil {
		return Secrets{}, fmt.Errorf("検証シークレットの取得に失敗: %w", err)
	}
	return Secrets{
		ServiceToken:       serviceToken,
		VerificationSecret: verificationSecret,
	}, nil
}
