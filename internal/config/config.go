package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config はGatewayの設定。起動時に一度だけ読み込まれ、以後は変更しない。
type Config struct {
	// Port はリッスンポート。
	Port string `mapstructure:"port"`
	// MetricsPort はPrometheus用の内部リッスンポート。空の場合はメトリクスを公開しない。
	MetricsPort string `mapstructure:"metrics_port"`
	// FrontendURLs はCORSで許可するオリジン。
	FrontendURLs []string `mapstructure:"frontend_urls"`
	// LogLevel はログレベル。
	LogLevel string `mapstructure:"log_level"`
	// DevMode が有効な場合のみ開発用トークン発行エンドポイントを公開する。
	DevMode bool `mapstructure:"dev_mode"`

	// Services はサービス名から上流のベースURLへの対応。
	Services ServicesConfig `mapstructure:"services"`
	// PublicPaths は認証を省略するパスの接頭辞。デフォルトに追加される。
	PublicPaths []string `mapstructure:"public_paths"`

	// UpstreamTimeout は上流サービス呼び出しのタイムアウト。
	UpstreamTimeout time.Duration `mapstructure:"upstream_timeout"`
	// VerifyTimeout はAuthサービスの検証呼び出しのタイムアウト。
	VerifyTimeout time.Duration `mapstructure:"verify_timeout"`
	// ShutdownTimeout はグレースフルシャットダウンの待ち時間。
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MaxUploadBytes はアバター画像の最大サイズ。
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
	// MaxResponseBytes は上流応答をバッファする最大サイズ。
	MaxResponseBytes int64 `mapstructure:"max_response_bytes"`

	// Secrets はシークレットストアの設定。
	Secrets SecretsConfig `mapstructure:"secrets"`
}

// ServicesConfig は各内部サービスのベースURL。
type ServicesConfig struct {
	Auth     string `mapstructure:"auth"`
	User     string `mapstructure:"user"`
	Database string `mapstructure:"database"`
	I18n     string `mapstructure:"i18n"`
}

// SecretsConfig はシークレットストアの設定。
type SecretsConfig struct {
	// Backend は env, file, vault をカンマ区切りで並べたもの。先頭から順に試行する。
	Backend string `mapstructure:"backend"`
	// EnvPrefix はenvバックエンドの環境変数接頭辞。
	EnvPrefix string `mapstructure:"env_prefix"`
	// Dir はfileバックエンドのディレクトリ。
	Dir string `mapstructure:"dir"`
	// VaultAddr はVaultのアドレス。
	VaultAddr string `mapstructure:"vault_addr"`
	// VaultToken はVaultのトークン。
	VaultToken string `mapstructure:"vault_token"`
	// VaultMount はKV v2のマウントパス。
	VaultMount string `mapstructure:"vault_mount"`
	// VaultPath はKV v2のシークレットパス。
	VaultPath string `mapstructure:"vault_path"`
	// ServiceTokenName はサービス認証情報のシークレット名。
	ServiceTokenName string `mapstructure:"service_token_name"`
	// VerificationSecretName は共有検証シークレットのシークレット名。
	VerificationSecretName string `mapstructure:"verification_secret_name"`
}

// シークレットストアのバックエンド名。
const (
	BackendEnv   = "env"
	BackendFile  = "file"
	BackendVault = "vault"
)

// Backends はバックエンド名を優先順に返す。
func (s SecretsConfig) Backends() []string {
	return splitList([]string{s.Backend})
}

// envBindings は設定キーと環境変数名の対応。
var envBindings = map[string]string{
	"port":                             "PORT",
	"metrics_port":                     "METRICS_PORT",
	"frontend_urls":                    "FRONTEND_URL",
	"log_level":                        "LOG_LEVEL",
	"dev_mode":                         "DEV_MODE",
	"services.auth":                    "AUTH_SERVICE_URL",
	"services.user":                    "USER_SERVICE_URL",
	"services.database":                "DATABASE_SERVICE_URL",
	"services.i18n":                    "I18N_SERVICE_URL",
	"public_paths":                     "PUBLIC_PATHS",
	"upstream_timeout":                 "UPSTREAM_TIMEOUT",
	"verify_timeout":                   "VERIFY_TIMEOUT",
	"shutdown_timeout":                 "SHUTDOWN_TIMEOUT",
	"max_upload_bytes":                 "MAX_UPLOAD_BYTES",
	"max_response_bytes":               "MAX_RESPONSE_BYTES",
	"secrets.backend":                  "SECRETS_BACKEND",
	"secrets.env_prefix":               "SECRETS_ENV_PREFIX",
	"secrets.dir":                      "SECRETS_DIR",
	"secrets.vault_addr":               "VAULT_ADDR",
	"secrets.vault_token":              "VAULT_TOKEN",
	"secrets.vault_mount":              "VAULT_MOUNT",
	"secrets.vault_path":               "VAULT_PATH",
	"secrets.service_token_name":       "SERVICE_TOKEN_NAME",
	"secrets.verification_secret_name": "VERIFICATION_SECRET_NAME",
}

// setDefaults はデフォルト値を設定する。docker-composeのサービス名を前提にしている。
func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("metrics_port", "9090")
	v.SetDefault("frontend_urls", []string{"http://localhost:3000"})
	v.SetDefault("log_level", "info")
	v.SetDefault("dev_mode", false)
	v.SetDefault("services.auth", "http://auth:3001")
	v.SetDefault("services.user", "http://user:3002")
	v.SetDefault("services.database", "http://database:3003")
	v.SetDefault("services.i18n", "http://i18n:3004")
	v.SetDefault("public_paths", []string{})
	v.SetDefault("upstream_timeout", 10*time.Second)
	v.SetDefault("verify_timeout", 5*time.Second)
	v.SetDefault("shutdown_timeout", 15*time.Second)
	v.SetDefault("max_upload_bytes", int64(5<<20))
	v.SetDefault("max_response_bytes", int64(32<<20))
	v.SetDefault("secrets.backend", "env")
	v.SetDefault("secrets.env_prefix", "GATEWAY_SECRET_")
	v.SetDefault("secrets.dir", "/run/secrets")
	v.SetDefault("secrets.vault_mount", "secret")
	v.SetDefault("secrets.vault_path", "gateway")
	v.SetDefault("secrets.service_token_name", "service-token")
	v.SetDefault("secrets.verification_secret_name", "jwt-secret")
}

// Load は設定を読み込んで検証する。pathが空の場合は設定ファイルを読まない。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("環境変数 %s のバインドに失敗: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("設定のデコードに失敗: %w", err)
	}
	cfg.FrontendURLs = splitList(cfg.FrontendURLs)
	cfg.PublicPaths = splitList(cfg.PublicPaths)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// splitList は環境変数から渡されたカンマ区切りの値を展開し、空要素を除く。
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Validate は設定値を検証し、全ての問題をまとめて返す。
func (c *Config) Validate() error {
	var errs []error

	if c.Port == "" {
		errs = append(errs, errors.New("port は必須です"))
	}
	if c.MetricsPort != "" && c.MetricsPort == c.Port {
		errs = append(errs, errors.New("metrics_port は port と異なる必要があります"))
	}
	for name, raw := range map[string]string{
		"services.auth":     c.Services.Auth,
		"services.user":     c.Services.User,
		"services.database": c.Services.Database,
		"services.i18n":     c.Services.I18n,
	} {
		if err := validateBaseURL(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	for _, p := range c.PublicPaths {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("public_paths: %q は / で始まる必要があります", p))
		}
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, errors.New("upstream_timeout は正の値である必要があります"))
	}
	if c.VerifyTimeout <= 0 {
		errs = append(errs, errors.New("verify_timeout は正の値である必要があります"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max_upload_bytes は正の値である必要があります"))
	}
	if c.MaxResponseBytes <= 0 {
		errs = append(errs, errors.New("max_response_bytes は正の値である必要があります"))
	}

	backends := c.Secrets.Backends()
	if len(backends) == 0 {
		errs = append(errs, errors.New("secrets.backend は必須です"))
	}
	for _, b := range backends {
		switch b {
		case BackendEnv, BackendFile:
		case BackendVault:
			if c.Secrets.VaultAddr == "" || c.Secrets.VaultToken == "" {
				errs = append(errs, errors.New("secrets: vault には vault_addr と vault_token が必要です"))
			}
		default:
			errs = append(errs, fmt.Errorf("secrets.backend: 不明なバックエンド %q", b))
		}
	}
	if c.Secrets.ServiceTokenName == "" || c.Secrets.VerificationSecretName == "" {
		errs = append(errs, errors.New("secrets: シークレット名は必須です"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("設定が不正です: %w", errors.Join(errs...))
	}
	return nil
}

// validateBaseURL は上流のベースURLが絶対URLであることを確認する。
func validateBaseURL(raw string) error {
	if raw == "" {
		return errors.New("URLは必須です")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("URLの解析に失敗: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("絶対URLではありません: %q", raw)
	}
	return nil
}
