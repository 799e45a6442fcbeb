package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pong42/platform/internal/config"
	"github.com/pong42/platform/internal/gateway"
	"github.com/pong42/platform/pkg/logger"
)

// secretsLoadTimeout は起動時のシークレット取得の待ち時間。
const secretsLoadTimeout = 10 * time.Second

var (
	// cfgFile は設定ファイルのパス。空の場合は環境変数と既定値のみを使う。
	cfgFile string
	// logLevel は設定のログレベルを上書きする。
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "pong42 API Gateway",
	Long: `pong42 API Gateway はブラウザゲームプラットフォームの唯一の公開入口です。

全てのリクエストを認証ゲートキーパーに通し、/api/<service>/ 以下を
auth・user・database・i18n の各サービスへ転送します。`,
	SilenceUsage: true,
	RunE:         runGateway,
}

// Execute はルートコマンドを実行する。起動に失敗した場合は終了コード1で終了する。
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "設定ファイルのパス (YAML)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "ログレベルの上書き (debug, info, warn, error)")
}

// runGateway は設定とシークレットを読み込み、シグナルを受けるまでGatewayを起動する。
func runGateway(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("ロガーの初期化に失敗: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := config.NewSecretProvider(cfg.Secrets)
	if err != nil {
		return fmt.Errorf("シークレットプロバイダーの初期化に失敗: %w", err)
	}
	loadCtx, cancel := context.WithTimeout(ctx, secretsLoadTimeout)
	secrets, err := config.LoadSecrets(loadCtx, provider, cfg.Secrets)
	cancel()
	if err != nil {
		log.Error("シークレットの読み込みに失敗", zap.String("provider", provider.Name()), zap.Error(err))
		return fmt.Errorf("シークレットの読み込みに失敗: %w", err)
	}
	log.Info("シークレットを読み込みました", zap.String("provider", provider.Name()))

	server, err := gateway.NewServer(cfg, secrets, log)
	if err != nil {
		return fmt.Errorf("Gatewayサーバーの初期化に失敗: %w", err)
	}
	if cfg.DevMode {
		log.Warn("開発モードで起動します。/dev/token が有効です")
	}
	return server.Run(ctx)
}
