package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pong42/platform/internal/config"
	"github.com/pong42/platform/internal/gateway"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "ルーティングテーブルと公開パスを表示する",
	Long: `設定から解決したサービスと上流URLの対応、および認証なしで到達できる
パスの一覧を表示します。シークレットは読み込みません。`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("設定の読み込みに失敗: %w", err)
		}
		return printRoutes(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(routesCmd)
}

// printRoutes はルーティングテーブルと公開パスを表形式で出力する。
func printRoutes(w io.Writer, cfg *config.Config) error {
	registry, err := gateway.NewRegistry(cfg.Services)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PREFIX\tUPSTREAM")
	for _, route := range registry.Routes() {
		fmt.Fprintf(tw, "/api/%s/\t%s\n", route.Service, route.Upstream)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "PUBLIC PATHS")
	for _, p := range gateway.NewAllowList(gateway.PublicPaths(cfg)...).Prefixes() {
		fmt.Fprintf(w, "  %s\n", p)
	}
	return nil
}
