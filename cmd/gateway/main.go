// API Gatewayサービスのエントリポイント。
// Bearerトークンの検証委譲、内部サービスへのルーティング、アバター画像の中継を担当する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
//
// 使い方:
//
//	# 環境変数と既定値で起動する
//	gateway
//
//	# 設定ファイルを指定して起動する
//	gateway --config /etc/pong42/gateway.yaml
//
//	# 解決されたルーティングテーブルと公開パスを表示する
//	gateway routes
package main

func main() {
	Execute()
}
