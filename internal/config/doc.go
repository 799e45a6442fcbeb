// Package config はGatewayプロセスの設定と起動時シークレットを読み込む。
//
// 設定はデフォルト値、任意のYAMLファイル、環境変数の順に上書きされる。
// 環境変数名は各サービスで使っている PORT や AUTH_SERVICE_URL などをそのまま使う。
package config
