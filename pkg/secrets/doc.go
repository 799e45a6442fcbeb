// Package secrets は起動時にシークレットを取得するプロバイダ群を提供する。
//
// 環境変数、ファイル（Kubernetes Secretのマウント形式）、HashiCorp Vault の
// KV v2 をバックエンドとして扱う。Chain で複数のプロバイダを優先順に試行できる。
// 取得した値はログに出力しない。
package secrets
