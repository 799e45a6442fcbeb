// Package metrics はGatewayのPrometheusメトリクスを提供する。
//
// プロセス専用のレジストリにコレクタを登録し、/metrics エンドポイントで公開する。
// ラベルのカーディナリティを抑えるため、サービス名にはレジストリで解決済みの名前のみを使う。
package metrics
