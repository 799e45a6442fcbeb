// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// パニックリカバリ、CORS設定、リクエストID付与、構造化リクエストログ、
// エラー応答の共通形式、そしてGatewayが付与する信頼ヘッダーを下流サービスで
// 検証するミドルウェアを含む。
package middleware
