// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線として機能する。
// 全てのリクエストはまず認証ゲートキーパーを通過し、Bearerトークンの検証は
// Authサービスに委譲する。その後 /api/<service>/<rest> の <service> から
// 上流サービスを解決し、サービス認証情報と利用者の識別情報を付与して転送する。
// アバター画像のアップロードと取得はJSONとして扱わずバイト列のまま中継する。
package gateway
