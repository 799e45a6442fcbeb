// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// GatewayがAuthサービスの検証エンドポイントを呼び出す際などに使用する。
// 非2xxの応答は StatusError として返し、呼び出し側がステータスで分岐できるようにする。
package httpclient
