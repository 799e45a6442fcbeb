// Package logger はzapベースの構造化ロガーを生成する。
//
// 全プロセスで同じJSON形式のログを出力するために使用する。
// シークレットやBearerトークンはログに出力してはならない。
package logger
