// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWT認証トークンの検証、管理者・内部APIキーによるアクセス制御、
// アカウント単位の送信レート制限、パニックリカバリ、CORS設定を含む。
package middleware
