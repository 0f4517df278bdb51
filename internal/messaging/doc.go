// Package messaging はメッセージングサービスのHTTPサーバーを提供する。
//
// ダイレクトメッセージ・管理者の一斉送信・通知・ブロックのREST APIと、
// リアルタイム配信用のWebSocketエンドポイントを1つのプロセスで公開する。
// ビジネスロジックは internal/message・internal/notification・internal/account に置き、
// このパッケージはHTTPとの変換とエラーのステータスコード対応だけを担う。
package messaging
