// Package httpclient は外部APIとJSONで通信するHTTPクライアントを提供する。
//
// メール配信プロバイダなどの外部APIを呼び出す際に使用する。
// 2xx以外の応答はStatusErrorとして返し、呼び出し側が再試行の要否を判定できる。
package httpclient
