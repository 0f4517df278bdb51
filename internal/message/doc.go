// Package message はダイレクトメッセージと管理者の一斉送信を扱う。
//
// 既読状態は未読から既読への一方向の遷移のみで、更新は条件付きの単一UPDATE文で行う。
// 未読件数はメモリに保持せず、応答のたびにストアから数え直す。
// 読み出し結果はすべてPresentを通して閲覧者向けに変換する。
package message
