// Package notification はアカウントごとの通知を管理する。
//
// 通知の一覧・既読・削除に加え、一斉送信メッセージから通知を組み立てる
// キーワード分類と、他サービスからの通知作成を提供する。作成された通知は
// notification:new イベントとして宛先アカウントのルームへ配信される。
package notification
