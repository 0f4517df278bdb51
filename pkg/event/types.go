// Package event はリアルタイムチャネルで送受信するイベントの型を定義する。
//
// サーバーからクライアントへは message:new と notification:new を送り、
// クライアントからは join 制御メッセージのみを受け付ける。
package event

import (
	"encoding/json"
	"time"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeMessageNew は新しいメッセージ（または返信の追加）を表す。
	TypeMessageNew Type = "message:new"
	// TypeNotificationNew は新しい通知を表す。
	TypeNotificationNew Type = "notification:new"

	// TypeJoin はクライアントからのルーム再参加要求を表す。
	TypeJoin Type = "join"
	// TypeJoined はルーム参加の完了をクライアントに伝える。
	TypeJoined Type = "joined"
	// TypeError は制御メッセージの処理失敗をクライアントに伝える。
	TypeError Type = "error"
)

// Event はリアルタイムチャネルを流れる1件のイベント。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// Type はイベントの種類。
	Type Type `json:"type"`
	// Room は配信先ルーム（アカウントID）。
	Room string `json:"room,omitempty"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data,omitempty"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// Inbound はクライアントから受信する制御メッセージ。
type Inbound struct {
	// Type は制御メッセージの種類。現在は join のみ。
	Type Type `json:"type"`
	// AccountID は参加するルームのアカウントID。
	AccountID string `json:"account_id"`
}

// JoinedData はjoinedイベントのデータ。
type JoinedData struct {
	// AccountID は参加したルームのアカウントID。
	AccountID string `json:"account_id"`
}

// ErrorData はerrorイベントのデータ。
type ErrorData struct {
	// Message はエラーの内容。
	Message string `json:"message"`
}
