package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New は新しいイベントを生成する。
// dataにはイベント固有のデータ構造体を渡す。JSON形式にシリアライズされる。
func New(room string, eventType Type, data any) (*Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
	}

	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Room:      room,
		Data:      jsonData,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// WithRoom は配信先ルームだけを差し替えたコピーを返す。
// 同じ内容を複数ルームへ送るときに使う。
func (e *Event) WithRoom(room string) *Event {
	cp := *e
	cp.Room = room
	return &cp
}

// DecodeData はイベントのDataフィールドを指定された型にデシリアライズする。
func DecodeData[T any](e *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("イベントデータのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}

// ParseInbound はクライアントから受信したフレームを制御メッセージとして解釈する。
func ParseInbound(raw []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("制御メッセージのデシリアライズに失敗: %w", err)
	}
	if in.Type == "" {
		return nil, fmt.Errorf("制御メッセージの種類が指定されていません")
	}
	return &in, nil
}
