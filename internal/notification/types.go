package notification

import (
	"strings"
	"time"

	messagingdb "github.com/nao1215/msghub/internal/messaging/db"
)

// Type は通知の種類。
type Type string

const (
	TypeCourse       Type = "course"
	TypeUpdate       Type = "update"
	TypeDiscount     Type = "discount"
	TypeAnnouncement Type = "announcement"
	TypeMessage      Type = "message"
	TypeInfo         Type = "info"
	TypeSuccess      Type = "success"
	TypeWarning      Type = "warning"
	TypeError        Type = "error"
)

// Valid は既知の種類か返す。
func (t Type) Valid() bool {
	switch t {
	case TypeCourse, TypeUpdate, TypeDiscount, TypeAnnouncement,
		TypeMessage, TypeInfo, TypeSuccess, TypeWarning, TypeError:
		return true
	}
	return false
}

// Notification は通知のJSON表現。
type Notification struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Type      Type      `json:"type"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	IsRead    bool      `json:"is_read"`
	Link      string    `json:"link,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FromRow はDB行を通知に変換する。
func FromRow(n messagingdb.Notification) Notification {
	return Notification{
		ID:        n.ID,
		AccountID: n.AccountID,
		Type:      Type(n.Type),
		Title:     n.Title,
		Body:      n.Body,
		IsRead:    n.IsRead != 0,
		Link:      n.Link,
		CreatedAt: n.CreatedAt,
	}
}

// CreateParams は通知作成の入力。
type CreateParams struct {
	AccountID string `json:"account_id"`
	Type      Type   `json:"type"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Link      string `json:"link"`
}

// BroadcastTitle は件名のない一斉送信に使う通知タイトル。
const BroadcastTitle = "Message from Admin"

// BroadcastLink は一斉送信スレッドへのリンク。
const BroadcastLink = "/messages?thread=admin-broadcast"

// Classify は件名と本文のキーワードから一斉送信の通知種類を決める。
// course、update、discount の順に判定し、どれにも当たらなければ announcement。
func Classify(subject, body string) Type {
	text := strings.ToLower(subject + " " + body)
	switch {
	case strings.Contains(text, "course"):
		return TypeCourse
	case strings.Contains(text, "update"):
		return TypeUpdate
	case strings.Contains(text, "discount"):
		return TypeDiscount
	default:
		return TypeAnnouncement
	}
}

// ForBroadcast は一斉送信メッセージ1通に対応する通知の入力を組み立てる。
func ForBroadcast(accountID, subject, body string) CreateParams {
	title := strings.TrimSpace(subject)
	if title == "" {
		title = BroadcastTitle
	}
	return CreateParams{
		AccountID: accountID,
		Type:      Classify(subject, body),
		Title:     title,
		Body:      body,
		Link:      BroadcastLink,
	}
}

// NewRow は通知の入力からINSERT用のパラメータを組み立てる。
func NewRow(id string, p CreateParams, now time.Time) messagingdb.CreateNotificationParams {
	return messagingdb.CreateNotificationParams{
		ID:        id,
		AccountID: p.AccountID,
		Type:      string(p.Type),
		Title:     p.Title,
		Body:      p.Body,
		Link:      p.Link,
		CreatedAt: now,
	}
}
