package db

import "time"

// Account はaccountsテーブルの行。
type Account struct {
	ID          string
	Username    string
	Email       string
	DisplayName string
	AvatarUrl   string
	IsAdmin     int64
	IsVerified  int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AccountBlock はaccount_blocksテーブルの行。
type AccountBlock struct {
	BlockerID string
	BlockedID string
	CreatedAt time.Time
}

// Message はmessagesテーブルの行。
type Message struct {
	ID               string
	SenderID         string
	RecipientID      string
	Subject          string
	Body             string
	IsAdminBroadcast int64
	DisplayName      string
	IsRead           int64
	ViaEmail         int64
	CreatedAt        time.Time
}

// MessageReply はmessage_repliesテーブルの行。
type MessageReply struct {
	ID        string
	MessageID string
	SenderID  string
	Body      string
	CreatedAt time.Time
}

// Notification はnotificationsテーブルの行。
type Notification struct {
	ID        string
	AccountID string
	Type      string
	Title     string
	Body      string
	IsRead    int64
	Link      string
	CreatedAt time.Time
}
