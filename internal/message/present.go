package message

import (
	"time"

	"github.com/nao1215/msghub/internal/account"
	messagingdb "github.com/nao1215/msghub/internal/messaging/db"
)

const (
	// BroadcastThreadID は一斉送信スレッドを表す仮想的な相手ID。
	BroadcastThreadID = "admin-broadcast"
	// BroadcastDisplayName は一斉送信の差出人として表示する名前。
	BroadcastDisplayName = "Admin"
)

// Participant はメッセージの参加者の表示情報。
type Participant struct {
	ID          string `json:"id,omitempty"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	IsVerified  bool   `json:"is_verified,omitempty"`
}

// Reply はメッセージへの返信の表示形式。
type Reply struct {
	ID        string       `json:"id"`
	MessageID string       `json:"message_id"`
	SenderID  string       `json:"sender_id,omitempty"`
	Body      string       `json:"body"`
	CreatedAt time.Time    `json:"created_at"`
	Sender    *Participant `json:"sender,omitempty"`
}

// View はクライアントに返すメッセージの表示形式。
// 一斉送信を管理者以外が閲覧する場合、送信者は表示名だけになる。
type View struct {
	ID               string       `json:"id"`
	SenderID         string       `json:"sender_id,omitempty"`
	RecipientID      string       `json:"recipient_id"`
	Subject          string       `json:"subject"`
	Body             string       `json:"body"`
	IsAdminBroadcast bool         `json:"is_admin_broadcast"`
	DisplayName      string       `json:"display_name,omitempty"`
	IsRead           bool         `json:"is_read"`
	ViaEmail         bool         `json:"via_email"`
	CreatedAt        time.Time    `json:"created_at"`
	Sender           *Participant `json:"sender,omitempty"`
	Recipient        *Participant `json:"recipient,omitempty"`
	Replies          []Reply      `json:"replies"`
}

func participant(id string, people map[string]account.Account) *Participant {
	a, ok := people[id]
	if !ok {
		return &Participant{ID: id}
	}
	return &Participant{
		ID:          a.ID,
		Username:    a.Username,
		DisplayName: a.DisplayName,
		AvatarURL:   a.AvatarURL,
		IsVerified:  a.IsVerified,
	}
}

// Present はメッセージ行を閲覧者向けの表示形式に変換する。
// すべての読み出し経路はこの関数を通す。管理者以外が一斉送信を閲覧する場合は
// 送信者IDと返信者IDを隠し、差出人を表示名に置き換える。
func Present(m messagingdb.Message, replies []messagingdb.MessageReply, people map[string]account.Account, viewerIsAdmin bool) View {
	broadcast := m.IsAdminBroadcast != 0
	masked := broadcast && !viewerIsAdmin

	v := View{
		ID:               m.ID,
		SenderID:         m.SenderID,
		RecipientID:      m.RecipientID,
		Subject:          m.Subject,
		Body:             m.Body,
		IsAdminBroadcast: broadcast,
		DisplayName:      m.DisplayName,
		IsRead:           m.IsRead != 0,
		ViaEmail:         m.ViaEmail != 0,
		CreatedAt:        m.CreatedAt,
		Recipient:        participant(m.RecipientID, people),
		Replies:          make([]Reply, 0, len(replies)),
	}

	switch {
	case masked:
		v.SenderID = ""
		v.Sender = &Participant{DisplayName: m.DisplayName}
	case broadcast:
		v.Sender = participant(m.SenderID, people)
		v.Sender.DisplayName = m.DisplayName
	default:
		v.Sender = participant(m.SenderID, people)
	}

	for _, r := range replies {
		reply := Reply{
			ID:        r.ID,
			MessageID: r.MessageID,
			SenderID:  r.SenderID,
			Body:      r.Body,
			CreatedAt: r.CreatedAt,
			Sender:    participant(r.SenderID, people),
		}
		if masked && r.SenderID != m.RecipientID {
			reply.SenderID = ""
			reply.Sender = &Participant{DisplayName: m.DisplayName}
		}
		v.Replies = append(v.Replies, reply)
	}
	return v
}
