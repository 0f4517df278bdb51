package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/msghub/internal/account"
	"github.com/nao1215/msghub/internal/apperr"
	"github.com/nao1215/msghub/internal/email"
	messagingdb "github.com/nao1215/msghub/internal/messaging/db"
	"github.com/nao1215/msghub/internal/notification"
	"github.com/nao1215/msghub/internal/policy"
	"github.com/nao1215/msghub/pkg/event"
	"github.com/nao1215/msghub/pkg/metrics"
)

// Emitter はリアルタイムイベントをルームへ配信する。
type Emitter interface {
	Emit(ctx context.Context, ev *event.Event)
}

// Mailer はメッセージのメール通知を送信する。
type Mailer interface {
	SendMessage(ctx context.Context, m email.MessageEmail) error
}

// Service はメッセージの送受信と既読管理を提供する。
type Service struct {
	db            *sql.DB
	queries       *messagingdb.Queries
	accounts      *account.Service
	notifications *notification.Service
	emitter       Emitter
	mailer        Mailer
	emailTimeout  time.Duration
	now           func() time.Time

	// mails は送信中のメールを待ち合わせる。
	mails sync.WaitGroup
}

// Option はServiceの設定を変更する。
type Option func(*Service)

// WithMailer はメール通知の送信先とタイムアウトを設定する。
func WithMailer(m Mailer, timeout time.Duration) Option {
	return func(s *Service) {
		s.mailer = m
		s.emailTimeout = timeout
	}
}

// NewService は新しいServiceを生成する。
func NewService(sqlDB *sql.DB, accounts *account.Service, notifications *notification.Service, emitter Emitter, opts ...Option) *Service {
	s := &Service{
		db:            sqlDB,
		queries:       messagingdb.New(sqlDB),
		accounts:      accounts,
		notifications: notifications,
		emitter:       emitter,
		emailTimeout:  10 * time.Second,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendParams はダイレクトメッセージ送信の入力。
type SendParams struct {
	RecipientID string `json:"recipient_id"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
	ViaEmail    bool   `json:"via_email"`
}

// Send はsenderからrecipientへダイレクトメッセージを送信する。
// 保存後、受信者と送信者のルームへmessage:newを配信する。
func (s *Service) Send(ctx context.Context, senderID string, p SendParams) (View, error) {
	if strings.TrimSpace(p.Body) == "" {
		return View{}, apperr.Validation("本文が必要です")
	}
	if strings.TrimSpace(p.RecipientID) == "" {
		return View{}, apperr.Validation("宛先が必要です")
	}
	if p.RecipientID == senderID {
		return View{}, apperr.Validation("自分自身にメッセージを送信することはできません")
	}

	recipient, err := s.accounts.Get(ctx, p.RecipientID)
	if err != nil {
		return View{}, err
	}

	senderBlocked, err := s.accounts.BlockedSet(ctx, senderID)
	if err != nil {
		return View{}, err
	}
	recipientBlocked, err := s.accounts.BlockedSet(ctx, recipient.ID)
	if err != nil {
		return View{}, err
	}
	if d := policy.Evaluate(senderID, recipient.ID, senderBlocked, recipientBlocked); !d.Allowed {
		return View{}, apperr.Blocked("このアカウントにはメッセージを送信できません", string(d.Reason))
	}

	row := messagingdb.CreateMessageParams{
		ID:          uuid.New().String(),
		SenderID:    senderID,
		RecipientID: recipient.ID,
		Subject:     strings.TrimSpace(p.Subject),
		Body:        p.Body,
		ViaEmail:    boolToInt(p.ViaEmail && recipient.Email != ""),
		CreatedAt:   s.now(),
	}
	if err := s.queries.CreateMessage(ctx, row); err != nil {
		return View{}, fmt.Errorf("メッセージの保存に失敗: %w", err)
	}
	metrics.MessagesSent.Inc()

	m := messageFromParams(row)
	people, err := s.accounts.Lookup(ctx, senderID, recipient.ID)
	if err != nil {
		return View{}, err
	}
	view := Present(m, nil, people, false)

	s.emit(ctx, event.TypeMessageNew, view, recipient.ID, senderID)

	if row.ViaEmail != 0 {
		senderName := senderID
		if a, ok := people[senderID]; ok && a.DisplayName != "" {
			senderName = a.DisplayName
		}
		s.mailAsync(email.MessageEmail{
			ToEmail:    recipient.Email,
			ToName:     recipient.DisplayName,
			SenderName: senderName,
			Subject:    row.Subject,
			Body:       row.Body,
			ThreadID:   senderID,
		})
	}
	return view, nil
}

// BroadcastParams は一斉送信の入力。
// Allがtrueなら管理者以外の全アカウント、falseならRecipientsに列挙した
// ID・ユーザー名・メールアドレスが宛先になる。
type BroadcastParams struct {
	All        bool     `json:"all"`
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	SendEmail  bool     `json:"send_email"`
}

// BroadcastResult は一斉送信の結果。
type BroadcastResult struct {
	// Sent は保存に成功した宛先の数。
	Sent int `json:"sent"`
	// Failed は保存に失敗した宛先の数。
	Failed int `json:"failed"`
	// Recipients は解決された宛先の数。
	Recipients int `json:"recipients"`
	// MessageIDs は保存したメッセージのID。管理者は相手とのスレッドからも参照できる。
	MessageIDs []string `json:"message_ids"`
}

// Broadcast は管理者から複数アカウントへ一斉送信する。
// 宛先ごとにメッセージと通知を1つのトランザクションで保存し、
// コミット後に宛先のルームへnotification:newを配信する。
func (s *Service) Broadcast(ctx context.Context, adminID string, p BroadcastParams) (BroadcastResult, error) {
	isAdmin, err := s.accounts.IsAdmin(ctx, adminID)
	if err != nil {
		return BroadcastResult{}, err
	}
	if !isAdmin {
		return BroadcastResult{}, apperr.Forbidden("一斉送信には管理者権限が必要です")
	}
	if strings.TrimSpace(p.Body) == "" {
		return BroadcastResult{}, apperr.Validation("本文が必要です")
	}
	if !p.All && len(p.Recipients) == 0 {
		return BroadcastResult{}, apperr.Validation("宛先が必要です")
	}

	resolved, err := s.accounts.Resolve(ctx, p.All, p.Recipients, adminID)
	if err != nil {
		return BroadcastResult{}, err
	}
	recipients := resolved[:0]
	for _, a := range resolved {
		if a.ID != adminID {
			recipients = append(recipients, a)
		}
	}
	if len(recipients) == 0 {
		return BroadcastResult{}, apperr.Validation("宛先が見つかりません")
	}

	subject := strings.TrimSpace(p.Subject)
	result := BroadcastResult{Recipients: len(recipients), MessageIDs: []string{}}
	for _, r := range recipients {
		msgID, n, err := s.broadcastOne(ctx, adminID, r, subject, p)
		if err != nil {
			result.Failed++
			metrics.BroadcastRecipients.WithLabelValues("failed").Inc()
			log.Printf("一斉送信の保存に失敗 (recipient=%s): %v", r.ID, err)
			continue
		}
		result.Sent++
		result.MessageIDs = append(result.MessageIDs, msgID)
		metrics.BroadcastRecipients.WithLabelValues("sent").Inc()
		s.notifications.Publish(ctx, n)

		if p.SendEmail && r.Email != "" {
			s.mailAsync(email.MessageEmail{
				ToEmail:    r.Email,
				ToName:     r.DisplayName,
				SenderName: BroadcastDisplayName,
				Subject:    subject,
				Body:       p.Body,
				ThreadID:   BroadcastThreadID,
			})
		}
	}
	return result, nil
}

// broadcastOne は1宛先分のメッセージと通知を同じトランザクションで保存し、メッセージIDと通知を返す。
func (s *Service) broadcastOne(ctx context.Context, adminID string, r account.Account, subject string, p BroadcastParams) (string, notification.Notification, error) {
	now := s.now()
	msg := messagingdb.CreateMessageParams{
		ID:               uuid.New().String(),
		SenderID:         adminID,
		RecipientID:      r.ID,
		Subject:          subject,
		Body:             p.Body,
		IsAdminBroadcast: 1,
		DisplayName:      BroadcastDisplayName,
		ViaEmail:         boolToInt(p.SendEmail && r.Email != ""),
		CreatedAt:        now,
	}
	row := notification.NewRow(uuid.New().String(), notification.ForBroadcast(r.ID, subject, p.Body), now)

	err := messagingdb.RunInTx(ctx, s.db, func(q *messagingdb.Queries) error {
		if err := q.CreateMessage(ctx, msg); err != nil {
			return fmt.Errorf("メッセージの保存に失敗: %w", err)
		}
		if err := q.CreateNotification(ctx, row); err != nil {
			return fmt.Errorf("通知の保存に失敗: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", notification.Notification{}, err
	}
	return msg.ID, notification.FromRow(messagingdb.Notification{
		ID:        row.ID,
		AccountID: row.AccountID,
		Type:      row.Type,
		Title:     row.Title,
		Body:      row.Body,
		Link:      row.Link,
		CreatedAt: row.CreatedAt,
	}), nil
}

// GetThread は閲覧者と相手のスレッドを作成順に返す。
// 閲覧者が送信した一斉送信は相手とのスレッドに含まれる。
// otherIDがBroadcastThreadIDの場合は閲覧者宛ての一斉送信を返す。
func (s *Service) GetThread(ctx context.Context, viewerID, otherID string) ([]View, error) {
	if strings.TrimSpace(otherID) == "" {
		return nil, apperr.Validation("相手のアカウントIDが必要です")
	}

	var rows []messagingdb.Message
	var err error
	if otherID == BroadcastThreadID {
		rows, err = s.queries.ListBroadcastThread(ctx, viewerID)
	} else {
		rows, err = s.queries.ListThread(ctx, messagingdb.PairParams{ViewerID: viewerID, OtherID: otherID})
	}
	if err != nil {
		return nil, fmt.Errorf("スレッドの取得に失敗: %w", err)
	}
	return s.presentAll(ctx, viewerID, rows)
}

// Inbox は閲覧者宛ての全メッセージを新しい順に返す。
func (s *Service) Inbox(ctx context.Context, viewerID string) ([]View, error) {
	rows, err := s.queries.ListInbox(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("受信箱の取得に失敗: %w", err)
	}
	return s.presentAll(ctx, viewerID, rows)
}

// Conversation は相手ごとのスレッドの要約。
type Conversation struct {
	// OtherID は相手のアカウントID。一斉送信スレッドではBroadcastThreadID。
	OtherID string `json:"other_id"`
	// Other は相手の表示情報。
	Other *Participant `json:"other"`
	// LastMessage はスレッドの最新メッセージ。
	LastMessage View `json:"last_message"`
	// UnreadCount は閲覧者宛ての未読メッセージ数。
	UnreadCount int64 `json:"unread_count"`
}

// Conversations は閲覧者のスレッド一覧を最新メッセージの新しい順に返す。
// 閲覧者宛ての一斉送信は1つのスレッドにまとめ、閲覧者が送信した一斉送信は
// 宛先とのスレッドに含める。
func (s *Service) Conversations(ctx context.Context, viewerID string) ([]Conversation, error) {
	rows, err := s.queries.ListMessagesForAccount(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("スレッド一覧の取得に失敗: %w", err)
	}
	viewerIsAdmin, err := s.accounts.IsAdmin(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int)
	var out []Conversation
	var lastRows []messagingdb.Message
	for _, m := range rows {
		var other string
		switch {
		case m.IsAdminBroadcast != 0 && m.RecipientID == viewerID:
			other = BroadcastThreadID
		case m.SenderID == viewerID:
			other = m.RecipientID
		default:
			other = m.SenderID
		}

		i, ok := index[other]
		if !ok {
			i = len(out)
			index[other] = i
			out = append(out, Conversation{OtherID: other})
			lastRows = append(lastRows, m)
		}
		if m.RecipientID == viewerID && m.IsRead == 0 {
			out[i].UnreadCount++
		}
	}

	ids := []string{viewerID}
	for _, c := range out {
		if c.OtherID != BroadcastThreadID {
			ids = append(ids, c.OtherID)
		}
	}
	people, err := s.accounts.Lookup(ctx, ids...)
	if err != nil {
		return nil, err
	}

	for i := range out {
		out[i].LastMessage = Present(lastRows[i], nil, people, viewerIsAdmin)
		if out[i].OtherID == BroadcastThreadID {
			out[i].Other = &Participant{ID: BroadcastThreadID, DisplayName: BroadcastDisplayName}
		} else {
			out[i].Other = participant(out[i].OtherID, people)
		}
	}
	return out, nil
}

// Reply はメッセージに返信を追記し、両方の参加者のルームへmessage:newを配信する。
func (s *Service) Reply(ctx context.Context, messageID, authorID, body string) (View, error) {
	if strings.TrimSpace(body) == "" {
		return View{}, apperr.Validation("本文が必要です")
	}

	m, err := s.getMessage(ctx, messageID)
	if err != nil {
		return View{}, err
	}
	authorIsAdmin, err := s.accounts.IsAdmin(ctx, authorID)
	if err != nil {
		return View{}, err
	}
	if m.IsAdminBroadcast != 0 && !authorIsAdmin {
		return View{}, apperr.Forbidden("一斉送信には返信できません")
	}
	if authorID != m.SenderID && authorID != m.RecipientID && !authorIsAdmin {
		return View{}, apperr.Forbidden("このメッセージに返信する権限がありません")
	}

	if err := s.queries.CreateReply(ctx, messagingdb.CreateReplyParams{
		ID:        uuid.New().String(),
		MessageID: m.ID,
		SenderID:  authorID,
		Body:      body,
		CreatedAt: s.now(),
	}); err != nil {
		return View{}, fmt.Errorf("返信の保存に失敗: %w", err)
	}
	metrics.RepliesSent.Inc()

	replies, err := s.queries.ListReplies(ctx, m.ID)
	if err != nil {
		return View{}, fmt.Errorf("返信の取得に失敗: %w", err)
	}
	ids := []string{m.SenderID, m.RecipientID}
	for _, r := range replies {
		ids = append(ids, r.SenderID)
	}
	people, err := s.accounts.Lookup(ctx, ids...)
	if err != nil {
		return View{}, err
	}

	for _, room := range []string{m.RecipientID, m.SenderID} {
		roomIsAdmin := people[room].IsAdmin
		s.emit(ctx, event.TypeMessageNew, Present(m, replies, people, roomIsAdmin), room)
	}
	return Present(m, replies, people, authorIsAdmin), nil
}

// MarkResult は既読操作の結果。件数はすべて操作後にストアから数え直した値。
type MarkResult struct {
	// Updated は今回の操作で既読になったメッセージ数。
	Updated int64 `json:"updated"`
	// UnreadRemaining は操作後の未読メッセージ数。
	UnreadRemaining int64 `json:"unread_remaining"`
	// NotificationUnreadRemaining は操作後の未読通知数。
	NotificationUnreadRemaining int64 `json:"notification_unread_remaining"`
}

// MarkRead はメッセージを既読にする。受信者以外はForbidden。既読済みでも成功する。
func (s *Service) MarkRead(ctx context.Context, messageID, viewerID string) (MarkResult, error) {
	m, err := s.getMessage(ctx, messageID)
	if err != nil {
		return MarkResult{}, err
	}
	if m.RecipientID != viewerID {
		return MarkResult{}, apperr.Forbidden("このメッセージを既読にする権限がありません")
	}

	updated, err := s.queries.MarkMessageRead(ctx, messagingdb.MarkMessageReadParams{
		ID:          m.ID,
		RecipientID: viewerID,
	})
	if err != nil {
		return MarkResult{}, fmt.Errorf("既読処理に失敗: %w", err)
	}
	return s.markResult(ctx, viewerID, updated)
}

// MarkThreadRead は閲覧者と相手のスレッドの未読メッセージを1つのUPDATEで既読にする。
// 同時に複数回呼ばれても、更新件数の合計は未読だったメッセージ数に一致する。
func (s *Service) MarkThreadRead(ctx context.Context, viewerID, otherID string) (MarkResult, error) {
	if strings.TrimSpace(otherID) == "" {
		return MarkResult{}, apperr.Validation("相手のアカウントIDが必要です")
	}

	var updated int64
	var err error
	if otherID == BroadcastThreadID {
		updated, err = s.queries.MarkBroadcastThreadRead(ctx, viewerID)
	} else {
		updated, err = s.queries.MarkThreadRead(ctx, messagingdb.PairParams{ViewerID: viewerID, OtherID: otherID})
	}
	if err != nil {
		return MarkResult{}, fmt.Errorf("スレッドの既読処理に失敗: %w", err)
	}
	return s.markResult(ctx, viewerID, updated)
}

// MarkAllRead は閲覧者宛ての未読メッセージをすべて既読にする。
func (s *Service) MarkAllRead(ctx context.Context, viewerID string) (MarkResult, error) {
	updated, err := s.queries.MarkAllMessagesRead(ctx, viewerID)
	if err != nil {
		return MarkResult{}, fmt.Errorf("全メッセージの既読処理に失敗: %w", err)
	}
	return s.markResult(ctx, viewerID, updated)
}

func (s *Service) markResult(ctx context.Context, viewerID string, updated int64) (MarkResult, error) {
	unread, err := s.UnreadCount(ctx, viewerID)
	if err != nil {
		return MarkResult{}, err
	}
	notifUnread, err := s.notifications.UnreadCount(ctx, viewerID)
	if err != nil {
		return MarkResult{}, err
	}
	return MarkResult{
		Updated:                     updated,
		UnreadRemaining:             unread,
		NotificationUnreadRemaining: notifUnread,
	}, nil
}

// DeleteThread は閲覧者と相手の間の全メッセージを一斉送信も含めて返信ごと削除し、
// 削除件数を返す。どちら側から呼ばれても削除対象は同じ。
// otherIDがBroadcastThreadIDの場合は閲覧者宛ての一斉送信を削除する。
func (s *Service) DeleteThread(ctx context.Context, viewerID, otherID string) (int64, error) {
	if strings.TrimSpace(otherID) == "" {
		return 0, apperr.Validation("相手のアカウントIDが必要です")
	}

	var deleted int64
	err := messagingdb.RunInTx(ctx, s.db, func(q *messagingdb.Queries) error {
		var err error
		if otherID == BroadcastThreadID {
			deleted, err = q.DeleteBroadcastThread(ctx, viewerID)
		} else {
			deleted, err = q.DeleteThread(ctx, messagingdb.PairParams{ViewerID: viewerID, OtherID: otherID})
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("スレッドの削除に失敗: %w", err)
	}
	return deleted, nil
}

// UnreadCount は閲覧者宛ての未読メッセージ数を返す。
func (s *Service) UnreadCount(ctx context.Context, viewerID string) (int64, error) {
	n, err := s.queries.CountUnreadMessages(ctx, viewerID)
	if err != nil {
		return 0, fmt.Errorf("未読メッセージ数の取得に失敗: %w", err)
	}
	return n, nil
}

// Wait は送信中のメールがすべて終わるまで待つ。
func (s *Service) Wait() {
	s.mails.Wait()
}

func (s *Service) getMessage(ctx context.Context, id string) (messagingdb.Message, error) {
	m, err := s.queries.GetMessageByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return messagingdb.Message{}, apperr.NotFound("メッセージが見つかりません")
	}
	if err != nil {
		return messagingdb.Message{}, fmt.Errorf("メッセージの取得に失敗: %w", err)
	}
	return m, nil
}

// presentAll は返信と参加者情報を付けて閲覧者向けに変換する。
func (s *Service) presentAll(ctx context.Context, viewerID string, rows []messagingdb.Message) ([]View, error) {
	viewerIsAdmin, err := s.accounts.IsAdmin(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	replies := make(map[string][]messagingdb.MessageReply, len(rows))
	ids := []string{viewerID}
	for _, m := range rows {
		rs, err := s.queries.ListReplies(ctx, m.ID)
		if err != nil {
			return nil, fmt.Errorf("返信の取得に失敗: %w", err)
		}
		replies[m.ID] = rs
		ids = append(ids, m.SenderID, m.RecipientID)
		for _, r := range rs {
			ids = append(ids, r.SenderID)
		}
	}
	people, err := s.accounts.Lookup(ctx, ids...)
	if err != nil {
		return nil, err
	}

	out := make([]View, 0, len(rows))
	for _, m := range rows {
		out = append(out, Present(m, replies[m.ID], people, viewerIsAdmin))
	}
	return out, nil
}

// emit はイベントを各ルームへ配信する。
func (s *Service) emit(ctx context.Context, t event.Type, data any, rooms ...string) {
	if s.emitter == nil {
		return
	}
	for _, room := range rooms {
		ev, err := event.New(room, t, data)
		if err != nil {
			log.Printf("イベントの生成に失敗: %v", err)
			return
		}
		s.emitter.Emit(ctx, ev)
	}
}

// mailAsync はメールをバックグラウンドで送信する。失敗はログに残すだけで呼び出し元には返さない。
func (s *Service) mailAsync(m email.MessageEmail) {
	if s.mailer == nil {
		return
	}
	s.mails.Add(1)
	go func() {
		defer s.mails.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.emailTimeout)
		defer cancel()
		if err := s.mailer.SendMessage(ctx, m); err != nil {
			log.Printf("[Email] メール送信に失敗 (to=%s): %v", m.ToEmail, err)
		}
	}()
}

func messageFromParams(p messagingdb.CreateMessageParams) messagingdb.Message {
	return messagingdb.Message{
		ID:               p.ID,
		SenderID:         p.SenderID,
		RecipientID:      p.RecipientID,
		Subject:          p.Subject,
		Body:             p.Body,
		IsAdminBroadcast: p.IsAdminBroadcast,
		DisplayName:      p.DisplayName,
		ViaEmail:         p.ViaEmail,
		CreatedAt:        p.CreatedAt,
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
