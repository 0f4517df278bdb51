package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/msghub/internal/apperr"
	messagingdb "github.com/nao1215/msghub/internal/messaging/db"
	"github.com/nao1215/msghub/pkg/event"
	"github.com/nao1215/msghub/pkg/metrics"
)

// ListLimit は一覧取得で返す通知の最大件数。
const ListLimit = 100

// Emitter はリアルタイムイベントをルームへ配信する。
// 配信は失敗しても呼び出し元に影響しない。
type Emitter interface {
	Emit(ctx context.Context, ev *event.Event)
}

// MarkResult は既読操作の結果。
type MarkResult struct {
	// Updated は今回の操作で既読になった件数。
	Updated int64 `json:"updated"`
	// UnreadRemaining は操作後の未読通知数。
	UnreadRemaining int64 `json:"unread_remaining"`
}

// Service は通知の操作を提供する。
type Service struct {
	queries *messagingdb.Queries
	emitter Emitter
	now     func() time.Time
}

// NewService は新しいServiceを生成する。
func NewService(queries *messagingdb.Queries, emitter Emitter) *Service {
	return &Service{
		queries: queries,
		emitter: emitter,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func fromRows(rows []messagingdb.Notification) []Notification {
	out := make([]Notification, 0, len(rows))
	for _, r := range rows {
		out = append(out, FromRow(r))
	}
	return out
}

// List はアカウントの通知を新しい順に最大ListLimit件返す。
func (s *Service) List(ctx context.Context, accountID string) ([]Notification, error) {
	rows, err := s.queries.ListNotificationsByAccountID(ctx, messagingdb.ListNotificationsByAccountIDParams{
		AccountID: accountID,
		Limit:     ListLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	return fromRows(rows), nil
}

// ListUnread はアカウントの未読通知を新しい順に最大ListLimit件返す。
func (s *Service) ListUnread(ctx context.Context, accountID string) ([]Notification, error) {
	rows, err := s.queries.ListUnreadNotifications(ctx, messagingdb.ListNotificationsByAccountIDParams{
		AccountID: accountID,
		Limit:     ListLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("未読通知一覧の取得に失敗: %w", err)
	}
	return fromRows(rows), nil
}

// UnreadCount はアカウントの未読通知数を返す。
func (s *Service) UnreadCount(ctx context.Context, accountID string) (int64, error) {
	n, err := s.queries.CountUnreadNotifications(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("未読通知数の取得に失敗: %w", err)
	}
	return n, nil
}

// MarkRead は通知を既読にする。既読済みでも成功する。
func (s *Service) MarkRead(ctx context.Context, id, accountID string) (MarkResult, error) {
	n, err := s.queries.GetNotificationByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return MarkResult{}, apperr.NotFound("通知が見つかりません")
	}
	if err != nil {
		return MarkResult{}, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	if n.AccountID != accountID {
		return MarkResult{}, apperr.Forbidden("この通知を操作する権限がありません")
	}

	updated, err := s.queries.MarkNotificationRead(ctx, id)
	if err != nil {
		return MarkResult{}, fmt.Errorf("通知の既読処理に失敗: %w", err)
	}
	return s.result(ctx, accountID, updated)
}

// MarkAllRead はアカウントの未読通知をすべて既読にする。
func (s *Service) MarkAllRead(ctx context.Context, accountID string) (MarkResult, error) {
	updated, err := s.queries.MarkAllNotificationsRead(ctx, accountID)
	if err != nil {
		return MarkResult{}, fmt.Errorf("全通知の既読処理に失敗: %w", err)
	}
	return s.result(ctx, accountID, updated)
}

func (s *Service) result(ctx context.Context, accountID string, updated int64) (MarkResult, error) {
	remaining, err := s.UnreadCount(ctx, accountID)
	if err != nil {
		return MarkResult{}, err
	}
	return MarkResult{Updated: updated, UnreadRemaining: remaining}, nil
}

// Delete は通知を削除する。他人の通知はForbidden。
func (s *Service) Delete(ctx context.Context, id, accountID string) error {
	n, err := s.queries.GetNotificationByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("通知が見つかりません")
	}
	if err != nil {
		return fmt.Errorf("通知の取得に失敗: %w", err)
	}
	if n.AccountID != accountID {
		return apperr.Forbidden("この通知を操作する権限がありません")
	}

	if _, err := s.queries.DeleteNotification(ctx, messagingdb.DeleteNotificationParams{
		ID:        id,
		AccountID: accountID,
	}); err != nil {
		return fmt.Errorf("通知の削除に失敗: %w", err)
	}
	return nil
}

// ClearAll はアカウントの通知をすべて削除し、削除件数を返す。
func (s *Service) ClearAll(ctx context.Context, accountID string) (int64, error) {
	n, err := s.queries.ClearNotifications(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("通知の全削除に失敗: %w", err)
	}
	return n, nil
}

// Validate は通知作成の入力を検証する。
func (p CreateParams) Validate() error {
	if strings.TrimSpace(p.AccountID) == "" {
		return apperr.Validation("通知先のアカウントIDが必要です")
	}
	if strings.TrimSpace(p.Title) == "" {
		return apperr.Validation("通知のタイトルが必要です")
	}
	if !p.Type.Valid() {
		return apperr.Validation(fmt.Sprintf("未知の通知種類です: %s", p.Type))
	}
	return nil
}

// Create は通知を作成し、宛先のルームへnotification:newを配信する。
func (s *Service) Create(ctx context.Context, p CreateParams) (Notification, error) {
	if err := p.Validate(); err != nil {
		return Notification{}, err
	}

	row := NewRow(uuid.New().String(), p, s.now())
	if err := s.queries.CreateNotification(ctx, row); err != nil {
		return Notification{}, fmt.Errorf("通知の作成に失敗: %w", err)
	}

	n := Notification{
		ID:        row.ID,
		AccountID: row.AccountID,
		Type:      p.Type,
		Title:     row.Title,
		Body:      row.Body,
		Link:      row.Link,
		CreatedAt: row.CreatedAt,
	}
	s.Publish(ctx, n)
	return n, nil
}

// Publish は作成済みの通知を宛先のルームへ配信する。
// 一斉送信のようにトランザクション内で通知を書き込んだ呼び出し元が、
// コミット後に使う。
func (s *Service) Publish(ctx context.Context, n Notification) {
	metrics.NotificationsCreated.WithLabelValues(string(n.Type)).Inc()
	if s.emitter == nil {
		return
	}
	ev, err := event.New(n.AccountID, event.TypeNotificationNew, n)
	if err != nil {
		return
	}
	s.emitter.Emit(ctx, ev)
}
