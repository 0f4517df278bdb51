package db

import (
	"context"
	"time"
)

const notificationColumns = `id, account_id, type, title, body, is_read, link, created_at`

func scanNotification(row interface{ Scan(...any) error }) (Notification, error) {
	var n Notification
	err := row.Scan(
		&n.ID,
		&n.AccountID,
		&n.Type,
		&n.Title,
		&n.Body,
		&n.IsRead,
		&n.Link,
		&n.CreatedAt,
	)
	return n, err
}

func (q *Queries) listNotifications(ctx context.Context, query string, args ...any) ([]Notification, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createNotification = `
INSERT INTO notifications (id, account_id, type, title, body, is_read, link, created_at)
VALUES (?, ?, ?, ?, ?, 0, ?, ?)
`

// CreateNotificationParams はCreateNotificationの引数。
type CreateNotificationParams struct {
	ID        string
	AccountID string
	Type      string
	Title     string
	Body      string
	Link      string
	CreatedAt time.Time
}

// CreateNotification は通知を未読状態で作成する。
func (q *Queries) CreateNotification(ctx context.Context, arg CreateNotificationParams) error {
	_, err := q.db.ExecContext(ctx, createNotification,
		arg.ID,
		arg.AccountID,
		arg.Type,
		arg.Title,
		arg.Body,
		arg.Link,
		arg.CreatedAt,
	)
	return err
}

const getNotificationByID = `SELECT ` + notificationColumns + ` FROM notifications WHERE id = ?`

// GetNotificationByID はIDで通知を取得する。
func (q *Queries) GetNotificationByID(ctx context.Context, id string) (Notification, error) {
	return scanNotification(q.db.QueryRowContext(ctx, getNotificationByID, id))
}

const listNotificationsByAccountID = `
SELECT ` + notificationColumns + ` FROM notifications
WHERE account_id = ?
ORDER BY created_at DESC, rowid DESC
LIMIT ?
`

// ListNotificationsByAccountIDParams はListNotificationsByAccountIDの引数。
type ListNotificationsByAccountIDParams struct {
	AccountID string
	Limit     int64
}

// ListNotificationsByAccountID は指定アカウントの通知を新しい順に最大Limit件取得する。
func (q *Queries) ListNotificationsByAccountID(ctx context.Context, arg ListNotificationsByAccountIDParams) ([]Notification, error) {
	return q.listNotifications(ctx, listNotificationsByAccountID, arg.AccountID, arg.Limit)
}

const listUnreadNotifications = `
SELECT ` + notificationColumns + ` FROM notifications
WHERE account_id = ? AND is_read = 0
ORDER BY created_at DESC, rowid DESC
LIMIT ?
`

// ListUnreadNotifications は指定アカウントの未読通知を新しい順に最大Limit件取得する。
func (q *Queries) ListUnreadNotifications(ctx context.Context, arg ListNotificationsByAccountIDParams) ([]Notification, error) {
	return q.listNotifications(ctx, listUnreadNotifications, arg.AccountID, arg.Limit)
}

const countUnreadNotifications = `SELECT COUNT(*) FROM notifications WHERE account_id = ? AND is_read = 0`

// CountUnreadNotifications は指定アカウントの未読通知数を返す。
func (q *Queries) CountUnreadNotifications(ctx context.Context, accountID string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countUnreadNotifications, accountID).Scan(&n)
	return n, err
}

const markNotificationRead = `UPDATE notifications SET is_read = 1 WHERE id = ? AND is_read = 0`

// MarkNotificationRead は通知を既読にし、更新件数を返す。
func (q *Queries) MarkNotificationRead(ctx context.Context, id string) (int64, error) {
	return rowsAffected(q.db.ExecContext(ctx, markNotificationRead, id))
}

const markAllNotificationsRead = `UPDATE notifications SET is_read = 1 WHERE account_id = ? AND is_read = 0`

// MarkAllNotificationsRead は指定アカウントの未読通知をすべて既読にし、更新件数を返す。
func (q *Queries) MarkAllNotificationsRead(ctx context.Context, accountID string) (int64, error) {
	return rowsAffected(q.db.ExecContext(ctx, markAllNotificationsRead, accountID))
}

const deleteNotification = `DELETE FROM notifications WHERE id = ? AND account_id = ?`

// DeleteNotificationParams はDeleteNotificationの引数。
type DeleteNotificationParams struct {
	ID        string
	AccountID string
}

// DeleteNotification は通知を削除し、削除件数を返す。
func (q *Queries) DeleteNotification(ctx context.Context, arg DeleteNotificationParams) (int64, error) {
	return rowsAffected(q.db.ExecContext(ctx, deleteNotification, arg.ID, arg.AccountID))
}

const clearNotifications = `DELETE FROM notifications WHERE account_id = ?`

// ClearNotifications は指定アカウントの通知をすべて削除し、削除件数を返す。
func (q *Queries) ClearNotifications(ctx context.Context, accountID string) (int64, error) {
	return rowsAffected(q.db.ExecContext(ctx, clearNotifications, accountID))
}
