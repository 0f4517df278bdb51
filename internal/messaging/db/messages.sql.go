package db

import (
	"context"
	"time"
)

const messageColumns = `id, sender_id, recipient_id, subject, body, is_admin_broadcast, display_name, is_read, via_email, created_at`

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var m Message
	err := row.Scan(
		&m.ID,
		&m.SenderID,
		&m.RecipientID,
		&m.Subject,
		&m.Body,
		&m.IsAdminBroadcast,
		&m.DisplayName,
		&m.IsRead,
		&m.ViaEmail,
		&m.CreatedAt,
	)
	return m, err
}

func (q *Queries) listMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func rowsAffected(res interface{ RowsAffected() (int64, error) }, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const createMessage = `
INSERT INTO messages (id, sender_id, recipient_id, subject, body, is_admin_broadcast, display_name, is_read, via_email, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
`

// CreateMessageParams はCreateMessageの引数。
type CreateMessageParams struct {
	ID               string
	SenderID         string
	RecipientID      string
	Subject          string
	Body             string
	IsAdminBroadcast int64
	DisplayName      string
	ViaEmail         int64
	CreatedAt        time.Time
}

// CreateMessage はメッセージを未読状態で作成する。
func (q *Queries) CreateMessage(ctx context.Context, arg CreateMessageParams) error {
	_, err := q.db.ExecContext(ctx, createMessage,
		arg.ID,
		arg.SenderID,
		arg.RecipientID,
		arg.Subject,
		arg.Body,
		arg.IsAdminBroadcast,
		arg.DisplayName,
		arg.ViaEmail,
		arg.CreatedAt,
	)
	return err
}

const getMessageByID = `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`

// GetMessageByID はIDでメッセージを取得する。
func (q *Queries) GetMessageByID(ctx context.Context, id string) (Message, error) {
	return scanMessage(q.db.QueryRowContext(ctx, getMessageByID, id))
}

const listThread = `
SELECT ` + messageColumns + ` FROM messages
WHERE (is_admin_broadcast = 0 OR sender_id = ?1)
  AND ((sender_id = ?1 AND recipient_id = ?2) OR (sender_id = ?2 AND recipient_id = ?1))
ORDER BY created_at ASC, rowid ASC
`

// PairParams は2アカウント間のスレッドを指定する引数。
type PairParams struct {
	ViewerID string
	OtherID  string
}

// ListThread は2アカウント間のメッセージを作成順に取得する。
// 一斉送信は閲覧者自身が送信したものだけを含む。受信した一斉送信は
// ListBroadcastThreadで取得する。
func (q *Queries) ListThread(ctx context.Context, arg PairParams) ([]Message, error) {
	return q.listMessages(ctx, listThread, arg.ViewerID, arg.OtherID)
}

const listBroadcastThread = `
SELECT ` + messageColumns + ` FROM messages
WHERE recipient_id = ? AND is_admin_broadcast = 1
ORDER BY created_at ASC, rowid ASC
`

// ListBroadcastThread は指定アカウント宛ての一斉送信メッセージを作成順に取得する。
func (q *Queries) ListBroadcastThread(ctx context.Context, recipientID string) ([]Message, error) {
	return q.listMessages(ctx, listBroadcastThread, recipientID)
}

const listInbox = `
SELECT ` + messageColumns + ` FROM messages
WHERE recipient_id = ?
ORDER BY created_at DESC, rowid DESC
`

// ListInbox は指定アカウント宛ての全メッセージを新しい順に取得する。
func (q *Queries) ListInbox(ctx context.Context, recipientID string) ([]Message, error) {
	return q.listMessages(ctx, listInbox, recipientID)
}

const listMessagesForAccount = `
SELECT ` + messageColumns + ` FROM messages
WHERE sender_id = ?1 OR recipient_id = ?1
ORDER BY created_at DESC, rowid DESC
`

// ListMessagesForAccount は指定アカウントが送受信した全メッセージを新しい順に取得する。
func (q *Queries) ListMessagesForAccount(ctx context.Context, accountID string) ([]Message, error) {
	return q.listMessages(ctx, listMessagesForAccount, accountID)
}

const markMessageRead = `UPDATE messages SET is_read = 1 WHERE id = ? AND recipient_id = ? AND is_read = 0`

// MarkMessageReadParams はMarkMessageReadの引数。
type MarkMessageReadParams struct {
	ID          string
	RecipientID string
}

// MarkMessageRead はメッセージを既読にし、更新件数を返す。既読済みなら0件。
func (q *Queries) MarkMessageRead(ctx context.Context, arg MarkMessageReadParams) (int64, error) {
	return rowsAffected(q.db.ExecContext(ctx, markMessageRead, arg.ID, arg.RecipientID))
}

const markThreadRead = `
UPDATE messages SET is_read = 1
WHERE is_read = 0
  AND is_admin_broadcast = 0
  AND ((sender_id = ?2 AND recipient_id = ?1) OR (sender_id = ?1 AND recipient_id = ?2))
`

// MarkThreadRead は2アカウント間の未読メッセージを一括で既読にし、更新件数を返す。
func (q *Queries) MarkThreadRead(ctx context.Context, arg PairParams) (int64, error) {
	return rowsAffected(q.db.ExecContext(ctx, markThreadRead, arg.ViewerID, arg.OtherID))
}

const markBroadcastThreadRead = `
UPDATE messages SET is_read = 1
WHERE is_read = 0 AND is_admin_broadcast = 1 AND recipient_id = ?
`

// MarkBroadcastThreadRead は指定アカウント宛ての未読一斉送信を一括で既読にする。
func (q *Queries) MarkBroadcastThreadRead(ctx context.Context, recipientID string) (int64, error) {
	return rowsAffected(q.db.ExecContext(ctx, markBroadcastThreadRead, recipientID))
}

const markAllMessagesRead = `UPDATE messages SET is_read = 1 WHERE is_read = 0 AND recipient_id = ?`

// MarkAllMessagesRead は指定アカウント宛ての未読メッセージをすべて既読にする。
func (q *Queries) MarkAllMessagesRead(ctx context.Context, recipientID string) (int64, error) {
	return rowsAffected(q.db.ExecContext(ctx, markAllMessagesRead, recipientID))
}

const countUnreadMessages = `SELECT COUNT(*) FROM messages WHERE recipient_id = ? AND is_read = 0`

// CountUnreadMessages は指定アカウント宛ての未読メッセージ数を返す。
func (q *Queries) CountUnreadMessages(ctx context.Context, recipientID string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countUnreadMessages, recipientID).Scan(&n)
	return n, err
}

const deleteThreadReplies = `
DELETE FROM message_replies WHERE message_id IN (
    SELECT id FROM messages
    WHERE (sender_id = ?1 AND recipient_id = ?2) OR (sender_id = ?2 AND recipient_id = ?1)
)
`

const deleteThread = `
DELETE FROM messages
WHERE (sender_id = ?1 AND recipient_id = ?2) OR (sender_id = ?2 AND recipient_id = ?1)
`

// DeleteThread は2アカウント間のメッセージを一斉送信も含めて返信ごと削除し、
// 削除したメッセージ数を返す。
// 返信とメッセージを同じトランザクションで消すため、RunInTx内で呼び出すこと。
func (q *Queries) DeleteThread(ctx context.Context, arg PairParams) (int64, error) {
	if _, err := q.db.ExecContext(ctx, deleteThreadReplies, arg.ViewerID, arg.OtherID); err != nil {
		return 0, err
	}
	return rowsAffected(q.db.ExecContext(ctx, deleteThread, arg.ViewerID, arg.OtherID))
}

const deleteBroadcastThreadReplies = `
DELETE FROM message_replies WHERE message_id IN (
    SELECT id FROM messages WHERE is_admin_broadcast = 1 AND recipient_id = ?
)
`

const deleteBroadcastThread = `DELETE FROM messages WHERE is_admin_broadcast = 1 AND recipient_id = ?`

// DeleteBroadcastThread は指定アカウント宛ての一斉送信と返信を削除する。
func (q *Queries) DeleteBroadcastThread(ctx context.Context, recipientID string) (int64, error) {
	if _, err := q.db.ExecContext(ctx, deleteBroadcastThreadReplies, recipientID); err != nil {
		return 0, err
	}
	return rowsAffected(q.db.ExecContext(ctx, deleteBroadcastThread, recipientID))
}

const createReply = `
INSERT INTO message_replies (id, message_id, sender_id, body, created_at)
VALUES (?, ?, ?, ?, ?)
`

// CreateReplyParams はCreateReplyの引数。
type CreateReplyParams struct {
	ID        string
	MessageID string
	SenderID  string
	Body      string
	CreatedAt time.Time
}

// CreateReply はメッセージに返信を追記する。
func (q *Queries) CreateReply(ctx context.Context, arg CreateReplyParams) error {
	_, err := q.db.ExecContext(ctx, createReply, arg.ID, arg.MessageID, arg.SenderID, arg.Body, arg.CreatedAt)
	return err
}

const listReplies = `
SELECT id, message_id, sender_id, body, created_at FROM message_replies
WHERE message_id = ?
ORDER BY created_at ASC, rowid ASC
`

// ListReplies はメッセージへの返信を追記順に取得する。
func (q *Queries) ListReplies(ctx context.Context, messageID string) ([]MessageReply, error) {
	rows, err := q.db.QueryContext(ctx, listReplies, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []MessageReply
	for rows.Next() {
		var r MessageReply
		if err := rows.Scan(&r.ID, &r.MessageID, &r.SenderID, &r.Body, &r.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
