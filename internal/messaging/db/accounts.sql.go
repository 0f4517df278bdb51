package db

import (
	"context"
	"time"
)

const accountColumns = `id, username, email, display_name, avatar_url, is_admin, is_verified, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (Account, error) {
	var a Account
	err := row.Scan(
		&a.ID,
		&a.Username,
		&a.Email,
		&a.DisplayName,
		&a.AvatarUrl,
		&a.IsAdmin,
		&a.IsVerified,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	return a, err
}

const upsertAccount = `
INSERT INTO accounts (id, username, email, display_name, avatar_url, is_admin, is_verified, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    username = excluded.username,
    email = excluded.email,
    display_name = excluded.display_name,
    avatar_url = excluded.avatar_url,
    is_admin = excluded.is_admin,
    is_verified = excluded.is_verified,
    updated_at = excluded.updated_at
`

// UpsertAccountParams はUpsertAccountの引数。
type UpsertAccountParams struct {
	ID          string
	Username    string
	Email       string
	DisplayName string
	AvatarUrl   string
	IsAdmin     int64
	IsVerified  int64
}

// UpsertAccount はアカウントを作成または更新する。
func (q *Queries) UpsertAccount(ctx context.Context, arg UpsertAccountParams) error {
	now := time.Now().UTC()
	_, err := q.db.ExecContext(ctx, upsertAccount,
		arg.ID,
		arg.Username,
		arg.Email,
		arg.DisplayName,
		arg.AvatarUrl,
		arg.IsAdmin,
		arg.IsVerified,
		now,
		now,
	)
	return err
}

const getAccountByID = `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`

// GetAccountByID はIDでアカウントを取得する。
func (q *Queries) GetAccountByID(ctx context.Context, id string) (Account, error) {
	return scanAccount(q.db.QueryRowContext(ctx, getAccountByID, id))
}

const findAccountByKey = `
SELECT ` + accountColumns + ` FROM accounts
WHERE id = ?1 OR lower(username) = lower(?1) OR lower(email) = lower(?1)
ORDER BY CASE WHEN id = ?1 THEN 0 ELSE 1 END
LIMIT 1
`

// FindAccountByKey はID・ユーザー名・メールアドレスのいずれかに一致するアカウントを取得する。
// IDでの一致を優先する。
func (q *Queries) FindAccountByKey(ctx context.Context, key string) (Account, error) {
	return scanAccount(q.db.QueryRowContext(ctx, findAccountByKey, key))
}

const listAccountsExcept = `SELECT ` + accountColumns + ` FROM accounts WHERE id != ? ORDER BY created_at ASC, id ASC`

// ListAccountsExcept は指定されたID以外の全アカウントを取得する。
func (q *Queries) ListAccountsExcept(ctx context.Context, id string) ([]Account, error) {
	rows, err := q.db.QueryContext(ctx, listAccountsExcept, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const blockAccount = `
INSERT INTO account_blocks (blocker_id, blocked_id, created_at)
VALUES (?, ?, ?)
ON CONFLICT(blocker_id, blocked_id) DO NOTHING
`

// BlockAccountParams はBlockAccountとUnblockAccountの引数。
type BlockAccountParams struct {
	BlockerID string
	BlockedID string
}

// BlockAccount はブロック関係を追加する。既に存在する場合は何もしない。
func (q *Queries) BlockAccount(ctx context.Context, arg BlockAccountParams) error {
	_, err := q.db.ExecContext(ctx, blockAccount, arg.BlockerID, arg.BlockedID, time.Now().UTC())
	return err
}

const unblockAccount = `DELETE FROM account_blocks WHERE blocker_id = ? AND blocked_id = ?`

// UnblockAccount はブロック関係を削除する。存在しない場合は何もしない。
func (q *Queries) UnblockAccount(ctx context.Context, arg BlockAccountParams) error {
	_, err := q.db.ExecContext(ctx, unblockAccount, arg.BlockerID, arg.BlockedID)
	return err
}

const listBlockedIDs = `SELECT blocked_id FROM account_blocks WHERE blocker_id = ? ORDER BY created_at ASC`

// ListBlockedIDs は指定アカウントがブロックしているアカウントIDの一覧を取得する。
func (q *Queries) ListBlockedIDs(ctx context.Context, blockerID string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listBlockedIDs, blockerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
