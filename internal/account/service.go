// Package account はアカウントのミラーとブロック関係を管理する。
//
// アカウント自体の登録・認証はプラットフォーム本体の責務であり、
// このパッケージはメッセージングに必要な属性（表示名、管理者フラグ等）と
// ブロック集合のみを保持する。
package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/nao1215/msghub/internal/apperr"
	messagingdb "github.com/nao1215/msghub/internal/messaging/db"
	"github.com/nao1215/msghub/internal/policy"
)

// Account はメッセージングで参照するアカウント情報。
type Account struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	IsAdmin     bool   `json:"is_admin"`
	IsVerified  bool   `json:"is_verified"`
}

// Service はアカウントとブロック関係の操作を提供する。
type Service struct {
	queries *messagingdb.Queries
}

// NewService は新しいServiceを生成する。
func NewService(queries *messagingdb.Queries) *Service {
	return &Service{queries: queries}
}

func fromRow(a messagingdb.Account) Account {
	return Account{
		ID:          a.ID,
		Username:    a.Username,
		Email:       a.Email,
		DisplayName: a.DisplayName,
		AvatarURL:   a.AvatarUrl,
		IsAdmin:     a.IsAdmin != 0,
		IsVerified:  a.IsVerified != 0,
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Upsert はアカウントのミラーを作成または更新する。
func (s *Service) Upsert(ctx context.Context, a Account) error {
	if strings.TrimSpace(a.ID) == "" {
		return apperr.Validation("アカウントIDが必要です")
	}
	if err := s.queries.UpsertAccount(ctx, messagingdb.UpsertAccountParams{
		ID:          a.ID,
		Username:    a.Username,
		Email:       a.Email,
		DisplayName: a.DisplayName,
		AvatarUrl:   a.AvatarURL,
		IsAdmin:     boolToInt(a.IsAdmin),
		IsVerified:  boolToInt(a.IsVerified),
	}); err != nil {
		return fmt.Errorf("アカウントの保存に失敗: %w", err)
	}
	return nil
}

// Get はIDでアカウントを取得する。存在しなければNotFound。
func (s *Service) Get(ctx context.Context, id string) (Account, error) {
	row, err := s.queries.GetAccountByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, apperr.NotFound("アカウントが見つかりません")
	}
	if err != nil {
		return Account{}, fmt.Errorf("アカウントの取得に失敗: %w", err)
	}
	return fromRow(row), nil
}

// IsAdmin はアカウントが管理者か返す。存在しないアカウントはfalse。
func (s *Service) IsAdmin(ctx context.Context, id string) (bool, error) {
	a, err := s.Get(ctx, id)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return a.IsAdmin, nil
}

// Lookup は複数IDのアカウントをまとめて取得する。存在しないIDは結果に含まれない。
func (s *Service) Lookup(ctx context.Context, ids ...string) (map[string]Account, error) {
	out := make(map[string]Account, len(ids))
	for _, id := range ids {
		if _, ok := out[id]; ok || id == "" {
			continue
		}
		a, err := s.Get(ctx, id)
		if apperr.KindOf(err) == apperr.KindNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = a
	}
	return out, nil
}

// Resolve は一斉送信の宛先指定を具体的なアカウント一覧に解決する。
// allがtrueなら除外ID以外の全アカウント、falseならkeysをID・ユーザー名・
// メールアドレスのいずれかで照合する。重複と未知のキーは除外する。
func (s *Service) Resolve(ctx context.Context, all bool, keys []string, excludeID string) ([]Account, error) {
	if all {
		rows, err := s.queries.ListAccountsExcept(ctx, excludeID)
		if err != nil {
			return nil, fmt.Errorf("アカウント一覧の取得に失敗: %w", err)
		}
		out := make([]Account, 0, len(rows))
		for _, r := range rows {
			out = append(out, fromRow(r))
		}
		return out, nil
	}

	seen := make(map[string]struct{}, len(keys))
	out := make([]Account, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		row, err := s.queries.FindAccountByKey(ctx, key)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("宛先の解決に失敗: %w", err)
		}
		if _, dup := seen[row.ID]; dup {
			continue
		}
		seen[row.ID] = struct{}{}
		out = append(out, fromRow(row))
	}
	return out, nil
}

// BlockedSet はアカウントがブロックしているIDの集合を返す。
func (s *Service) BlockedSet(ctx context.Context, id string) (policy.BlockedSet, error) {
	ids, err := s.queries.ListBlockedIDs(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ブロック一覧の取得に失敗: %w", err)
	}
	return policy.NewBlockedSet(ids...), nil
}

// Block はviewerがtargetをブロックする。既にブロック済みでも成功する。
func (s *Service) Block(ctx context.Context, viewerID, targetID string) (policy.Status, error) {
	if err := s.checkTarget(ctx, viewerID, targetID); err != nil {
		return policy.Status{}, err
	}
	if err := s.queries.BlockAccount(ctx, messagingdb.BlockAccountParams{
		BlockerID: viewerID,
		BlockedID: targetID,
	}); err != nil {
		return policy.Status{}, fmt.Errorf("ブロックに失敗: %w", err)
	}
	return s.Status(ctx, viewerID, targetID)
}

// Unblock はviewerによるtargetのブロックを解除する。未ブロックでも成功する。
func (s *Service) Unblock(ctx context.Context, viewerID, targetID string) (policy.Status, error) {
	if err := s.checkTarget(ctx, viewerID, targetID); err != nil {
		return policy.Status{}, err
	}
	if err := s.queries.UnblockAccount(ctx, messagingdb.BlockAccountParams{
		BlockerID: viewerID,
		BlockedID: targetID,
	}); err != nil {
		return policy.Status{}, fmt.Errorf("ブロック解除に失敗: %w", err)
	}
	return s.Status(ctx, viewerID, targetID)
}

// Status はviewerから見たotherとのブロック状態を返す。
func (s *Service) Status(ctx context.Context, viewerID, otherID string) (policy.Status, error) {
	viewerBlocked, err := s.BlockedSet(ctx, viewerID)
	if err != nil {
		return policy.Status{}, err
	}
	otherBlocked, err := s.BlockedSet(ctx, otherID)
	if err != nil {
		return policy.Status{}, err
	}
	return policy.StatusBetween(viewerID, otherID, viewerBlocked, otherBlocked), nil
}

func (s *Service) checkTarget(ctx context.Context, viewerID, targetID string) error {
	if viewerID == targetID {
		return apperr.Validation("自分自身をブロックすることはできません")
	}
	_, err := s.Get(ctx, targetID)
	return err
}
