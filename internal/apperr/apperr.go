// Package apperr はサービス層が返すドメインエラーの分類を提供する。
//
// HTTPハンドラはKindOfでエラーの種類を判定してステータスコードに変換する。
// 分類されていないエラーは永続化層などの内部エラーとして扱う。
package apperr

import (
	"errors"
	"fmt"
)

// Kind はドメインエラーの種類。
type Kind int

const (
	// KindInternal は分類されていない内部エラー。
	KindInternal Kind = iota
	// KindValidation は必須項目の欠落や不正な入力。
	KindValidation
	// KindNotFound はメッセージやアカウントが存在しない。
	KindNotFound
	// KindForbidden は操作する権限がない。
	KindForbidden
	// KindBlocked はブロックによって送信が拒否された。
	KindBlocked
)

// String はKindの名前を返す。
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindBlocked:
		return "blocked"
	default:
		return "internal"
	}
}

// Error はユーザーに提示可能なメッセージを持つドメインエラー。
type Error struct {
	// Kind はエラーの種類。
	Kind Kind
	// Message はユーザー向けのメッセージ。
	Message string
	// Reason はKindBlockedの場合の理由（i_blocked / they_blocked_me）。
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Validation は入力不正のエラーを生成する。
func Validation(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

// NotFound は対象が存在しないエラーを生成する。
func NotFound(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// Forbidden は権限がないエラーを生成する。
func Forbidden(msg string) error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// Blocked はブロックによる拒否のエラーを生成する。
func Blocked(msg, reason string) error {
	return &Error{Kind: KindBlocked, Message: msg, Reason: reason}
}

// KindOf はerrの種類を返す。ドメインエラーでなければKindInternal。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As はerrからドメインエラーを取り出す。
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
