// Package email はメッセージのメール通知を送信する。
//
// 送信はメッセージ処理の副作用であり、失敗しても呼び出し元の処理は失敗させない。
// 配信手段はProviderとして差し替えられる。
package email

import (
	"context"
	"fmt"
)

// Mail は1通のメール。
type Mail struct {
	// To は宛先メールアドレス。
	To string
	// ToName は宛先の表示名。
	ToName string
	// Subject は件名。
	Subject string
	// HTML はHTML形式の本文。
	HTML string
	// Text はテキスト形式の本文。
	Text string
}

// Provider はメールの配信手段。
type Provider interface {
	// Send はメールを1通送信する。
	Send(ctx context.Context, m Mail) error
}

// Config はProviderの生成に必要な設定。
type Config struct {
	// Provider は "brevo" または "mock"。
	Provider string
	// BrevoAPIKey はBrevo APIのキー。
	BrevoAPIKey string
	// From は送信元メールアドレス。
	From string
	// FromName は送信元の表示名。
	FromName string
}

// NewProvider は設定に応じたProviderを生成する。
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "brevo":
		return NewBrevoProvider(cfg.BrevoAPIKey, cfg.From, cfg.FromName), nil
	case "mock", "":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("未知のメールプロバイダです: %s", cfg.Provider)
	}
}
