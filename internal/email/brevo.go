package email

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/nao1215/msghub/pkg/httpclient"
)

// brevoBaseURL はBrevo APIのベースURL。
const brevoBaseURL = "https://api.brevo.com/v3"

// BrevoProvider はBrevo（旧Sendinblue）のAPIでメールを送信する。
type BrevoProvider struct {
	client   *httpclient.Client
	fromAddr string
	fromName string
	attempts uint
	delay    time.Duration
}

// NewBrevoProvider は新しいBrevoProviderを生成する。
func NewBrevoProvider(apiKey, fromAddr, fromName string) *BrevoProvider {
	return &BrevoProvider{
		client: httpclient.New(brevoBaseURL,
			httpclient.WithHeader("api-key", apiKey),
			httpclient.WithTimeout(15*time.Second),
		),
		fromAddr: fromAddr,
		fromName: fromName,
		attempts: 3,
		delay:    time.Second,
	}
}

// brevoSendRequest はBrevoのメール送信APIのリクエスト。
type brevoSendRequest struct {
	Sender      brevoContact   `json:"sender"`
	To          []brevoContact `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
	TextContent string         `json:"textContent,omitempty"`
}

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Send はBrevo APIでメールを送信する。
// 429と5xx、通信エラーは再試行し、それ以外の4xxは即座に失敗する。
func (b *BrevoProvider) Send(ctx context.Context, m Mail) error {
	req := brevoSendRequest{
		Sender:      brevoContact{Email: b.fromAddr, Name: b.fromName},
		To:          []brevoContact{{Email: m.To, Name: m.ToName}},
		Subject:     m.Subject,
		HTMLContent: m.HTML,
		TextContent: m.Text,
	}

	err := retry.Do(
		func() error {
			return b.client.PostJSON(ctx, "/smtp/email", req, nil)
		},
		retry.Attempts(b.attempts),
		retry.Delay(b.delay),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(b.delay),
		retry.Context(ctx),
		retry.RetryIf(httpclient.IsTemporary),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("[Email] Brevoへの送信を再試行します (attempt=%d, to=%s): %v", n+1, m.To, err)
		}),
	)
	if err != nil {
		return fmt.Errorf("Brevoでのメール送信に失敗: %w", err)
	}
	return nil
}
