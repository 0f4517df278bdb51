package email

import (
	"context"
	"log"
	"sync"
)

// MockProvider は送信せずにログへ出力する開発用のProvider。
// 送信したメールは保持され、Sentで参照できる。
type MockProvider struct {
	mu   sync.Mutex
	sent []Mail
	// Err が設定されている場合、Sendは常にこのエラーを返す。
	Err error
}

// NewMockProvider は新しいMockProviderを生成する。
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Send はメールを記録してログに出力する。
func (m *MockProvider) Send(_ context.Context, mail Mail) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, mail)
	log.Printf("[Email] MOCK to=%s subject=%q body_length=%d", mail.To, mail.Subject, len(mail.HTML))
	return nil
}

// Sent は記録したメールのコピーを返す。
func (m *MockProvider) Sent() []Mail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Mail(nil), m.sent...)
}
