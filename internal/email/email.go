package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log"
	"strings"
	texttemplate "text/template"

	"github.com/nao1215/msghub/pkg/metrics"
)

// MessageEmail はメッセージ1通分のメール通知の内容。
type MessageEmail struct {
	// ToEmail は宛先メールアドレス。
	ToEmail string
	// ToName は宛先の表示名。
	ToName string
	// SenderName は差出人として表示する名前。一斉送信では "Admin"。
	SenderName string
	// Subject はメッセージの件名。空でもよい。
	Subject string
	// Body はメッセージ本文。
	Body string
	// ThreadID はメール内のリンク先スレッドの相手ID。
	ThreadID string
}

// Sender はメッセージをメールとして整形し、Providerで送信する。
type Sender struct {
	provider Provider
	baseURL  string
}

// NewSender は新しいSenderを生成する。baseURLはメール内リンクのベースURL。
func NewSender(provider Provider, baseURL string) *Sender {
	return &Sender{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

var htmlTmpl = template.Must(template.New("message").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"></head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 640px; margin: 0 auto; padding: 20px;">
<p>{{if .ToName}}{{.ToName}}さん{{else}}こんにちは{{end}}、{{.SenderName}}から新しいメッセージが届いています。</p>
{{if .Subject}}<h2 style="font-size: 1.2em;">{{.Subject}}</h2>{{end}}
<div style="white-space: pre-wrap; border-left: 3px solid #ddd; padding-left: 12px;">{{.Body}}</div>
<p><a href="{{.Link}}">メッセージを開く</a></p>
</body>
</html>
`))

var textTmpl = texttemplate.Must(texttemplate.New("message").Parse(`{{.SenderName}}から新しいメッセージが届いています。
{{if .Subject}}
{{.Subject}}
{{end}}
{{.Body}}

メッセージを開く: {{.Link}}
`))

type templateData struct {
	MessageEmail
	Link string
}

// subjectLine はメールの件名を返す。メッセージに件名がなければ差出人名から組み立てる。
func (m MessageEmail) subjectLine() string {
	if s := strings.TrimSpace(m.Subject); s != "" {
		return s
	}
	return fmt.Sprintf("%sから新しいメッセージ", m.SenderName)
}

// Render はメールの本文を生成する。
func (s *Sender) Render(m MessageEmail) (Mail, error) {
	data := templateData{
		MessageEmail: m,
		Link:         s.baseURL + "/messages?thread=" + m.ThreadID,
	}

	var html, text bytes.Buffer
	if err := htmlTmpl.Execute(&html, data); err != nil {
		return Mail{}, fmt.Errorf("HTML本文の生成に失敗: %w", err)
	}
	if err := textTmpl.Execute(&text, data); err != nil {
		return Mail{}, fmt.Errorf("テキスト本文の生成に失敗: %w", err)
	}

	return Mail{
		To:      m.ToEmail,
		ToName:  m.ToName,
		Subject: m.subjectLine(),
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}

// SendMessage はメッセージのメール通知を送信する。
func (s *Sender) SendMessage(ctx context.Context, m MessageEmail) error {
	if m.ToEmail == "" {
		return fmt.Errorf("宛先メールアドレスがありません")
	}
	mail, err := s.Render(m)
	if err != nil {
		metrics.EmailsSent.WithLabelValues("failed").Inc()
		return err
	}
	if err := s.provider.Send(ctx, mail); err != nil {
		metrics.EmailsSent.WithLabelValues("failed").Inc()
		return err
	}
	metrics.EmailsSent.WithLabelValues("sent").Inc()
	log.Printf("[Email] メッセージ通知を送信しました (to=%s)", m.ToEmail)
	return nil
}
