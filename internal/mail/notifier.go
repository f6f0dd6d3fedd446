package mail

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	texttemplate "text/template"
	"time"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// メールの種類（メトリクスのkindラベル）
const (
	KindPasswordReset = "password_reset"
	KindVerification  = "verification"
)

// Recorder はメール送信結果のメトリクスを記録する。
type Recorder interface {
	RecordMailSent(kind, outcome string, duration time.Duration)
}

// NotifierConfig はNotifierの設定。
type NotifierConfig struct {
	AppName         string
	ResetTTL        time.Duration
	VerificationTTL time.Duration
}

type mailTemplate struct {
	subject string
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

type templateData struct {
	AppName   string
	Name      string
	Link      string
	ExpiresIn string
}

// Notifier は認証フローのメールを組み立てて送信する。
// 送信失敗はログとメトリクスに記録して握りつぶし、呼び出し元には返さない。
type Notifier struct {
	sender    Sender
	recorder  Recorder
	cfg       NotifierConfig
	templates map[string]mailTemplate
}

// NewNotifier はテンプレートを読み込んでNotifierを生成する。recorderはnilでもよい。
func NewNotifier(sender Sender, recorder Recorder, cfg NotifierConfig) (*Notifier, error) {
	if cfg.AppName == "" {
		cfg.AppName = "HR.360"
	}
	n := &Notifier{
		sender:    sender,
		recorder:  recorder,
		cfg:       cfg,
		templates: make(map[string]mailTemplate),
	}
	defs := []struct {
		kind, file, subject string
	}{
		{KindPasswordReset, "reset_password", "パスワード再設定のご案内"},
		{KindVerification, "verify_email", "メールアドレスの確認"},
	}
	for _, d := range defs {
		text, err := texttemplate.ParseFS(templateFS, "templates/"+d.file+".txt.tmpl")
		if err != nil {
			return nil, fmt.Errorf("parse text template %s: %w", d.file, err)
		}
		html, err := htmltemplate.ParseFS(templateFS, "templates/"+d.file+".html.tmpl")
		if err != nil {
			return nil, fmt.Errorf("parse html template %s: %w", d.file, err)
		}
		n.templates[d.kind] = mailTemplate{subject: d.subject, text: text, html: html}
	}
	return n, nil
}

// SendPasswordReset はパスワード再設定リンクを送信する。
func (n *Notifier) SendPasswordReset(ctx context.Context, to, name, link string) {
	n.send(ctx, KindPasswordReset, to, name, link, n.cfg.ResetTTL)
}

// SendVerification はメールアドレス確認リンクを送信する。
func (n *Notifier) SendVerification(ctx context.Context, to, name, link string) {
	n.send(ctx, KindVerification, to, name, link, n.cfg.VerificationTTL)
}

func (n *Notifier) send(ctx context.Context, kind, to, name, link string, ttl time.Duration) {
	start := time.Now()
	msg, err := n.render(kind, to, name, link, ttl)
	if err == nil {
		err = n.sender.Send(ctx, msg)
	}

	outcome := "success"
	if err != nil {
		outcome = "failure"
		slog.Error("failed to send mail",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	} else {
		slog.Info("mail sent", slog.String("kind", kind))
	}
	if n.recorder != nil {
		n.recorder.RecordMailSent(kind, outcome, time.Since(start))
	}
}

func (n *Notifier) render(kind, to, name, link string, ttl time.Duration) (Message, error) {
	tmpl, ok := n.templates[kind]
	if !ok {
		return Message{}, fmt.Errorf("unknown mail kind: %s", kind)
	}
	data := templateData{
		AppName:   n.cfg.AppName,
		Name:      name,
		Link:      link,
		ExpiresIn: formatDuration(ttl),
	}

	var text, html bytes.Buffer
	if err := tmpl.text.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("render text body: %w", err)
	}
	if err := tmpl.html.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("render html body: %w", err)
	}
	return Message{
		To:      to,
		ToName:  name,
		Subject: fmt.Sprintf("[%s] %s", n.cfg.AppName, tmpl.subject),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

// formatDuration は有効期限を「1時間」「30分」のような表記にする。
func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d%(24*time.Hour) == 0 && d >= 48*time.Hour:
		return fmt.Sprintf("%d日", d/(24*time.Hour))
	case d%time.Hour == 0:
		return fmt.Sprintf("%d時間", d/time.Hour)
	default:
		return fmt.Sprintf("%d分", d/time.Minute)
	}
}
