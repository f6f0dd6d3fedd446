// Package mail はトランザクションメール（パスワードリセット、メールアドレス確認）の送信を提供する。
package mail

import (
	"context"
	"errors"
	"log/slog"
)

// Message は送信するメール1通を表す。
type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string // text/plain本文
	HTML    string // text/html本文
}

// Sender はメール送信プロバイダーのインターフェース。
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ErrMissingRecipient は宛先が空の場合のエラー。
var ErrMissingRecipient = errors.New("mail: recipient is required")

// LogSender はメールを送信せずログに出力する開発用のSender。
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender はLogSenderを生成する。loggerがnilの場合はslog.Default()を使う。
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send はメールの宛先と件名をInfo、本文をDebugで出力する。
// 本文にはトークン付きリンクが含まれるため、本番のinfoレベルでは出力しない。
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrMissingRecipient
	}
	s.logger.InfoContext(ctx, "mail (log provider)",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	s.logger.DebugContext(ctx, "mail body", slog.String("text", msg.Text))
	return nil
}
