package sinks

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"

	"github.com/Nyukimin/taskrelay/internal/domain/execution"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/progress"
)

// TelegramClient はステータスメッセージに必要なtelego.Botの部分
type TelegramClient interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	EditMessageText(ctx context.Context, params *telego.EditMessageTextParams) (*telego.Message, error)
}

// TelegramSink はTelegramのステータスメッセージを上書き更新するSink
type TelegramSink struct {
	bot       TelegramClient
	chatID    int64
	messageID int
	last      string
}

// NewTelegramSink は新しいTelegramSinkを作成
func NewTelegramSink(bot TelegramClient, chatID int64, messageID int) *TelegramSink {
	return &TelegramSink{bot: bot, chatID: chatID, messageID: messageID}
}

// StartTelegram はステータスメッセージを投稿し、それを更新するSinkを返す
func StartTelegram(ctx context.Context, bot TelegramClient, chatID int64, text string) (*TelegramSink, error) {
	msg, err := bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   text,
	})
	if err != nil {
		return nil, fmt.Errorf("send telegram status message: %w", err)
	}
	sink := NewTelegramSink(bot, chatID, msg.MessageID)
	sink.last = text
	return sink, nil
}

// NewTelegramBot はBotトークンからクライアントを作成
func NewTelegramBot(token string, opts ...telego.BotOption) (*telego.Bot, error) {
	bot, err := telego.NewBot(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return bot, nil
}

// Send はステータスメッセージを最新イベントで更新
// 同じ本文での編集はTelegram側でエラーになるため送らない
func (s *TelegramSink) Send(ctx context.Context, ev execution.Event) error {
	text := progress.Format(ev)
	if text == "" || text == s.last {
		return nil
	}
	_, err := s.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    telego.ChatID{ID: s.chatID},
		MessageID: s.messageID,
		Text:      text,
	})
	if err != nil {
		return fmt.Errorf("edit telegram message: %w", err)
	}
	s.last = text
	return nil
}
