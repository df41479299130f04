package sinks

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/Nyukimin/taskrelay/internal/domain/execution"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/progress"
)

// DiscordClient はステータスメッセージに必要なdiscordgo.Sessionの部分
type DiscordClient interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordSink はDiscordのステータスメッセージを上書き更新するSink
type DiscordSink struct {
	session   DiscordClient
	channelID string
	messageID string
}

// NewDiscordSink は新しいDiscordSinkを作成
func NewDiscordSink(session DiscordClient, channelID, messageID string) *DiscordSink {
	return &DiscordSink{session: session, channelID: channelID, messageID: messageID}
}

// StartDiscord はステータスメッセージを投稿し、それを更新するSinkを返す
func StartDiscord(ctx context.Context, session DiscordClient, channelID, text string) (*DiscordSink, error) {
	msg, err := session.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("send discord status message: %w", err)
	}
	return NewDiscordSink(session, channelID, msg.ID), nil
}

// NewDiscordSession はBotトークンからセッションを作成
func NewDiscordSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return s, nil
}

// Send はステータスメッセージを最新イベントで更新
func (s *DiscordSink) Send(ctx context.Context, ev execution.Event) error {
	if _, err := s.session.ChannelMessageEdit(s.channelID, s.messageID, progress.Format(ev), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("edit discord message: %w", err)
	}
	return nil
}
