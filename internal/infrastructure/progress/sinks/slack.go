package sinks

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/Nyukimin/taskrelay/internal/domain/execution"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/progress"
)

// SlackSink はSlackのステータスメッセージを上書き更新するSink
type SlackSink struct {
	client    *slack.Client
	channelID string
	timestamp string
}

// NewSlackSink は既存メッセージを更新するSlackSinkを作成
func NewSlackSink(client *slack.Client, channelID, timestamp string) *SlackSink {
	return &SlackSink{client: client, channelID: channelID, timestamp: timestamp}
}

// StartSlack はステータスメッセージを投稿し、それを更新するSinkを返す
func StartSlack(ctx context.Context, client *slack.Client, channelID, text string) (*SlackSink, error) {
	channel, ts, err := client.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false))
	if err != nil {
		return nil, fmt.Errorf("post slack status message: %w", err)
	}
	return NewSlackSink(client, channel, ts), nil
}

// Send はステータスメッセージを最新イベントで更新
func (s *SlackSink) Send(ctx context.Context, ev execution.Event) error {
	_, _, _, err := s.client.UpdateMessageContext(ctx, s.channelID, s.timestamp, slack.MsgOptionText(progress.Format(ev), false))
	if err != nil {
		return fmt.Errorf("update slack message: %w", err)
	}
	return nil
}
