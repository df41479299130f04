package sinks

import (
	"context"

	"github.com/slack-go/slack"

	"github.com/Nyukimin/taskrelay/internal/infrastructure/progress"
	"github.com/Nyukimin/taskrelay/pkg/logger"
)

// Factory はタスクごとに進捗シンクを開く
// 設定されたチャットごとにステータスメッセージを1つ投稿し、以後それを更新する
type Factory struct {
	Slack          *slack.Client
	SlackChannel   string
	Discord        DiscordClient
	DiscordChannel string
	Telegram       TelegramClient
	TelegramChatID int64
}

// Open はタスク用のSinkを返す（チャットへの投稿失敗は記録して除外）
func (f Factory) Open(ctx context.Context, taskID, text string) progress.Sink {
	sinks := progress.Multi{progress.LogSink{TaskID: taskID}}

	if f.Slack != nil && f.SlackChannel != "" {
		if s, err := StartSlack(ctx, f.Slack, f.SlackChannel, text); err != nil {
			warnStart("slack", taskID, err)
		} else {
			sinks = append(sinks, s)
		}
	}
	if f.Discord != nil && f.DiscordChannel != "" {
		if s, err := StartDiscord(ctx, f.Discord, f.DiscordChannel, text); err != nil {
			warnStart("discord", taskID, err)
		} else {
			sinks = append(sinks, s)
		}
	}
	if f.Telegram != nil && f.TelegramChatID != 0 {
		if s, err := StartTelegram(ctx, f.Telegram, f.TelegramChatID, text); err != nil {
			warnStart("telegram", taskID, err)
		} else {
			sinks = append(sinks, s)
		}
	}
	return sinks
}

func warnStart(platform, taskID string, err error) {
	logger.WarnCF("progress", "Failed to open status message", map[string]interface{}{
		"platform": platform,
		"task_id":  taskID,
		"error":    err.Error(),
	})
}
