package progress

import (
	"context"
	"strings"

	"github.com/Nyukimin/taskrelay/internal/domain/execution"
	"github.com/Nyukimin/taskrelay/pkg/logger"
)

const maxTextPreview = 300

// Format はチャット向けの1行表示に整形
func Format(ev execution.Event) string {
	switch ev.Type {
	case execution.EventRouting:
		return "Routing: " + ev.Payload
	case execution.EventStarting:
		if ev.Payload == "" {
			return "Working on it..."
		}
		return "Working on it... (" + ev.Payload + ")"
	case execution.EventToolUse:
		return "Using tool: " + ev.Tool
	case execution.EventText:
		return preview(ev.Payload)
	case execution.EventError:
		return "Error: " + ev.Payload
	default:
		return ev.Payload
	}
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= maxTextPreview {
		return s
	}
	return string(r[:maxTextPreview]) + "..."
}

// LogSink はイベントをロガーに書き出すSink
type LogSink struct {
	TaskID string
}

// Send はイベントをINFOで記録
func (s LogSink) Send(ctx context.Context, ev execution.Event) error {
	logger.InfoCF("progress", Format(ev), map[string]interface{}{
		"task_id": s.TaskID,
		"event":   string(ev.Type),
	})
	return nil
}

// Multi は複数のSinkへ順に送る（エラーは記録して続行）
type Multi []Sink

// Send は全てのSinkへ送る
func (m Multi) Send(ctx context.Context, ev execution.Event) error {
	for _, s := range m {
		if err := s.Send(ctx, ev); err != nil {
			logger.WarnCF("progress", "Progress sink failed", map[string]interface{}{
				"event": string(ev.Type),
				"error": err.Error(),
			})
		}
	}
	return nil
}
