package result

import (
	"context"
	"time"

	"github.com/Nyukimin/taskrelay/internal/domain/execution"
	"github.com/Nyukimin/taskrelay/internal/domain/routing"
	"github.com/Nyukimin/taskrelay/internal/domain/task"
	"github.com/Nyukimin/taskrelay/pkg/logger"
)

// Record はタスク1件の実行結果
type Record struct {
	TaskID     string
	Text       string
	Profile    string
	ToolIDs    []string
	Complexity string
	Status     string
	Output     string
	Error      string
	DurationMs int64
	StepsUsed  int
	FinishedAt time.Time
}

// NewRecord はタスク・ルーティング決定・結果からRecordを作成
func NewRecord(t task.Task, d routing.Decision, r execution.Result) Record {
	return Record{
		TaskID:     t.ID().String(),
		Text:       t.Text(),
		Profile:    d.Profile,
		ToolIDs:    d.ToolIDs,
		Complexity: string(d.Complexity),
		Status:     r.Status(),
		Output:     r.Output,
		Error:      r.Error,
		DurationMs: r.DurationMs,
		StepsUsed:  r.StepsUsed,
		FinishedAt: time.Now().UTC(),
	}
}

// Sink は結果の書き込み先（1タスクにつき1回だけ書かれる）
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// Multi は複数のSinkへ書き込む（失敗は記録して続行）
type Multi []Sink

// Write は全てのSinkへ書き込む
func (m Multi) Write(ctx context.Context, rec Record) error {
	for _, s := range m {
		if err := s.Write(ctx, rec); err != nil {
			logger.WarnCF("result", "Result sink failed", map[string]interface{}{
				"task_id": rec.TaskID,
				"error":   err.Error(),
			})
		}
	}
	return nil
}

// Nop は何もしないSink
type Nop struct{}

// Write は何もしない
func (Nop) Write(ctx context.Context, rec Record) error { return nil }
