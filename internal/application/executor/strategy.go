// Package executor はルーティング決定に従ってタスクを実行する
package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Nyukimin/taskrelay/internal/domain/execution"
	"github.com/Nyukimin/taskrelay/internal/domain/llm"
	"github.com/Nyukimin/taskrelay/internal/domain/routing"
	"github.com/Nyukimin/taskrelay/internal/domain/task"
)

// Strategy は実行経路
// errorは呼び出し側でリトライ判定される一時的な失敗のみを返し、
// それ以外の失敗はSuccess=falseのResultとして返す
type Strategy interface {
	Execute(ctx context.Context, t task.Task, d routing.Decision, emit execution.EmitFunc) (execution.Result, error)
}

// Strategies は複雑度から実行経路への対応表
type Strategies map[routing.Complexity]Strategy

// For は複雑度に対応する実行経路を返す
func (s Strategies) For(c routing.Complexity) (Strategy, error) {
	st, ok := s[c]
	if !ok || st == nil {
		return nil, fmt.Errorf("no executor for complexity %q", c)
	}
	return st, nil
}

// historyTurns は会話履歴と本文をモデル向けのターン列に変換
func historyTurns(t task.Task) []llm.Turn {
	history := t.History()
	turns := make([]llm.Turn, 0, len(history)+1)
	for _, h := range history {
		if strings.TrimSpace(h.Content) == "" {
			continue
		}
		turns = append(turns, llm.Turn{Role: string(h.Role), Text: h.Content})
	}
	return append(turns, llm.Turn{Role: "user", Text: t.Text()})
}

// historyMessages はツール非対応モデル向けのメッセージ列
func historyMessages(t task.Task) []llm.Message {
	turns := historyTurns(t)
	msgs := make([]llm.Message, 0, len(turns))
	for _, turn := range turns {
		msgs = append(msgs, llm.Message{Role: turn.Role, Content: turn.Text})
	}
	return msgs
}

// contextBlock は呼び出し元コンテキストをプロンプト用に整形
func contextBlock(t task.Task) string {
	ctx := t.Context()
	if len(ctx) == 0 {
		return ""
	}
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("\n\nCaller context:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %v\n", k, ctx[k])
	}
	return b.String()
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
