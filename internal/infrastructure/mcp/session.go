package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/Nyukimin/taskrelay/internal/domain/profile"
)

// Session は接続済みのツールサーバーとのセッション
type Session interface {
	// ID はツール記述子のID
	ID() string
	// Tools はサーバーが公開するツール一覧
	Tools() []Tool
	// Call はツールを呼び出し、テキスト結果とエラーフラグを返す
	Call(ctx context.Context, name string, args json.RawMessage) (string, bool, error)
	Close() error
}

// CommandFactory はサブプロセス型ツールのコマンドを生成する（隔離環境内で起動するため）
type CommandFactory func(ctx context.Context, name string, args ...string) *exec.Cmd

// Connect は記述子の種別に応じてセッションを確立する
func Connect(ctx context.Context, d profile.ToolDescriptor, commands CommandFactory) (Session, error) {
	switch d.Type {
	case profile.ConnectionRemoteHTTP:
		return DialHTTP(ctx, d.ID, d.URL, d.Headers)
	case profile.ConnectionSubprocess:
		if commands == nil {
			commands = exec.CommandContext
		}
		return StartStdio(ctx, d.ID, commands, d.Command, d.Args, d.Env)
	default:
		return nil, fmt.Errorf("tool %s: unsupported connection type %q", d.ID, d.Type)
	}
}
