// Package sandbox はタスクごとの隔離実行環境を提供する
package sandbox

import (
	"context"
	"errors"
	"os/exec"
)

// ErrEnvironment は隔離環境の作成・利用・破棄の失敗を表す
var ErrEnvironment = errors.New("environment failure")

// Environment はタスク専用の隔離環境
type Environment interface {
	// ID は環境の識別子
	ID() string
	// WorkDir はホスト側のワークスペースディレクトリ
	WorkDir() string
	// Command は環境内で実行するコマンドを生成
	Command(ctx context.Context, name string, args ...string) *exec.Cmd
	// Shell は環境内でシェルコマンドを実行するコマンドを生成
	Shell(ctx context.Context, script string) *exec.Cmd
	// Teardown は環境を破棄する
	Teardown(ctx context.Context) error
}

// Provider は隔離環境のファクトリ
type Provider interface {
	Name() string
	Create(ctx context.Context, jobID string) (Environment, error)
}
