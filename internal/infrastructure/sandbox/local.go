package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/Nyukimin/taskrelay/pkg/logger"
)

// LocalProvider は一時ディレクトリをワークスペースとするローカル環境
type LocalProvider struct {
	baseDir string
}

// NewLocalProvider は新しいLocalProviderを作成（baseDirが空ならOSの一時ディレクトリ）
func NewLocalProvider(baseDir string) *LocalProvider {
	return &LocalProvider{baseDir: baseDir}
}

// Name はプロバイダー名を返す
func (p *LocalProvider) Name() string { return "local" }

// Create はタスク用の一時ワークスペースを作成
func (p *LocalProvider) Create(ctx context.Context, jobID string) (Environment, error) {
	if p.baseDir != "" {
		if err := os.MkdirAll(p.baseDir, 0755); err != nil {
			return nil, fmt.Errorf("%w: create base dir: %v", ErrEnvironment, err)
		}
	}
	dir, err := os.MkdirTemp(p.baseDir, "taskrelay-"+jobID+"-")
	if err != nil {
		return nil, fmt.Errorf("%w: create workspace: %v", ErrEnvironment, err)
	}
	logger.DebugCF("sandbox", "Local workspace created", map[string]interface{}{
		"job_id": jobID,
		"dir":    dir,
	})
	return &localEnv{id: filepath.Base(dir), dir: dir}, nil
}

type localEnv struct {
	id  string
	dir string
}

func (e *localEnv) ID() string      { return e.id }
func (e *localEnv) WorkDir() string { return e.dir }

func (e *localEnv) Command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = e.dir
	return cmd
}

func (e *localEnv) Shell(ctx context.Context, script string) *exec.Cmd {
	return e.Command(ctx, "sh", "-c", script)
}

func (e *localEnv) Teardown(ctx context.Context) error {
	if err := os.RemoveAll(e.dir); err != nil {
		return fmt.Errorf("%w: remove workspace: %v", ErrEnvironment, err)
	}
	return nil
}
