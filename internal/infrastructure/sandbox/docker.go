package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/google/uuid"

	"github.com/Nyukimin/taskrelay/pkg/logger"
)

const (
	DefaultDockerImage   = "alpine:3.20"
	containerWorkspace   = "/workspace"
	defaultDockerNetwork = "bridge"
)

// DockerOptions はコンテナ環境の設定
type DockerOptions struct {
	Binary   string // dockerコマンドのパス
	Image    string
	Network  string
	MemLimit string
	CPULimit string
	BaseDir  string // ホスト側ワークスペースの親ディレクトリ
}

// DockerProvider はdocker CLI経由でコンテナ環境を作成する
type DockerProvider struct {
	opts DockerOptions
}

// NewDockerProvider は新しいDockerProviderを作成
func NewDockerProvider(opts DockerOptions) *DockerProvider {
	if opts.Binary == "" {
		opts.Binary = "docker"
	}
	if opts.Image == "" {
		opts.Image = DefaultDockerImage
	}
	if opts.Network == "" {
		opts.Network = defaultDockerNetwork
	}
	return &DockerProvider{opts: opts}
}

// Name はプロバイダー名を返す
func (p *DockerProvider) Name() string { return "docker" }

// Available はdockerデーモンが利用可能かを確認
func (p *DockerProvider) Available(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, p.opts.Binary, "info", "--format", "{{.ServerVersion}}").Output()
	if err != nil {
		return fmt.Errorf("docker not available: %w", err)
	}
	if strings.TrimSpace(string(out)) == "" {
		return fmt.Errorf("docker not available: empty server version")
	}
	return nil
}

// Create はワークスペースをマウントしたコンテナを起動
func (p *DockerProvider) Create(ctx context.Context, jobID string) (Environment, error) {
	dir, err := os.MkdirTemp(p.opts.BaseDir, "taskrelay-"+jobID+"-")
	if err != nil {
		return nil, fmt.Errorf("%w: create workspace: %v", ErrEnvironment, err)
	}

	name := "taskrelay-" + uuid.New().String()[:8]
	args := []string{"run", "-d", "--rm",
		"--name", name,
		"--label", "taskrelay.jobId=" + jobID,
		"--label", "taskrelay.managed=true",
		"--network", p.opts.Network,
		"-v", dir + ":" + containerWorkspace,
		"--workdir", containerWorkspace,
	}
	if p.opts.MemLimit != "" {
		args = append(args, "--memory", p.opts.MemLimit)
	}
	if p.opts.CPULimit != "" {
		args = append(args, "--cpus", p.opts.CPULimit)
	}
	args = append(args, p.opts.Image, "sleep", "infinity")

	out, err := exec.CommandContext(ctx, p.opts.Binary, args...).CombinedOutput()
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("%w: docker run failed: %v: %s", ErrEnvironment, err, strings.TrimSpace(string(out)))
	}

	logger.InfoCF("sandbox", "Container started", map[string]interface{}{
		"job_id":    jobID,
		"container": name,
		"image":     p.opts.Image,
	})
	return &dockerEnv{binary: p.opts.Binary, name: name, dir: dir}, nil
}

type dockerEnv struct {
	binary string
	name   string
	dir    string
}

func (e *dockerEnv) ID() string      { return e.name }
func (e *dockerEnv) WorkDir() string { return e.dir }

func (e *dockerEnv) Command(ctx context.Context, name string, args ...string) *exec.Cmd {
	dargs := append([]string{"exec", "-i", "-w", containerWorkspace, e.name, name}, args...)
	return exec.CommandContext(ctx, e.binary, dargs...)
}

func (e *dockerEnv) Shell(ctx context.Context, script string) *exec.Cmd {
	return e.Command(ctx, "sh", "-c", script)
}

func (e *dockerEnv) Teardown(ctx context.Context) error {
	var errs []string
	if out, err := exec.CommandContext(ctx, e.binary, "rm", "-f", e.name).CombinedOutput(); err != nil {
		errs = append(errs, fmt.Sprintf("docker rm: %v: %s", err, strings.TrimSpace(string(out))))
	}
	if err := os.RemoveAll(e.dir); err != nil {
		errs = append(errs, fmt.Sprintf("remove workspace: %v", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrEnvironment, strings.Join(errs, "; "))
	}
	return nil
}
