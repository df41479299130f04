package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Nyukimin/taskrelay/internal/domain/llm"
)

// ErrUnknownTool は未登録ツールの呼び出し
var ErrUnknownTool = errors.New("unknown tool")

// ErrOutsideWorkspace はワークスペース外のパス指定
var ErrOutsideWorkspace = errors.New("path is outside the workspace")

const maxOutputBytes = 16 * 1024

// Workspace はツールが操作する隔離環境
type Workspace interface {
	WorkDir() string
	Shell(ctx context.Context, script string) *exec.Cmd
}

// ToolFunc はツール実行関数の型
type ToolFunc func(ctx context.Context, input json.RawMessage) (string, error)

type tool struct {
	def llm.ToolDefinition
	fn  ToolFunc
}

type shellInput struct {
	Command string `json:"command" jsonschema:"required" jsonschema_description:"Shell command to run inside the workspace"`
}

type fileReadInput struct {
	Path string `json:"path" jsonschema:"required" jsonschema_description:"File path relative to the workspace"`
}

type fileWriteInput struct {
	Path    string `json:"path" jsonschema:"required" jsonschema_description:"File path relative to the workspace"`
	Content string `json:"content" jsonschema:"required" jsonschema_description:"Full file content to write"`
}

type fileListInput struct {
	Path string `json:"path,omitempty" jsonschema_description:"Directory relative to the workspace (default: workspace root)"`
}

// ToolRunner はワークスペースに閉じた組み込みツールの実行
type ToolRunner struct {
	ws    Workspace
	tools map[string]tool
}

// NewToolRunner は新しいToolRunnerを作成
func NewToolRunner(ws Workspace) *ToolRunner {
	runner := &ToolRunner{
		ws:    ws,
		tools: make(map[string]tool),
	}

	// ツール登録
	runner.registerTools()

	return runner
}

// registerTools は利用可能なツールを登録
func (r *ToolRunner) registerTools() {
	r.Register("shell", "Run a shell command in the task workspace and return its combined output.", schemaFor(&shellInput{}), r.executeShell)
	r.Register("file_read", "Read a file from the task workspace.", schemaFor(&fileReadInput{}), r.executeFileRead)
	r.Register("file_write", "Create or overwrite a file in the task workspace.", schemaFor(&fileWriteInput{}), r.executeFileWrite)
	r.Register("file_list", "List entries of a directory in the task workspace.", schemaFor(&fileListInput{}), r.executeFileList)
}

// Register はツールを追加登録する
func (r *ToolRunner) Register(name, description string, schema map[string]interface{}, fn ToolFunc) {
	r.tools[name] = tool{
		def: llm.ToolDefinition{Name: name, Description: description, InputSchema: schema},
		fn:  fn,
	}
}

// Has はツールが登録されているかを判定
func (r *ToolRunner) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Execute はツールを実行
func (r *ToolRunner) Execute(ctx context.Context, toolName string, input json.RawMessage) (string, error) {
	t, exists := r.tools[toolName]
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, toolName)
	}
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	return t.fn(ctx, input)
}

// Definitions は名前順のツール定義一覧を返す
func (r *ToolRunner) Definitions() []llm.ToolDefinition {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.tools[name].def)
	}
	return defs
}

// resolvePath はワークスペース相対パスを絶対パスに変換（外に出るパスは拒否）
func (r *ToolRunner) resolvePath(p string) (string, error) {
	root := filepath.Clean(r.ws.WorkDir())
	if p == "" {
		return root, nil
	}
	full := p
	if !filepath.IsAbs(p) {
		full = filepath.Join(root, p)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, p)
	}
	return full, nil
}

// executeShell はシェルコマンドを実行
func (r *ToolRunner) executeShell(ctx context.Context, input json.RawMessage) (string, error) {
	var in shellInput
	if err := json.Unmarshal(input, &in); err != nil || in.Command == "" {
		return "", fmt.Errorf("'command' argument is required and must be a string")
	}

	output, err := r.ws.Shell(ctx, in.Command).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("command failed: %w, output: %s", err, truncate(string(output)))
	}

	return truncate(string(output)), nil
}

// executeFileRead はファイルを読み込む
func (r *ToolRunner) executeFileRead(ctx context.Context, input json.RawMessage) (string, error) {
	var in fileReadInput
	if err := json.Unmarshal(input, &in); err != nil || in.Path == "" {
		return "", fmt.Errorf("'path' argument is required and must be a string")
	}
	path, err := r.resolvePath(in.Path)
	if err != nil {
		return "", err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	return truncate(string(content)), nil
}

// executeFileWrite はファイルに書き込む
func (r *ToolRunner) executeFileWrite(ctx context.Context, input json.RawMessage) (string, error) {
	var in fileWriteInput
	if err := json.Unmarshal(input, &in); err != nil || in.Path == "" {
		return "", fmt.Errorf("'path' and 'content' arguments are required")
	}
	path, err := r.resolvePath(in.Path)
	if err != nil {
		return "", err
	}

	// ディレクトリが存在しない場合は作成
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(in.Content), 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(in.Content), in.Path), nil
}

// executeFileList はディレクトリ内のファイル一覧を取得
func (r *ToolRunner) executeFileList(ctx context.Context, input json.RawMessage) (string, error) {
	var in fileListInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	path, err := r.resolvePath(in.Path)
	if err != nil {
		return "", err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("failed to read directory: %w", err)
	}

	var result strings.Builder
	for i, entry := range entries {
		if entry.IsDir() {
			result.WriteString(fmt.Sprintf("%s/\n", entry.Name()))
		} else {
			result.WriteString(fmt.Sprintf("%s\n", entry.Name()))
		}
		if i >= 1000 {
			result.WriteString("... (truncated, too many entries)\n")
			break
		}
	}

	return result.String(), nil
}

func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + "\n... (output truncated)"
}
