package result

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// JSONFileSink はタスクごとにJSONファイルを書き出すSink
type JSONFileSink struct {
	baseDir string
}

// NewJSONFileSink は新しいJSONFileSinkを作成
func NewJSONFileSink(baseDir string) *JSONFileSink {
	return &JSONFileSink{
		baseDir: baseDir,
	}
}

// recordDTO はJSONシリアライズ用のDTO
type recordDTO struct {
	TaskID     string    `json:"task_id"`
	Task       string    `json:"task"`
	Profile    string    `json:"profile,omitempty"`
	ToolIDs    []string  `json:"tool_ids,omitempty"`
	Complexity string    `json:"complexity,omitempty"`
	Status     string    `json:"status"`
	Output     string    `json:"output"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	StepsUsed  int       `json:"steps_used"`
	FinishedAt time.Time `json:"finished_at"`
}

// Write は結果をtask_<id>.jsonに保存
func (s *JSONFileSink) Write(ctx context.Context, rec Record) error {
	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		return fmt.Errorf("failed to create results dir: %w", err)
	}

	data, err := json.MarshalIndent(toDTO(rec), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := os.WriteFile(s.Path(rec.TaskID), data, 0644); err != nil {
		return fmt.Errorf("failed to write result file: %w", err)
	}

	return nil
}

// Load は保存済みの結果を読み込む
func (s *JSONFileSink) Load(taskID string) (Record, error) {
	data, err := os.ReadFile(s.Path(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, fmt.Errorf("result not found: %s", taskID)
		}
		return Record{}, fmt.Errorf("failed to read result file: %w", err)
	}

	var dto recordDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return fromDTO(dto), nil
}

// Path はタスクIDからファイルパスを生成
func (s *JSONFileSink) Path(taskID string) string {
	return filepath.Join(s.baseDir, "task_"+taskID+".json")
}

func toDTO(rec Record) recordDTO {
	return recordDTO{
		TaskID:     rec.TaskID,
		Task:       rec.Text,
		Profile:    rec.Profile,
		ToolIDs:    rec.ToolIDs,
		Complexity: rec.Complexity,
		Status:     rec.Status,
		Output:     rec.Output,
		Error:      rec.Error,
		DurationMs: rec.DurationMs,
		StepsUsed:  rec.StepsUsed,
		FinishedAt: rec.FinishedAt,
	}
}

func fromDTO(dto recordDTO) Record {
	return Record{
		TaskID:     dto.TaskID,
		Text:       dto.Task,
		Profile:    dto.Profile,
		ToolIDs:    dto.ToolIDs,
		Complexity: dto.Complexity,
		Status:     dto.Status,
		Output:     dto.Output,
		Error:      dto.Error,
		DurationMs: dto.DurationMs,
		StepsUsed:  dto.StepsUsed,
		FinishedAt: dto.FinishedAt,
	}
}
