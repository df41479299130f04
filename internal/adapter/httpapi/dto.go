package httpapi

import (
	"github.com/Nyukimin/taskrelay/internal/application/orchestrator"
	"github.com/Nyukimin/taskrelay/internal/domain/task"
)

// TurnDTO は会話履歴の1発話
type TurnDTO struct {
	Role    string `json:"role" binding:"required,oneof=user assistant"`
	Content string `json:"content"`
}

// TaskRequest はタスク受付リクエスト
type TaskRequest struct {
	Task                string                 `json:"task" binding:"required"`
	Context             map[string]interface{} `json:"context"`
	Profile             string                 `json:"profile"`
	ToolIDs             []string               `json:"toolIds"`
	ConversationHistory []TurnDTO              `json:"conversationHistory" binding:"dive"`
	Debug               bool                   `json:"debug"`
	Async               bool                   `json:"async"`
}

// TaskResponse はタスク処理結果
type TaskResponse struct {
	ID         string   `json:"id"`
	Status     string   `json:"status"`
	Profile    string   `json:"profile,omitempty"`
	ToolIDs    []string `json:"toolIds,omitempty"`
	Result     string   `json:"result,omitempty"`
	Error      string   `json:"error,omitempty"`
	DurationMs int64    `json:"durationMs,omitempty"`
}

type resultFrame struct {
	Type string       `json:"type"`
	Task TaskResponse `json:"task"`
}

func (r TaskRequest) toTask(id task.JobID) task.Task {
	history := make([]task.Turn, 0, len(r.ConversationHistory))
	for _, h := range r.ConversationHistory {
		history = append(history, task.Turn{Role: task.Role(h.Role), Content: h.Content})
	}
	return task.NewTask(id, r.Task).
		WithContext(r.Context).
		WithHistory(history).
		WithForcedProfile(r.Profile).
		WithForcedToolIDs(r.ToolIDs)
}

func toTaskResponse(resp orchestrator.ProcessTaskResponse) TaskResponse {
	return TaskResponse{
		ID:         resp.ID,
		Status:     resp.Status,
		Profile:    resp.Profile,
		ToolIDs:    resp.ToolIDs,
		Result:     resp.Result,
		Error:      resp.Error,
		DurationMs: resp.DurationMs,
	}
}
