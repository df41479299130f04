package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Nyukimin/taskrelay/internal/application/executor"
	"github.com/Nyukimin/taskrelay/internal/domain/execution"
	"github.com/Nyukimin/taskrelay/internal/domain/routing"
	"github.com/Nyukimin/taskrelay/internal/domain/task"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/cost"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/persistence/result"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/retry"
	"github.com/Nyukimin/taskrelay/pkg/logger"
)

// ErrCostRejected はコストガードによる拒否
var ErrCostRejected = errors.New("request rejected by cost guard")

// CostRejectedError は拒否時の見積もりを持つエラー
type CostRejectedError struct {
	Estimate cost.Estimate
}

func (e *CostRejectedError) Error() string {
	return e.Estimate.Reason
}

// Is はErrCostRejectedとの比較を可能にする
func (e *CostRejectedError) Is(target error) bool {
	return target == ErrCostRejected
}

// CostGuard は実行前のコスト見積もり
type CostGuard interface {
	EstimateAndCheck(contents []string) cost.Estimate
}

// Router はタスクのルーティング
type Router interface {
	Route(ctx context.Context, t task.Task) routing.Decision
}

// ProcessTaskRequest はタスク処理リクエスト
type ProcessTaskRequest struct {
	Task  task.Task
	Debug bool
	Emit  execution.EmitFunc
}

// ProcessTaskResponse はタスク処理レスポンス
type ProcessTaskResponse struct {
	ID         string
	Status     string
	Profile    string
	ToolIDs    []string
	Result     string
	Error      string
	DurationMs int64
	StepsUsed  int
	Decision   routing.Decision
}

// TaskOrchestrator はタスク処理を統括
// コストガード → ルーティング → 実行経路（リトライ付き）→ 結果の保存
type TaskOrchestrator struct {
	guard      CostGuard
	router     Router
	strategies executor.Strategies
	policy     retry.Policy
	sink       result.Sink
}

// NewTaskOrchestrator は新しいTaskOrchestratorを作成
func NewTaskOrchestrator(
	guard CostGuard,
	router Router,
	strategies executor.Strategies,
	policy retry.Policy,
	sink result.Sink,
) *TaskOrchestrator {
	if sink == nil {
		sink = result.Nop{}
	}
	return &TaskOrchestrator{
		guard:      guard,
		router:     router,
		strategies: strategies,
		policy:     policy,
		sink:       sink,
	}
}

// ProcessTask はタスクを処理し、結果を一度だけ返す
// コストガードで拒否した場合のみErrCostRejectedを返す
func (o *TaskOrchestrator) ProcessTask(ctx context.Context, req ProcessTaskRequest) (ProcessTaskResponse, error) {
	start := time.Now()
	t := req.Task
	emit := req.Emit
	if emit == nil {
		emit = execution.Discard
	}

	// 1. コスト見積もり
	est := o.guard.EstimateAndCheck(t.Contents())
	if est.Reject {
		res := execution.Failed(est.Reason, elapsedMs(start))
		emit(execution.NewEvent(execution.EventError, est.Reason))
		resp := o.finish(ctx, t, routing.Decision{}, res)
		return resp, &CostRejectedError{Estimate: est}
	}

	// 2. ルーティング決定
	decision := o.router.Route(ctx, t)
	emit(execution.NewEvent(execution.EventRouting, fmt.Sprintf("%s (%s)", decision.Profile, decision.Complexity)))

	// 3. 実行
	res := o.execute(ctx, t, decision, req.Debug, emit)
	res.DurationMs = elapsedMs(start)

	if res.Success {
		emit(execution.NewEvent(execution.EventComplete, res.Output))
	} else {
		emit(execution.NewEvent(execution.EventError, res.Error))
	}

	return o.finish(ctx, t, decision, res), nil
}

// execute は複雑度に応じた実行経路をリトライ付きで実行
func (o *TaskOrchestrator) execute(ctx context.Context, t task.Task, decision routing.Decision, debug bool, emit execution.EmitFunc) execution.Result {
	strategy, err := o.strategies.For(decision.Complexity)
	if err != nil {
		logger.ErrorCF("orchestrator", "No executor for decision", map[string]interface{}{
			"task_id":    t.ID().String(),
			"complexity": string(decision.Complexity),
		})
		return execution.Failed(userMessage(err, debug), 0)
	}

	res, err := retry.Do(ctx, o.policy, func(ctx context.Context) (execution.Result, error) {
		return strategy.Execute(ctx, t, decision, emit)
	})
	if err != nil {
		logger.ErrorCF("orchestrator", "Task execution failed", map[string]interface{}{
			"task_id": t.ID().String(),
			"profile": decision.Profile,
			"error":   err.Error(),
		})
		return execution.FailedWithCause(userMessage(err, debug), err, 0)
	}
	if debug && res.Cause != nil {
		res.Error = appendDebug(res.Error, res.Cause)
	}
	return res
}

// finish は結果を保存してレスポンスに変換
func (o *TaskOrchestrator) finish(ctx context.Context, t task.Task, decision routing.Decision, res execution.Result) ProcessTaskResponse {
	rec := result.NewRecord(t, decision, res)
	if err := o.sink.Write(context.WithoutCancel(ctx), rec); err != nil {
		logger.WarnCF("orchestrator", "Failed to persist result", map[string]interface{}{
			"task_id": rec.TaskID,
			"error":   err.Error(),
		})
	}

	logger.InfoCF("orchestrator", "Task finished", map[string]interface{}{
		"task_id":     rec.TaskID,
		"status":      rec.Status,
		"profile":     decision.Profile,
		"duration_ms": res.DurationMs,
		"steps":       res.StepsUsed,
	})

	return ProcessTaskResponse{
		ID:         t.ID().String(),
		Status:     res.Status(),
		Profile:    decision.Profile,
		ToolIDs:    decision.ToolIDs,
		Result:     res.Output,
		Error:      res.Error,
		DurationMs: res.DurationMs,
		StepsUsed:  res.StepsUsed,
		Decision:   decision,
	}
}

// userMessage は利用者向けの1行メッセージを作る（debug時は内部エラーを付加）
func userMessage(err error, debug bool) string {
	var se *retry.StatusError
	msg := "The request could not be completed. Please try again later."
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		msg = "The request timed out. Please try again or simplify the task."
	case errors.Is(err, context.Canceled):
		msg = "The request was cancelled."
	case errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests:
		msg = "The model provider is busy. Please try again in a moment."
	case errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500:
		msg = "The model provider rejected the request."
	}
	if debug {
		msg = appendDebug(msg, err)
	}
	return msg
}

func appendDebug(msg string, err error) string {
	return msg + " [debug: " + err.Error() + "]"
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
