package execution

// Result はタスク実行の最終結果（タスクごとに1回だけ返す）
type Result struct {
	Output     string
	Success    bool
	Error      string // 利用者向けの1行メッセージ
	DurationMs int64
	StepsUsed  int

	// Cause は内部エラー（ログとdebug表示のみで使い、外部に直接出さない）
	Cause error
}

// Failed は失敗結果を作成
func Failed(msg string, durationMs int64) Result {
	return Result{Success: false, Error: msg, DurationMs: durationMs}
}

// FailedWithCause は内部エラー付きの失敗結果を作成
func FailedWithCause(msg string, cause error, durationMs int64) Result {
	return Result{Success: false, Error: msg, Cause: cause, DurationMs: durationMs}
}

// Status は外部向けのステータス文字列を返す
func (r Result) Status() string {
	if r.Success {
		return StatusCompleted
	}
	return StatusFailed
}

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusQueued    = "queued"
)
