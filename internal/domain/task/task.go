package task

import "strings"

// Role は会話履歴の発話者
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn は会話履歴の1発話
type Turn struct {
	Role    Role
	Content string
}

// Task は呼び出し元から受け取った指示を表す値オブジェクト
// 生成後は変更されない（With系メソッドは新しい値を返す）
type Task struct {
	id            JobID
	text          string
	context       map[string]interface{}
	history       []Turn
	forcedProfile string
	forcedToolIDs []string
}

// NewTask は新しいTaskを作成
func NewTask(id JobID, text string) Task {
	return Task{
		id:   id,
		text: text,
	}
}

// ID はジョブIDを返す
func (t Task) ID() JobID {
	return t.id
}

// Text はタスク本文を返す
func (t Task) Text() string {
	return t.text
}

// Context は呼び出し元コンテキストのコピーを返す
func (t Task) Context() map[string]interface{} {
	if t.context == nil {
		return nil
	}
	out := make(map[string]interface{}, len(t.context))
	for k, v := range t.context {
		out[k] = v
	}
	return out
}

// History は会話履歴のコピーを返す
func (t Task) History() []Turn {
	if len(t.history) == 0 {
		return nil
	}
	out := make([]Turn, len(t.history))
	copy(out, t.history)
	return out
}

// ForcedProfile は呼び出し元が指定したプロファイルを返す
func (t Task) ForcedProfile() string {
	return t.forcedProfile
}

// ForcedToolIDs は呼び出し元が指定したツールIDのコピーを返す
func (t Task) ForcedToolIDs() []string {
	if len(t.forcedToolIDs) == 0 {
		return nil
	}
	out := make([]string, len(t.forcedToolIDs))
	copy(out, t.forcedToolIDs)
	return out
}

// HasForcedRoute はプロファイルまたはツールセットが強制されているかを判定
func (t Task) HasForcedRoute() bool {
	return t.forcedProfile != "" || len(t.forcedToolIDs) > 0
}

// WithContext はコンテキストを設定した新しいTaskを返す
func (t Task) WithContext(ctx map[string]interface{}) Task {
	t.context = nil
	if len(ctx) > 0 {
		t.context = make(map[string]interface{}, len(ctx))
		for k, v := range ctx {
			t.context[k] = v
		}
	}
	return t
}

// WithHistory は会話履歴を設定した新しいTaskを返す
func (t Task) WithHistory(history []Turn) Task {
	t.history = nil
	if len(history) > 0 {
		t.history = make([]Turn, len(history))
		copy(t.history, history)
	}
	return t
}

// WithForcedProfile は強制プロファイルを設定した新しいTaskを返す
func (t Task) WithForcedProfile(profile string) Task {
	t.forcedProfile = strings.TrimSpace(profile)
	return t
}

// WithForcedToolIDs は強制ツールセットを設定した新しいTaskを返す
func (t Task) WithForcedToolIDs(ids []string) Task {
	t.forcedToolIDs = nil
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			t.forcedToolIDs = append(t.forcedToolIDs, id)
		}
	}
	return t
}

// Contents はコスト見積もり用に本文と履歴の内容を列挙
func (t Task) Contents() []string {
	out := make([]string, 0, len(t.history)+1)
	for _, turn := range t.history {
		out = append(out, turn.Content)
	}
	return append(out, t.text)
}
