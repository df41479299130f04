package execution

import "time"

// EventType は進捗イベントの種別
type EventType string

const (
	EventRouting  EventType = "routing"
	EventStarting EventType = "starting"
	EventToolUse  EventType = "tool_use"
	EventText     EventType = "text"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// IsTerminal は終端イベントかを判定
func (t EventType) IsTerminal() bool {
	return t == EventComplete || t == EventError
}

// Event は進捗イベント
type Event struct {
	Type    EventType `json:"type"`
	Payload string    `json:"payload,omitempty"`
	Tool    string    `json:"tool,omitempty"`
	At      time.Time `json:"at"`
}

// NewEvent は現在時刻付きのイベントを作成
func NewEvent(t EventType, payload string) Event {
	return Event{Type: t, Payload: payload, At: time.Now()}
}

// NewToolEvent はツール使用イベントを作成
func NewToolEvent(tool string) Event {
	return Event{Type: EventToolUse, Tool: tool, Payload: tool, At: time.Now()}
}

// EmitFunc は進捗イベントの送出関数（ブロックしないこと）
type EmitFunc func(Event)

// Discard はイベントを捨てるEmitFunc
func Discard(Event) {}
