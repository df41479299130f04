package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Nyukimin/taskrelay/internal/domain/execution"
)

const writeWait = 10 * time.Second

// WebSocketSink はイベントをJSONフレームで送るSink
type WebSocketSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocketSink は新しいWebSocketSinkを作成
func NewWebSocketSink(conn *websocket.Conn) *WebSocketSink {
	return &WebSocketSink{conn: conn}
}

// Send はイベントをJSONで書き込む
func (s *WebSocketSink) Send(ctx context.Context, ev execution.Event) error {
	return s.WriteJSON(ctx, ev)
}

// WriteJSON は任意の値をJSONフレームとして書き込む
func (s *WebSocketSink) WriteJSON(ctx context.Context, v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := s.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write websocket frame: %w", err)
	}
	return nil
}
