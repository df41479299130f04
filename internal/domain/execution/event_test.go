package execution

import "testing"

func TestEventTypeIsTerminal(t *testing.T) {
	tests := []struct {
		typ  EventType
		want bool
	}{
		{EventRouting, false},
		{EventStarting, false},
		{EventToolUse, false},
		{EventText, false},
		{EventComplete, true},
		{EventError, true},
	}
	for _, tt := range tests {
		if got := tt.typ.IsTerminal(); got != tt.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestNewToolEvent(t *testing.T) {
	ev := NewToolEvent("web_search")
	if ev.Type != EventToolUse {
		t.Errorf("expected tool_use, got %s", ev.Type)
	}
	if ev.Tool != "web_search" {
		t.Errorf("expected tool web_search, got %s", ev.Tool)
	}
	if ev.At.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestResultStatus(t *testing.T) {
	if (Result{Success: true}).Status() != StatusCompleted {
		t.Error("successful result should be completed")
	}
	r := Failed("boom", 12)
	if r.Status() != StatusFailed || r.Error != "boom" || r.DurationMs != 12 {
		t.Errorf("unexpected failed result: %+v", r)
	}
}
