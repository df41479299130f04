package llm

import "testing"

func TestConverseResponseAssistantTurn(t *testing.T) {
	resp := ConverseResponse{
		Text:      "checking",
		ToolCalls: []ToolCall{{ID: "call_1", Name: "shell"}},
	}

	turn := resp.AssistantTurn()

	if turn.Role != "assistant" {
		t.Errorf("expected assistant role, got %s", turn.Role)
	}
	if turn.Text != "checking" {
		t.Errorf("expected text 'checking', got %s", turn.Text)
	}
	if len(turn.ToolCalls) != 1 || turn.ToolCalls[0].Name != "shell" {
		t.Errorf("unexpected tool calls: %+v", turn.ToolCalls)
	}
}
