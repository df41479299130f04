package sinks

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/websocket"
	"github.com/mymmrac/telego"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nyukimin/taskrelay/internal/domain/execution"
)

func TestSlackSink_UpdatesStatusMessage(t *testing.T) {
	var updates []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/chat.postMessage":
			w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100"}`))
		case "/chat.update":
			updates = append(updates, r.Form.Get("ts")+"|"+r.Form.Get("text"))
			w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100","text":"x"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := slack.New("xoxb-test", slack.OptionAPIURL(server.URL+"/"))
	sink, err := StartSlack(context.Background(), client, "C123", "Working on it...")
	require.NoError(t, err)

	err = sink.Send(context.Background(), execution.NewToolEvent("web_search"))
	require.NoError(t, err)

	require.Len(t, updates, 1)
	assert.Equal(t, "1700000000.000100|Using tool: web_search", updates[0])
}

func TestSlackSink_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":false,"error":"message_not_found"}`))
	}))
	defer server.Close()

	client := slack.New("xoxb-test", slack.OptionAPIURL(server.URL+"/"))
	err := NewSlackSink(client, "C1", "1.0").Send(context.Background(), execution.NewEvent(execution.EventText, "x"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "message_not_found")
}

type fakeDiscord struct {
	channelID, messageID, content string
	sent                          []string
	err                           error
}

func (f *fakeDiscord) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.sent = append(f.sent, channelID+"|"+content)
	return &discordgo.Message{ID: "m-1", ChannelID: channelID}, nil
}

func (f *fakeDiscord) ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channelID, f.messageID, f.content = channelID, messageID, content
	return &discordgo.Message{ID: messageID}, f.err
}

func TestDiscordSink_EditsMessage(t *testing.T) {
	fake := &fakeDiscord{}
	sink := NewDiscordSink(fake, "chan", "msg")

	require.NoError(t, sink.Send(context.Background(), execution.NewEvent(execution.EventError, "timeout")))

	assert.Equal(t, "chan", fake.channelID)
	assert.Equal(t, "msg", fake.messageID)
	assert.Equal(t, "Error: timeout", fake.content)

	fake.err = errors.New("unknown message")
	assert.Error(t, sink.Send(context.Background(), execution.NewEvent(execution.EventText, "x")))
}

type fakeTelegram struct {
	calls []*telego.EditMessageTextParams
	sent  []*telego.SendMessageParams
}

func (f *fakeTelegram) SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	f.sent = append(f.sent, params)
	return &telego.Message{MessageID: 99}, nil
}

func (f *fakeTelegram) EditMessageText(ctx context.Context, params *telego.EditMessageTextParams) (*telego.Message, error) {
	f.calls = append(f.calls, params)
	return &telego.Message{MessageID: params.MessageID}, nil
}

func TestTelegramSink_SkipsUnchangedText(t *testing.T) {
	fake := &fakeTelegram{}
	sink := NewTelegramSink(fake, 42, 7)

	require.NoError(t, sink.Send(context.Background(), execution.NewToolEvent("shell")))
	require.NoError(t, sink.Send(context.Background(), execution.NewToolEvent("shell")))
	require.NoError(t, sink.Send(context.Background(), execution.NewEvent(execution.EventComplete, "done")))

	require.Len(t, fake.calls, 2)
	assert.Equal(t, int64(42), fake.calls[0].ChatID.ID)
	assert.Equal(t, 7, fake.calls[0].MessageID)
	assert.Equal(t, "done", fake.calls[1].Text)
}

func TestWebSocketSink_WritesJSONFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan execution.Event, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var ev execution.Event
		if err := conn.ReadJSON(&ev); err == nil {
			received <- ev
		}
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	sink := NewWebSocketSink(conn)
	require.NoError(t, sink.Send(context.Background(), execution.NewToolEvent("file_read")))

	ev := <-received
	assert.Equal(t, execution.EventToolUse, ev.Type)
	assert.Equal(t, "file_read", ev.Tool)
}

func TestStartTelegram_PostsThenEdits(t *testing.T) {
	fake := &fakeTelegram{}
	sink, err := StartTelegram(context.Background(), fake, 42, "Working on it...")
	require.NoError(t, err)

	// 投稿と同じ本文は編集しない
	require.NoError(t, sink.Send(context.Background(), execution.NewEvent(execution.EventStarting, "")))
	require.NoError(t, sink.Send(context.Background(), execution.NewToolEvent("shell")))

	require.Len(t, fake.sent, 1)
	require.Len(t, fake.calls, 1)
	assert.Equal(t, 99, fake.calls[0].MessageID)
}

func TestFactory_OpenSkipsUnconfiguredPlatforms(t *testing.T) {
	discord := &fakeDiscord{}
	f := Factory{Discord: discord, DiscordChannel: "chan", Telegram: &fakeTelegram{}}

	sink := f.Open(context.Background(), "task-1", "Working on it...")
	require.NoError(t, sink.Send(context.Background(), execution.NewEvent(execution.EventComplete, "all done")))

	assert.Equal(t, []string{"chan|Working on it..."}, discord.sent)
	assert.Equal(t, "m-1", discord.messageID)
	assert.Equal(t, "all done", discord.content)
}
