package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSender struct {
	name string
	err  error

	mu   sync.Mutex
	sent []Message
}

func (f *fakeSender) Send(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func TestNotifier_FiltersEvents(t *testing.T) {
	s := &fakeSender{name: "a"}
	n := NewNotifier([]Sender{s}, []string{" position_closed "}, quietLogger())

	require.NoError(t, n.Notify(context.Background(), "position_opened", "t", "m"))
	assert.Empty(t, s.sent)

	require.NoError(t, n.Notify(context.Background(), "position_closed", "t", "m"))
	require.Len(t, s.sent, 1)
	assert.Equal(t, Message{Event: "position_closed", Title: "t", Body: "m"}, s.sent[0])
}

func TestNotifier_EmptyAllowListPassesAll(t *testing.T) {
	n := NewNotifier(nil, nil, quietLogger())
	assert.True(t, n.Allows("anything"))
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Notify(context.Background(), "anything", "t", "m"))
}

func TestNotifier_OneFailureDoesNotStopOthers(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("boom")}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.Notify(context.Background(), "position_opened", "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Len(t, good.sent, 1)
}

func TestDiscordSender_PostsEmbed(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = sonic.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	require.NoError(t, d.Send(context.Background(), Message{Event: "position_opened", Title: "Position opened: BTCUSDT", Body: "LONG"}))
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Position opened: BTCUSDT", got.Embeds[0].Title)
	assert.Equal(t, colorOpened, got.Embeds[0].Color)
	assert.Contains(t, got.Embeds[0].Description, "LONG")
}

func TestDiscordSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), Message{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

type fakeBot struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func TestTelegramSender_EscapesHTML(t *testing.T) {
	bot := &fakeBot{}
	s := &TelegramSender{bot: bot, chatID: 42}

	require.NoError(t, s.Send(context.Background(), Message{Title: "a<b", Body: "x & y"}))
	require.Len(t, bot.sent, 1)
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Equal(t, tgbotapi.ModeHTML, msg.ParseMode)
	assert.True(t, strings.HasPrefix(msg.Text, "<b>a&lt;b</b>"))
	assert.Contains(t, msg.Text, "x &amp; y")
}

func TestTelegramSender_CancelledContext(t *testing.T) {
	bot := &fakeBot{}
	s := &TelegramSender{bot: bot, chatID: 1}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Send(ctx, Message{}), context.Canceled)
	assert.Empty(t, bot.sent)
}
