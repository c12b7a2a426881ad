package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightreel/reelforge/internal/catalog"
	"github.com/nightreel/reelforge/internal/config"
	"github.com/nightreel/reelforge/internal/models"
)

// newTestBot wires a Bot against a fake Telegram API that acknowledges
// every method call.
func newTestBot(t *testing.T) *Bot {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(r.URL.Path, "sendMessage") {
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":1,"chat":{"id":1}}}`)
			return
		}
		fmt.Fprint(w, `{"ok":true,"result":true}`)
	}))
	t.Cleanup(srv.Close)

	api := &tgbotapi.BotAPI{Token: "test-token", Client: srv.Client(), Buffer: 10}
	api.SetAPIEndpoint(srv.URL + "/bot%s/%s")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewBot(config.Config{BotName: "reelforge"}, api, log, nil, nil, catalog.Default(), nil, nil)
}

func modelCallback(chatID int64, data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		Data:    data,
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}},
	}
}

func TestHandleCallback_WithoutMessage(t *testing.T) {
	b := newTestBot(t)

	// Callbacks on messages too old to reference arrive without a message.
	cb := &tgbotapi.CallbackQuery{ID: "cb-1", Data: "model:reel-motion-v2"}
	b.handleCallback(context.Background(), cb)
}

func TestHandleCallback_StaleButtonIgnored(t *testing.T) {
	b := newTestBot(t)

	// No draft is open for this chat, so the button is from a dead keyboard.
	b.handleCallback(context.Background(), modelCallback(5, "model:reel-motion-v2"))

	draft := b.state.Get(5)
	assert.Equal(t, StageIdle, draft.Stage)
	assert.Empty(t, draft.ModelKey)
}

func TestHandleCallback_SelectsModel(t *testing.T) {
	b := newTestBot(t)
	b.state.Set(5, &Draft{Stage: StageAwaitingModel, Mode: models.ModeVideo, Variant: models.VariantStandard})

	b.handleCallback(context.Background(), modelCallback(5, "model:reel-motion-v2"))

	draft := b.state.Get(5)
	require.Equal(t, StageAwaitingSource, draft.Stage)
	assert.Equal(t, "reel-motion-v2", draft.ModelKey)
}

func TestHandleCallback_UnknownModelKeepsStage(t *testing.T) {
	b := newTestBot(t)
	b.state.Set(5, &Draft{Stage: StageAwaitingModel, Mode: models.ModeVideo, Variant: models.VariantStandard})

	b.handleCallback(context.Background(), modelCallback(5, "model:no-such-model"))

	draft := b.state.Get(5)
	assert.Equal(t, StageAwaitingModel, draft.Stage)
	assert.Empty(t, draft.ModelKey)
}
