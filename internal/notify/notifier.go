package notify

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nightreel/reelforge/internal/models"
)

// AdminContext carries enough to reproduce a pipeline failure: who, which
// model, which step.
type AdminContext struct {
	UserID     int64
	TelegramID int64
	ModelKey   string
	Step       string
}

// Sink delivers results to users and escalates operational failures to the
// admin channel. The orchestrator treats it purely as a notification
// surface; formatting belongs to the implementation.
type Sink interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendMedia(ctx context.Context, chatID int64, mediaURL string, mode models.OperationMode, caption string) error
	NotifyAdmin(ctx context.Context, actx AdminContext, cause error)
}

// TelegramSink sends through the bot API. Admin escalations go to a
// dedicated chat configured at startup.
type TelegramSink struct {
	api         *tgbotapi.BotAPI
	adminChatID int64
	log         *slog.Logger
}

func NewTelegramSink(api *tgbotapi.BotAPI, adminChatID int64, log *slog.Logger) *TelegramSink {
	return &TelegramSink{api: api, adminChatID: adminChatID, log: log}
}

func (s *TelegramSink) SendText(_ context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

func (s *TelegramSink) SendMedia(_ context.Context, chatID int64, mediaURL string, mode models.OperationMode, caption string) error {
	var msg tgbotapi.Chattable
	switch mode {
	case models.ModeVideo:
		cfg := tgbotapi.NewVideo(chatID, tgbotapi.FileURL(mediaURL))
		cfg.Caption = caption
		msg = cfg
	case models.ModeVoice:
		cfg := tgbotapi.NewAudio(chatID, tgbotapi.FileURL(mediaURL))
		cfg.Caption = caption
		msg = cfg
	default:
		cfg := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(mediaURL))
		cfg.Caption = caption
		msg = cfg
	}
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("send media: %w", err)
	}
	return nil
}

// NotifyAdmin never fails the pipeline: a broken admin channel is logged,
// not propagated.
func (s *TelegramSink) NotifyAdmin(_ context.Context, actx AdminContext, cause error) {
	s.log.Error("pipeline failure",
		"user_id", actx.UserID,
		"telegram_id", actx.TelegramID,
		"model_key", actx.ModelKey,
		"step", actx.Step,
		"err", cause,
	)
	if s.adminChatID == 0 {
		return
	}
	text := fmt.Sprintf("⚠️ %s failed\nuser=%d tg=%d model=%s\n%v",
		actx.Step, actx.UserID, actx.TelegramID, actx.ModelKey, cause)
	msg := tgbotapi.NewMessage(s.adminChatID, text)
	if _, err := s.api.Send(msg); err != nil {
		s.log.Error("admin escalation failed", "err", err)
	}
}
