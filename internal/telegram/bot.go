package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nightreel/reelforge/internal/catalog"
	"github.com/nightreel/reelforge/internal/config"
	"github.com/nightreel/reelforge/internal/models"
	"github.com/nightreel/reelforge/internal/notify"
	"github.com/nightreel/reelforge/internal/service"
)

var errNotImage = errors.New("attachment is not an image")

type InputStorage interface {
	Upload(ctx context.Context, data []byte, contentType string) (publicURL string, key string, err error)
}

type OperationQueue interface {
	EnqueueOperation(ctx context.Context, req models.OperationRequest) error
}

type Bot struct {
	cfg        config.Config
	api        *tgbotapi.BotAPI
	log        *slog.Logger
	users      *service.UserService
	payments   *service.PaymentService
	catalog    *catalog.Catalog
	queue      OperationQueue
	storage    InputStorage
	state      *StateManager
	httpClient *http.Client
}

func NewBot(cfg config.Config, api *tgbotapi.BotAPI, log *slog.Logger, users *service.UserService, payments *service.PaymentService, cat *catalog.Catalog, queue OperationQueue, storage InputStorage) *Bot {
	return &Bot{
		cfg:        cfg,
		api:        api,
		log:        log,
		users:      users,
		payments:   payments,
		catalog:    cat,
		queue:      queue,
		storage:    storage,
		state:      NewStateManager(),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started", "bot_name", b.cfg.BotName)

	for {
		select {
		case update := <-updates:
			if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			} else if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
			} else if update.PreCheckoutQuery != nil {
				if err := b.payments.HandlePreCheckout(b.api, update.PreCheckoutQuery); err != nil {
					b.log.Error("pre-checkout failed", "err", err)
				}
			}
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.SuccessfulPayment != nil {
		b.handleSuccessfulPayment(ctx, msg)
		return
	}

	if len(msg.Photo) > 0 || msg.Document != nil {
		if err := b.handleImage(ctx, msg); err != nil {
			if errors.Is(err, errNotImage) {
				b.sendText(msg.Chat.ID, "Это не изображение. Пришлите фото или картинку.")
			} else {
				b.log.Error("image upload failed", "err", err)
				b.sendText(msg.Chat.ID, "Не удалось сохранить изображение, попробуйте снова.")
			}
		}
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	draft := b.state.Get(msg.Chat.ID)
	if draft.Stage == StageAwaitingPrompt {
		b.handlePrompt(ctx, msg, draft)
		return
	}
	b.sendText(msg.Chat.ID, "Выберите режим: /video, /photo, /voice или /morph.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	user, _, err := b.ensureUser(ctx, msg)
	if err != nil {
		b.log.Error("ensure user", "command", msg.Command(), "err", err)
		return
	}

	switch msg.Command() {
	case "start":
		text := fmt.Sprintf(
			"Привет, %s!\n\nЯ генерирую видео, фото и голосовые клипы.\n\nКоманды:\n/video — оживить фото\n/photo — стилизовать фото\n/voice — голосовой клип\n/morph — морфинг двух фото\n/balance — баланс\n/buy — купить кредиты\n/history — последние операции",
			user.FirstName,
		)
		b.sendText(msg.Chat.ID, text)
	case "video":
		b.startDraft(msg.Chat.ID, models.ModeVideo, models.VariantStandard)
	case "photo":
		b.startDraft(msg.Chat.ID, models.ModePhoto, models.VariantStandard)
	case "voice":
		b.startDraft(msg.Chat.ID, models.ModeVoice, models.VariantStandard)
	case "morph":
		b.startDraft(msg.Chat.ID, models.ModeVideo, models.VariantMorph)
	case "balance":
		b.sendText(msg.Chat.ID, fmt.Sprintf("Баланс: %d кредитов", user.Balance))
	case "buy":
		if err := b.payments.SendInvoice(ctx, b.api, user, msg.Chat.ID); err != nil {
			b.log.Error("send invoice", "err", err)
			b.sendText(msg.Chat.ID, "Не удалось отправить счет. Попробуйте позже.")
		}
	case "history":
		b.handleHistory(ctx, user, msg.Chat.ID)
	case "cancel":
		b.state.Reset(msg.Chat.ID)
		b.sendText(msg.Chat.ID, "Черновик сброшен.")
	default:
		b.sendText(msg.Chat.ID, "Неизвестная команда. Начните с /video, /photo, /voice или /morph.")
	}
}

// startDraft opens a draft for the mode and asks the user to pick a model
// when the catalog has more than one.
func (b *Bot) startDraft(chatID int64, mode models.OperationMode, variant models.Variant) {
	var options []catalog.ModelConfig
	for _, cfg := range b.catalog.List() {
		if cfg.Mode != mode {
			continue
		}
		if variant == models.VariantMorph && !cfg.SupportsMorph {
			continue
		}
		options = append(options, cfg)
	}
	if len(options) == 0 {
		b.sendText(chatID, "Этот режим сейчас недоступен.")
		return
	}

	draft := &Draft{Stage: StageAwaitingModel, Mode: mode, Variant: variant}
	if len(options) == 1 {
		draft.ModelKey = options[0].Key
		b.advanceAfterModel(chatID, draft)
		return
	}
	b.state.Set(chatID, draft)

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, opt := range options {
		label := fmt.Sprintf("%s — %d кр.", opt.Title, opt.Price)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(label, "model:"+opt.Key)))
	}
	kbMsg := tgbotapi.NewMessage(chatID, "Выберите модель:")
	kbMsg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(kbMsg); err != nil {
		b.log.Error("send keyboard", "err", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	// Telegram omits the message for callbacks on messages too old to
	// reference; there is no chat to act on then.
	if cb.Message == nil {
		b.answerCallback(cb.ID, "")
		return
	}
	data := cb.Data
	if !strings.HasPrefix(data, "model:") {
		b.answerCallback(cb.ID, "Неизвестный выбор")
		return
	}

	chatID := cb.Message.Chat.ID
	draft := b.state.Get(chatID)
	// A button pressed outside the selection step belongs to an old,
	// already resolved keyboard.
	if draft.Stage != StageAwaitingModel {
		b.answerCallback(cb.ID, "Кнопка устарела, начните заново: /video, /photo, /voice или /morph.")
		return
	}

	key := strings.TrimPrefix(data, "model:")
	if _, err := b.catalog.Lookup(key); err != nil {
		b.answerCallback(cb.ID, "Модель недоступна")
		return
	}

	draft.ModelKey = key
	b.answerCallback(cb.ID, "Модель выбрана")
	b.advanceAfterModel(chatID, draft)
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.log.Error("callback ack", "err", err)
	}
}

func (b *Bot) advanceAfterModel(chatID int64, draft *Draft) {
	switch {
	case draft.Variant == models.VariantMorph:
		draft.Stage = StageAwaitingMorphA
		b.sendText(chatID, "Пришлите первое фото.")
	case draft.Mode == models.ModeVoice:
		draft.Stage = StageAwaitingPrompt
		b.sendText(chatID, "Отправьте текст для озвучки.")
	default:
		draft.Stage = StageAwaitingSource
		b.sendText(chatID, "Пришлите исходное фото.")
	}
	b.state.Set(chatID, draft)
}

func (b *Bot) handleImage(ctx context.Context, msg *tgbotapi.Message) error {
	draft := b.state.Get(msg.Chat.ID)
	switch draft.Stage {
	case StageAwaitingSource, StageAwaitingMorphA, StageAwaitingMorphB:
	default:
		b.sendText(msg.Chat.ID, "Сначала выберите режим: /video, /photo или /morph.")
		return nil
	}

	url, err := b.uploadIncomingImage(ctx, msg)
	if err != nil {
		return err
	}

	switch draft.Stage {
	case StageAwaitingSource:
		draft.SourceURL = url
		draft.Stage = StageAwaitingPrompt
		b.sendText(msg.Chat.ID, "Фото сохранено. Теперь отправьте промпт.")
	case StageAwaitingMorphA:
		draft.MorphAURL = url
		draft.Stage = StageAwaitingMorphB
		b.sendText(msg.Chat.ID, "Первое фото сохранено. Пришлите второе.")
	case StageAwaitingMorphB:
		draft.MorphBURL = url
		b.state.Set(msg.Chat.ID, draft)
		b.submitDraft(ctx, msg, draft)
		return nil
	}
	b.state.Set(msg.Chat.ID, draft)
	return nil
}

func (b *Bot) handlePrompt(ctx context.Context, msg *tgbotapi.Message, draft *Draft) {
	if strings.TrimSpace(msg.Text) == "" {
		b.sendText(msg.Chat.ID, "Промпт не может быть пустым.")
		return
	}
	draft.Prompt = msg.Text
	b.submitDraft(ctx, msg, draft)
}

// submitDraft freezes the draft into an OperationRequest value and hands it
// to the dispatcher. The pipeline reports back to the chat on its own.
func (b *Bot) submitDraft(ctx context.Context, msg *tgbotapi.Message, draft *Draft) {
	user, _, err := b.ensureUser(ctx, msg)
	if err != nil {
		b.log.Error("ensure user submit", "err", err)
		return
	}

	req := models.OperationRequest{
		UserID:     user.ID,
		TelegramID: user.TelegramID,
		ChatID:     msg.Chat.ID,
		BotName:    user.BotName,
		Locale:     user.Locale,
		Mode:       draft.Mode,
		Variant:    draft.Variant,
		ModelKey:   draft.ModelKey,
		Prompt:     draft.Prompt,
		SourceURL:  draft.SourceURL,
		MorphAURL:  draft.MorphAURL,
		MorphBURL:  draft.MorphBURL,
	}
	b.state.Reset(msg.Chat.ID)

	if err := b.queue.EnqueueOperation(ctx, req); err != nil {
		b.log.Error("enqueue operation", "err", err)
		b.sendText(msg.Chat.ID, notify.OperationFailed(user.Locale))
		return
	}
	b.sendText(msg.Chat.ID, notify.OperationStarted(user.Locale))
}

func (b *Bot) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) {
	user, _, err := b.ensureUser(ctx, msg)
	if err != nil {
		b.log.Error("ensure user payment", "err", err)
		return
	}
	tx, err := b.payments.HandleSuccessfulPayment(ctx, user, msg.SuccessfulPayment)
	if err != nil {
		b.log.Error("process successful payment", "err", err)
		b.sendText(msg.Chat.ID, "Оплата получена, но зачисление задерживается. Проверьте /balance чуть позже.")
		return
	}
	refreshed, err := b.users.FindByTelegramID(ctx, user.TelegramID)
	newBalance := user.Balance + tx.Amount
	if err == nil && refreshed != nil {
		newBalance = refreshed.Balance
	}
	b.sendText(msg.Chat.ID, notify.PaymentReceived(user.Locale, tx.Amount, newBalance))
}

func (b *Bot) handleHistory(ctx context.Context, user *models.User, chatID int64) {
	txs, err := b.users.RecentTransactions(ctx, user.ID, 10)
	if err != nil {
		b.log.Error("list history", "err", err)
		b.sendText(chatID, "Не удалось получить историю.")
		return
	}
	if len(txs) == 0 {
		b.sendText(chatID, "Операций пока нет.")
		return
	}
	var sb strings.Builder
	sb.WriteString("Последние операции:\n")
	for _, tx := range txs {
		sign := "+"
		if tx.Direction == models.DirectionExpense {
			sign = "-"
		}
		sb.WriteString(fmt.Sprintf("%s%d  %s  %s\n", sign, tx.Amount, tx.ServiceType, tx.CreatedAt.Format("02.01 15:04")))
	}
	b.sendText(chatID, sb.String())
}

func (b *Bot) uploadIncomingImage(ctx context.Context, msg *tgbotapi.Message) (string, error) {
	var fileID string
	contentType := "image/jpeg"

	switch {
	case len(msg.Photo) > 0:
		photo := msg.Photo[len(msg.Photo)-1]
		fileID = photo.FileID
	case msg.Document != nil:
		if mt := strings.ToLower(msg.Document.MimeType); mt != "" && !strings.HasPrefix(mt, "image/") {
			return "", errNotImage
		}
		fileID = msg.Document.FileID
		if msg.Document.MimeType != "" {
			contentType = msg.Document.MimeType
		}
	default:
		return "", errNotImage
	}

	data, detectedType, err := b.downloadFile(ctx, fileID)
	if err != nil {
		return "", err
	}
	if detectedType != "" {
		contentType = detectedType
	}

	url, _, err := b.storage.Upload(ctx, data, contentType)
	if err != nil {
		return "", err
	}
	return url, nil
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("get file: %w", err)
	}
	if file.FilePath == "" {
		return nil, "", fmt.Errorf("file path empty")
	}
	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", b.api.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("telegram file status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read file body: %w", err)
	}
	ct, err := normalizeImageContentType(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, "", err
	}
	return body, ct, nil
}

func (b *Bot) ensureUser(ctx context.Context, msg *tgbotapi.Message) (*models.User, bool, error) {
	from := msg.From
	username, firstName, lastName, locale := "", "", "", ""
	telegramID := msg.Chat.ID
	if from != nil {
		telegramID = int64(from.ID)
		username = from.UserName
		firstName = from.FirstName
		lastName = from.LastName
		locale = from.LanguageCode
	}
	return b.users.Ensure(ctx, telegramID, username, firstName, lastName, locale)
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "err", err)
	}
}

func normalizeImageContentType(headerCT string, data []byte) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(headerCT))
	if idx := strings.Index(ct, ";"); idx > 0 {
		ct = ct[:idx]
	}
	if ct == "" || ct == "application/octet-stream" || !strings.HasPrefix(ct, "image/") {
		if len(data) > 0 {
			ct = http.DetectContentType(data)
			if idx := strings.Index(ct, ";"); idx > 0 {
				ct = ct[:idx]
			}
		}
	}

	switch ct {
	case "image/jpeg", "image/jpg":
		return "image/jpeg", nil
	case "image/png":
		return "image/png", nil
	case "image/webp":
		return "image/webp", nil
	default:
		return "", errNotImage
	}
}
