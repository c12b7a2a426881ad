package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/nightreel/reelforge/internal/config"
	"github.com/nightreel/reelforge/internal/dispatch"
	"github.com/nightreel/reelforge/internal/models"
)

// EventQueue is the producer side of the dispatcher: enqueue returns when
// the event is queued, never when it is handled.
type EventQueue interface {
	EnqueuePayment(ctx context.Context, event models.PaymentEvent) error
}

// PaymentService turns provider payment callbacks into ledger events. Both
// ingestion paths funnel through the dispatcher so the credit itself always
// happens in the idempotent handler.
type PaymentService struct {
	cfg    config.Config
	queue  EventQueue
	ledger dispatch.LedgerReader
	client *http.Client
}

func NewPaymentService(cfg config.Config, queue EventQueue, ledger dispatch.LedgerReader) *PaymentService {
	return &PaymentService{
		cfg:    cfg,
		queue:  queue,
		ledger: ledger,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SendInvoice offers the configured top-up package. Native Telegram payments
// when a provider token is configured, otherwise a card-gateway link.
func (s *PaymentService) SendInvoice(ctx context.Context, bot *tgbotapi.BotAPI, user *models.User, chatID int64) error {
	if s.cfg.TelegramPaymentProviderToken != "" {
		return s.sendTelegramInvoice(bot, chatID)
	}
	if s.cfg.GatewayShopID != "" {
		return s.sendGatewayPayment(ctx, bot, user, chatID)
	}
	return fmt.Errorf("no payment provider configured")
}

func (s *PaymentService) sendTelegramInvoice(bot *tgbotapi.BotAPI, chatID int64) error {
	prices := []tgbotapi.LabeledPrice{
		{
			Label:  fmt.Sprintf("%d кредитов", s.cfg.TopUpCredits),
			Amount: s.cfg.TopUpPriceMinorUnits,
		},
	}

	payload, _ := json.Marshal(map[string]any{
		"credits": s.cfg.TopUpCredits,
	})

	invoice := tgbotapi.NewInvoice(chatID,
		"Пакет кредитов",
		"Пополнение баланса генераций",
		string(payload),
		s.cfg.TelegramPaymentProviderToken,
		"topup",
		s.cfg.PaymentCurrency,
		prices,
	)

	if _, err := bot.Send(invoice); err != nil {
		return fmt.Errorf("send invoice: %w", err)
	}
	return nil
}

func (s *PaymentService) HandlePreCheckout(bot *tgbotapi.BotAPI, query *tgbotapi.PreCheckoutQuery) error {
	response := tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: query.ID,
		OK:                 true,
	}
	if _, err := bot.Request(response); err != nil {
		return fmt.Errorf("answer pre-checkout: %w", err)
	}
	return nil
}

// HandleSuccessfulPayment queues the credit keyed by the provider charge id
// and waits for it to settle in the ledger. Telegram may redeliver the
// update; the charge id makes that a no-op.
func (s *PaymentService) HandleSuccessfulPayment(ctx context.Context, user *models.User, payment *tgbotapi.SuccessfulPayment) (*models.Transaction, error) {
	invoiceID := payment.ProviderPaymentChargeID
	if invoiceID == "" {
		return nil, fmt.Errorf("successful payment missing provider charge id")
	}

	event := models.PaymentEvent{
		TelegramID:  user.TelegramID,
		BotName:     user.BotName,
		Amount:      s.cfg.TopUpCredits,
		Direction:   models.DirectionIncome,
		InvoiceID:   "tg-" + invoiceID,
		ServiceType: models.ServiceTopUp,
		Category:    models.CategoryReal,
	}
	if err := s.queue.EnqueuePayment(ctx, event); err != nil {
		return nil, fmt.Errorf("queue telegram payment: %w", err)
	}

	tx, err := dispatch.WaitForSettlement(ctx, s.ledger, event.InvoiceID, s.cfg.SettlementTimeout)
	if err != nil {
		return nil, fmt.Errorf("settle telegram payment: %w", err)
	}
	return tx, nil
}

type gatewayPaymentResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Confirmation struct {
		Type string `json:"type"`
		URL  string `json:"confirmation_url"`
	} `json:"confirmation"`
}

func (s *PaymentService) sendGatewayPayment(ctx context.Context, bot *tgbotapi.BotAPI, user *models.User, chatID int64) error {
	payment, err := s.createGatewayPayment(ctx, user)
	if err != nil {
		return err
	}

	text := fmt.Sprintf("Оплата картой:\nСумма: %.2f %s\nСсылка: %s\nКредиты будут зачислены автоматически после оплаты.",
		float64(s.cfg.TopUpPriceMinorUnits)/100, s.cfg.PaymentCurrency, payment.Confirmation.URL)
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := bot.Send(msg); err != nil {
		return fmt.Errorf("send payment link: %w", err)
	}
	return nil
}

// createGatewayPayment carries the user identity in payment metadata so the
// webhook can route the credit without a local pending-payment table.
func (s *PaymentService) createGatewayPayment(ctx context.Context, user *models.User) (*gatewayPaymentResponse, error) {
	if s.cfg.GatewayShopID == "" || s.cfg.GatewaySecretKey == "" {
		return nil, fmt.Errorf("gateway credentials are not configured")
	}

	value := fmt.Sprintf("%.2f", float64(s.cfg.TopUpPriceMinorUnits)/100)
	returnURL := s.cfg.GatewayReturnURL
	if returnURL == "" {
		returnURL = "https://t.me"
	}

	payload := map[string]any{
		"amount": map[string]string{
			"value":    value,
			"currency": s.cfg.PaymentCurrency,
		},
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": returnURL,
		},
		"description": fmt.Sprintf("%d credits", s.cfg.TopUpCredits),
		"metadata": map[string]string{
			"telegram_id": strconv.FormatInt(user.TelegramID, 10),
			"bot_name":    user.BotName,
		},
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.yookassa.ru/v3/payments", strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", uuid.NewString())
	req.SetBasicAuth(s.cfg.GatewayShopID, s.cfg.GatewaySecretKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	var parsed gatewayPaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode gateway response: %w", err)
	}
	if parsed.ID == "" || parsed.Confirmation.URL == "" {
		return nil, fmt.Errorf("invalid gateway response (missing id or confirmation url)")
	}
	return &parsed, nil
}

type gatewayWebhookEvent struct {
	Event  string `json:"event"`
	Object struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Metadata struct {
			TelegramID string `json:"telegram_id"`
			BotName    string `json:"bot_name"`
		} `json:"metadata"`
	} `json:"object"`
}

// HandleGatewayWebhook maps a gateway status callback to a ledger event.
// The gateway payment id is the invoice id, so replayed callbacks cannot
// double-credit.
func (s *PaymentService) HandleGatewayWebhook(ctx context.Context, payload []byte) error {
	var evt gatewayWebhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("parse webhook: %w", err)
	}
	if evt.Object.ID == "" {
		return fmt.Errorf("webhook missing payment id")
	}
	if evt.Object.Status != "succeeded" {
		// Cancellations and failures never reached the ledger; nothing to do.
		return nil
	}

	telegramID, err := strconv.ParseInt(evt.Object.Metadata.TelegramID, 10, 64)
	if err != nil || telegramID == 0 {
		return fmt.Errorf("webhook missing telegram id metadata")
	}
	botName := evt.Object.Metadata.BotName
	if botName == "" {
		botName = s.cfg.BotName
	}

	event := models.PaymentEvent{
		TelegramID:  telegramID,
		BotName:     botName,
		Amount:      s.cfg.TopUpCredits,
		Direction:   models.DirectionIncome,
		InvoiceID:   "gw-" + evt.Object.ID,
		ServiceType: models.ServiceTopUp,
		Category:    models.CategoryReal,
	}
	if err := s.queue.EnqueuePayment(ctx, event); err != nil {
		return fmt.Errorf("queue gateway payment: %w", err)
	}
	return nil
}
