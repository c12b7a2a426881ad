package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nightreel/reelforge/internal/billing"
	"github.com/nightreel/reelforge/internal/catalog"
	"github.com/nightreel/reelforge/internal/models"
	"github.com/nightreel/reelforge/internal/notify"
	"github.com/nightreel/reelforge/internal/provider"
)

// Pipeline step names, used in admin escalations.
const (
	stepDebit    = "debit"
	stepProvider = "provider"
	stepPersist  = "persist"
	stepNotify   = "notify"
)

type ProviderClient interface {
	Invoke(ctx context.Context, req provider.Request) (*provider.Result, error)
}

type ArtifactStorage interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
	Upload(ctx context.Context, data []byte, contentType string) (publicURL string, key string, err error)
}

type ArtifactStore interface {
	Create(ctx context.Context, artifact *models.Artifact) error
}

type BalanceEngine interface {
	GetBalance(ctx context.Context, userID int64) (int64, error)
	Credit(ctx context.Context, p billing.CreditParams) (*models.Transaction, error)
	Debit(ctx context.Context, p billing.DebitParams) (*billing.DebitResult, error)
}

// OperationService turns a validated, priced operation request into a
// delivered artifact, charging exactly once. The pipeline is linear:
// validate, resolve price, debit, invoke provider, persist artifact,
// notify. Any step after the debit fails the operation with an admin
// escalation; whether the charge is then returned is an explicit policy
// (RefundOnFailure), not an accident.
type OperationService struct {
	log             *slog.Logger
	catalog         *catalog.Catalog
	balance         BalanceEngine
	provider        ProviderClient
	storage         ArtifactStorage
	artifacts       ArtifactStore
	sink            notify.Sink
	refundOnFailure bool
}

func NewOperationService(
	log *slog.Logger,
	cat *catalog.Catalog,
	balance BalanceEngine,
	providerClient ProviderClient,
	storage ArtifactStorage,
	artifacts ArtifactStore,
	sink notify.Sink,
	refundOnFailure bool,
) *OperationService {
	return &OperationService{
		log:             log,
		catalog:         cat,
		balance:         balance,
		provider:        providerClient,
		storage:         storage,
		artifacts:       artifacts,
		sink:            sink,
		refundOnFailure: refundOnFailure,
	}
}

// Run executes one operation end to end and returns the persisted artifact.
func (s *OperationService) Run(ctx context.Context, req models.OperationRequest) (*models.Artifact, error) {
	cfg, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	price := cfg.Price

	debit, err := s.balance.Debit(ctx, billing.DebitParams{
		UserID:      req.UserID,
		BotName:     req.BotName,
		Amount:      price,
		ServiceType: serviceTypeForMode(cfg.Mode),
	})
	if err != nil {
		if errors.Is(err, billing.ErrInsufficientFunds) {
			// A user hitting the paywall is an operational event worth
			// auditing, not just a user error.
			s.sink.NotifyAdmin(ctx, s.adminContext(req, stepDebit), err)
			s.sendText(ctx, req.ChatID, notify.InsufficientFunds(req.Locale))
			return nil, err
		}
		s.sink.NotifyAdmin(ctx, s.adminContext(req, stepDebit), err)
		return nil, fmt.Errorf("debit: %w", err)
	}

	result, err := s.provider.Invoke(ctx, provider.Request{
		Model:     cfg.ProviderModel,
		Prompt:    req.Prompt,
		InputURLs: providerInputs(req),
	})
	if err != nil {
		s.failAfterCharge(ctx, req, debit, stepProvider, err)
		return nil, fmt.Errorf("provider invoke: %w", err)
	}

	artifact, err := s.persistArtifact(ctx, req, cfg, debit, result)
	if err != nil {
		s.failAfterCharge(ctx, req, debit, stepPersist, err)
		return nil, fmt.Errorf("persist artifact: %w", err)
	}

	// Delivery failures do not invalidate a completed operation.
	caption := notify.OperationSucceeded(req.Locale, debit.Charged, debit.NewBalance)
	if err := s.sink.SendMedia(ctx, req.ChatID, artifact.StoredURL, cfg.Mode, caption); err != nil {
		s.log.Error("deliver artifact", "step", stepNotify, "user_id", req.UserID, "err", err)
	}

	s.log.Info("operation completed",
		"user_id", req.UserID,
		"model_key", cfg.Key,
		"invoice_id", debit.Transaction.InvoiceID,
		"charged", debit.Charged,
		"new_balance", debit.NewBalance,
	)
	return artifact, nil
}

// validate fails fast on caller input before any side effect; it does not
// even read the user.
func (s *OperationService) validate(req models.OperationRequest) (catalog.ModelConfig, error) {
	cfg, err := s.catalog.Lookup(req.ModelKey)
	if err != nil {
		return catalog.ModelConfig{}, validationErrorf("unknown model key %q", req.ModelKey)
	}
	if req.Mode != cfg.Mode {
		return catalog.ModelConfig{}, validationErrorf("model %q serves mode %s, not %s", cfg.Key, cfg.Mode, req.Mode)
	}

	switch req.Variant {
	case models.VariantStandard, "":
		if req.Mode == models.ModeVoice {
			if req.Prompt == "" {
				return catalog.ModelConfig{}, validationErrorf("voice mode requires a prompt")
			}
			break
		}
		if req.SourceURL == "" {
			return catalog.ModelConfig{}, validationErrorf("%s mode requires a source image", req.Mode)
		}
		if req.Prompt == "" {
			return catalog.ModelConfig{}, validationErrorf("%s mode requires a prompt", req.Mode)
		}
	case models.VariantMorph:
		if !cfg.SupportsMorph {
			return catalog.ModelConfig{}, validationErrorf("model %q does not support the morph variant", cfg.Key)
		}
		if req.MorphAURL == "" || req.MorphBURL == "" {
			return catalog.ModelConfig{}, validationErrorf("morph variant requires both images")
		}
	default:
		return catalog.ModelConfig{}, validationErrorf("unknown variant %q", req.Variant)
	}

	return cfg, nil
}

func (s *OperationService) persistArtifact(ctx context.Context, req models.OperationRequest, cfg catalog.ModelConfig, debit *billing.DebitResult, result *provider.Result) (*models.Artifact, error) {
	sourceURL := result.URLs[0]
	data, contentType, err := s.storage.Fetch(ctx, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("fetch result: %w", err)
	}
	storedURL, storedKey, err := s.storage.Upload(ctx, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("store result: %w", err)
	}

	artifact := &models.Artifact{
		UserID:    req.UserID,
		InvoiceID: debit.Transaction.InvoiceID,
		ModelKey:  cfg.Key,
		SourceURL: sourceURL,
		StoredKey: storedKey,
		StoredURL: storedURL,
	}
	if err := s.artifacts.Create(ctx, artifact); err != nil {
		return nil, fmt.Errorf("record artifact: %w", err)
	}
	return artifact, nil
}

// failAfterCharge handles every post-debit failure: exactly one admin
// escalation, a short localized user message, and the configured refund
// policy. The original error is returned to the caller by Run.
func (s *OperationService) failAfterCharge(ctx context.Context, req models.OperationRequest, debit *billing.DebitResult, step string, cause error) {
	s.sink.NotifyAdmin(ctx, s.adminContext(req, step), cause)
	s.sendText(ctx, req.ChatID, notify.OperationFailed(req.Locale))

	if !s.refundOnFailure {
		return
	}
	// Compensating credit keyed to the charge invoice: redelivery or a
	// double failure path cannot refund twice.
	_, err := s.balance.Credit(ctx, billing.CreditParams{
		UserID:      req.UserID,
		BotName:     req.BotName,
		Amount:      debit.Charged,
		InvoiceID:   "refund:" + debit.Transaction.InvoiceID,
		Category:    models.CategoryBonus,
		ServiceType: models.ServiceRefund,
	})
	if err != nil {
		s.log.Error("refund failed", "invoice_id", debit.Transaction.InvoiceID, "user_id", req.UserID, "err", err)
	}
}

func (s *OperationService) adminContext(req models.OperationRequest, step string) notify.AdminContext {
	return notify.AdminContext{
		UserID:     req.UserID,
		TelegramID: req.TelegramID,
		ModelKey:   req.ModelKey,
		Step:       step,
	}
}

func (s *OperationService) sendText(ctx context.Context, chatID int64, text string) {
	if err := s.sink.SendText(ctx, chatID, text); err != nil {
		s.log.Error("send text", "chat_id", chatID, "err", err)
	}
}

func providerInputs(req models.OperationRequest) []string {
	if req.Variant == models.VariantMorph {
		return []string{req.MorphAURL, req.MorphBURL}
	}
	if req.SourceURL != "" {
		return []string{req.SourceURL}
	}
	return nil
}

func serviceTypeForMode(mode models.OperationMode) models.ServiceType {
	switch mode {
	case models.ModeVideo:
		return models.ServiceVideo
	case models.ModeVoice:
		return models.ServiceVoice
	default:
		return models.ServicePhoto
	}
}
