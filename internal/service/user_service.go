package service

import (
	"context"
	"fmt"

	"github.com/nightreel/reelforge/internal/models"
	"github.com/nightreel/reelforge/internal/repository"
)

type UserService struct {
	users   *repository.UserRepository
	ledger  *repository.LedgerRepository
	botName string
}

func NewUserService(users *repository.UserRepository, ledger *repository.LedgerRepository, botName string) *UserService {
	return &UserService{users: users, ledger: ledger, botName: botName}
}

func (s *UserService) Ensure(ctx context.Context, telegramID int64, username, firstName, lastName, locale string) (*models.User, bool, error) {
	user, created, err := s.users.Ensure(ctx, telegramID, s.botName, username, firstName, lastName, locale)
	if err != nil {
		return nil, false, fmt.Errorf("ensure user: %w", err)
	}
	return user, created, nil
}

func (s *UserService) FindByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	return s.users.FindByTelegramID(ctx, telegramID, s.botName)
}

func (s *UserService) FindByID(ctx context.Context, id int64) (*models.User, error) {
	return s.users.FindByID(ctx, id)
}

func (s *UserService) RecentTransactions(ctx context.Context, userID int64, limit int) ([]models.Transaction, error) {
	txs, err := s.ledger.TransactionsByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent transactions: %w", err)
	}
	return txs, nil
}

func (s *UserService) ListTelegramIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.users.ListTelegramIDs(ctx, s.botName)
	if err != nil {
		return nil, fmt.Errorf("list telegram ids: %w", err)
	}
	return ids, nil
}
