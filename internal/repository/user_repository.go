package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nightreel/reelforge/internal/models"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindByTelegramID(ctx context.Context, telegramID int64, botName string) (*models.User, error) {
	const query = `
SELECT id, telegram_id, bot_name, COALESCE(username, ''), COALESCE(first_name, ''), COALESCE(last_name, ''), locale, balance, created_at, updated_at
FROM users WHERE telegram_id = ? AND bot_name = ?`
	row := r.db.QueryRowContext(ctx, query, telegramID, botName)
	var u models.User
	if err := row.Scan(&u.ID, &u.TelegramID, &u.BotName, &u.Username, &u.FirstName, &u.LastName, &u.Locale, &u.Balance, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	const query = `
SELECT id, telegram_id, bot_name, COALESCE(username, ''), COALESCE(first_name, ''), COALESCE(last_name, ''), locale, balance, created_at, updated_at
FROM users WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	var u models.User
	if err := row.Scan(&u.ID, &u.TelegramID, &u.BotName, &u.Username, &u.FirstName, &u.LastName, &u.Locale, &u.Balance, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	const query = `
INSERT INTO users (telegram_id, bot_name, username, first_name, last_name, locale)
VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?)`
	locale := user.Locale
	if locale == "" {
		locale = "ru"
	}
	res, err := r.db.ExecContext(ctx, query, user.TelegramID, user.BotName, user.Username, user.FirstName, user.LastName, locale)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	user.ID = id
	user.Locale = locale
	return user, nil
}

// UpdateProfile refreshes the Telegram-provided profile fields. Empty
// arguments keep the stored value: payment events and some update kinds
// carry no profile at all.
func (r *UserRepository) UpdateProfile(ctx context.Context, userID int64, username, firstName, lastName, locale string) error {
	const query = `
UPDATE users SET username = COALESCE(NULLIF(?, ''), username), first_name = COALESCE(NULLIF(?, ''), first_name), last_name = COALESCE(NULLIF(?, ''), last_name), locale = COALESCE(NULLIF(?, ''), locale), updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, username, firstName, lastName, locale, userID); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// Ensure finds the user for (telegramID, botName) or creates one on first
// contact. Profile fields of known users refresh in the background.
func (r *UserRepository) Ensure(ctx context.Context, telegramID int64, botName, username, firstName, lastName, locale string) (*models.User, bool, error) {
	user, err := r.FindByTelegramID(ctx, telegramID, botName)
	if err != nil {
		return nil, false, err
	}
	if user != nil {
		if username != "" || firstName != "" || lastName != "" || locale != "" {
			go func() {
				_ = r.UpdateProfile(context.Background(), user.ID, username, firstName, lastName, locale)
			}()
		}
		return user, false, nil
	}
	newUser := &models.User{
		TelegramID: telegramID,
		BotName:    botName,
		Username:   username,
		FirstName:  firstName,
		LastName:   lastName,
		Locale:     locale,
	}
	created, err := r.Create(ctx, newUser)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

func (r *UserRepository) ListTelegramIDs(ctx context.Context, botName string) ([]int64, error) {
	const query = `SELECT telegram_id FROM users WHERE bot_name = ?`
	rows, err := r.db.QueryContext(ctx, query, botName)
	if err != nil {
		return nil, fmt.Errorf("list telegram ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan telegram id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
