// internal/infra/database/postgres_user_directory.go
package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Custom errors
var ErrUserNotFound = fmt.Errorf("user not found")

// PostgresUserDirectory resolves delivery addresses from the users table.
type PostgresUserDirectory struct {
	db *sql.DB
}

func NewPostgresUserDirectory(db *sql.DB) *PostgresUserDirectory {
	return &PostgresUserDirectory{db: db}
}

func (d *PostgresUserDirectory) EmailForUser(ctx context.Context, userID int64) (string, error) {
	query := `SELECT email FROM users WHERE id = $1 AND email IS NOT NULL`
	var email string
	err := d.db.QueryRowContext(ctx, query, userID).Scan(&email)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("error resolving email for user %d: %w", userID, err)
	}
	return email, nil
}

func (d *PostgresUserDirectory) ChatIDForUser(ctx context.Context, userID int64) (int64, error) {
	query := `SELECT telegram_chat_id FROM users WHERE id = $1 AND telegram_chat_id IS NOT NULL`
	var chatID int64
	err := d.db.QueryRowContext(ctx, query, userID).Scan(&chatID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("error resolving chat ID for user %d: %w", userID, err)
	}
	return chatID, nil
}
