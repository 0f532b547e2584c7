package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"plantscan/api/internal/models"
)

var ErrResetTokenNotFound = errors.New("reset token not found")

type ResetTokenRepository struct {
	db DB
}

func NewResetTokenRepository(db DB) *ResetTokenRepository {
	return &ResetTokenRepository{db: db}
}

// Replace stores reset and drops every earlier token of the same user, so at
// most one token is outstanding per user.
func (r *ResetTokenRepository) Replace(ctx context.Context, reset models.PasswordReset) error {
	return withTx(ctx, r.db, func(tx pgx.Tx) error {
		const deleteQuery = `DELETE FROM password_resets WHERE user_id = $1`
		if _, err := tx.Exec(ctx, deleteQuery, reset.UserID); err != nil {
			return err
		}

		const insertQuery = `
			INSERT INTO password_resets (id, user_id, token_hash, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5)
		`
		_, err := tx.Exec(ctx, insertQuery,
			reset.ID,
			reset.UserID,
			reset.TokenHash,
			reset.CreatedAt,
			reset.ExpiresAt,
		)
		return err
	})
}

// Consume spends the unexpired token matching tokenHash and sets the owner's
// password in the same transaction. All of the owner's tokens are removed.
func (r *ResetTokenRepository) Consume(ctx context.Context, tokenHash []byte, now time.Time, passwordHash []byte) (string, error) {
	var userID string
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		const consumeQuery = `
			DELETE FROM password_resets
			WHERE token_hash = $1 AND expires_at > $2
			RETURNING user_id
		`
		if err := tx.QueryRow(ctx, consumeQuery, tokenHash, now).Scan(&userID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrResetTokenNotFound
			}
			return err
		}

		const passwordQuery = `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`
		cmd, err := tx.Exec(ctx, passwordQuery, userID, passwordHash)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrUserNotFound
		}

		const cleanupQuery = `DELETE FROM password_resets WHERE user_id = $1`
		_, err = tx.Exec(ctx, cleanupQuery, userID)
		return err
	})
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (r *ResetTokenRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM password_resets WHERE expires_at <= $1`
	cmd, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
