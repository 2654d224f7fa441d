package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"revista-press/internal/models"
)

// GetUserByEmail fetches a user by unique email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, surname, email, email_verified, verification_token, verification_expires, created_at
		FROM users WHERE email = $1
	`, email)
	return scanUser(row)
}

// CreateUser inserts a new unverified user and fills in the assigned id.
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (name, surname, email, email_verified, verification_token, verification_expires, created_at)
		VALUES ($1, $2, $3, FALSE, $4, $5, NOW())
		RETURNING id, created_at
	`, u.Name, u.Surname, u.Email, u.VerificationToken, u.VerificationExpires).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// ConsumeVerificationToken flips email_verified and clears the token fields
// in one conditional statement. It reports whether a row was updated; an
// expired, already-consumed, or unknown token leaves no trace of which case
// applied.
func (s *Store) ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET email_verified = TRUE, verification_token = NULL, verification_expires = NULL
		WHERE verification_token = $1 AND email_verified = FALSE AND verification_expires > $2
	`, token, now)
	if err != nil {
		return false, fmt.Errorf("consume verification token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

type userRow interface {
	Scan(dest ...any) error
}

func scanUser(row userRow) (models.User, error) {
	var u models.User
	var token pgtype.Text
	var expires pgtype.Timestamptz

	err := row.Scan(&u.ID, &u.Name, &u.Surname, &u.Email, &u.Verified, &token, &expires, &u.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("scan user: %w", err)
	}
	u.VerificationToken = textPtr(token)
	if expires.Valid {
		t := expires.Time
		u.VerificationExpires = &t
	}
	return u, nil
}
