package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"revista-press/internal/models"
	"revista-press/internal/store"
)

// Store is the slice of persistence the registry needs.
type Store interface {
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (bool, error)
}

// Mailer delivers the verification message for newly created users.
type Mailer interface {
	SendVerification(ctx context.Context, email, name, token string) error
}

// Registry maps email addresses to author identities and handles the
// verification handshake.
type Registry struct {
	store    Store
	mailer   Mailer
	tokenTTL time.Duration
}

func New(st Store, m Mailer, tokenTTL time.Duration) *Registry {
	if tokenTTL == 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Registry{store: st, mailer: m, tokenTTL: tokenTTL}
}

// ResolveOrCreate looks a user up by email. An existing record is returned
// unchanged; name and surname on the request never overwrite an existing
// identity, so resubmitting under someone else's email cannot rename them.
// A new user gets a fresh token and one verification email.
func (r *Registry) ResolveOrCreate(ctx context.Context, email, name, surname string) (models.User, error) {
	existing, err := r.store.GetUserByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.User{}, fmt.Errorf("lookup user: %w", err)
	}

	token, err := newVerificationToken()
	if err != nil {
		return models.User{}, err
	}
	expires := time.Now().UTC().Add(r.tokenTTL)

	user := models.User{
		Name:                name,
		Surname:             surname,
		Email:               email,
		VerificationToken:   &token,
		VerificationExpires: &expires,
	}
	if err := r.store.CreateUser(ctx, &user); err != nil {
		return models.User{}, err
	}

	// Delivery is best-effort. A lost verification mail blocks notifications
	// for this user, not the submission itself.
	if err := r.mailer.SendVerification(ctx, email, name, token); err != nil {
		log.Printf("registry: verification mail for user=%d failed: %v", user.ID, err)
	}
	return user, nil
}

// Verify consumes a token. Unknown, expired, and already-used tokens are all
// reported as the same plain false so callers cannot probe token state.
func (r *Registry) Verify(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	return r.store.ConsumeVerificationToken(ctx, token, time.Now().UTC())
}

// newVerificationToken returns 256 bits from crypto/rand, hex encoded. Tokens
// double as bearer credentials in verification URLs, so predictability would
// be an account takeover.
func newVerificationToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
