package models

import "time"

// User identifies an author by email. The verification token is single-use:
// once Verified flips true the token fields are cleared and never reused.
type User struct {
	ID                  int64
	Name                string
	Surname             string
	Email               string
	Verified            bool
	VerificationToken   *string
	VerificationExpires *time.Time
	CreatedAt           time.Time
}

// TokenValid reports whether the verification token can still be consumed.
func (u User) TokenValid(now time.Time) bool {
	return !u.Verified &&
		u.VerificationToken != nil &&
		u.VerificationExpires != nil &&
		now.Before(*u.VerificationExpires)
}
