package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// EmailVerification is the one live OTP record for a (user, email) pair.
type EmailVerification struct {
	ID           string     `json:"id" gorm:"primaryKey"`
	UserID       string     `json:"user_id" gorm:"not null"`
	Email        string     `json:"email" gorm:"not null"`
	OTPHash      string     `json:"-" gorm:"column:otp_hash;not null"`
	IsVerified   bool       `json:"is_verified" gorm:"not null"`
	OTPCreatedAt time.Time  `json:"otp_created_at" gorm:"column:otp_created_at;not null"`
	OTPExpiry    time.Time  `json:"otp_expiry" gorm:"column:otp_expiry;not null"`
	Attempts     int        `json:"attempts" gorm:"not null"`
	MaxAttempts  int        `json:"max_attempts" gorm:"not null"`
	VerifiedAt   *time.Time `json:"verified_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (EmailVerification) TableName() string { return "email_verifications" }

type State string

const (
	StateUnverified State = "UNVERIFIED"
	StateVerified   State = "VERIFIED"
	StateLocked     State = "LOCKED"
	StateExpired    State = "EXPIRED"
)

// State derives the verification state at now.
func (v EmailVerification) State(now time.Time) State {
	switch {
	case v.IsVerified:
		return StateVerified
	case v.Attempts >= v.MaxAttempts:
		return StateLocked
	case !now.Before(v.OTPExpiry):
		return StateExpired
	default:
		return StateUnverified
	}
}

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, userID, email string) (*EmailVerification, error)
	FindForUpdate(ctx context.Context, tx *gorm.DB, userID, email string) (*EmailVerification, error)
	// Upsert stores a fresh code, resetting attempts and the verified flag of
	// an existing record.
	Upsert(ctx context.Context, db *gorm.DB, v *EmailVerification) error
	UpdateProgress(ctx context.Context, db *gorm.DB, v *EmailVerification) error
}

type Kind string

const (
	KindInvalidCode     Kind = "invalid_code"
	KindLocked          Kind = "locked"
	KindExpired         Kind = "expired"
	KindNotIssued       Kind = "not_issued"
	KindCooldown        Kind = "cooldown_active"
	KindAlreadyVerified Kind = "already_verified"
)

// Result reports the outcome of an OTP operation. Rejections are results;
// errors are reserved for infrastructure failures.
type Result struct {
	Success  bool   `json:"success"`
	Verified bool   `json:"verified"`
	Message  string `json:"message"`
	Kind     Kind   `json:"-"`
	// Remaining is set after a wrong guess.
	Remaining  *int          `json:"remaining_attempts,omitempty"`
	RetryAfter time.Duration `json:"-"`
	ExpiresAt  *time.Time    `json:"expires_at,omitempty"`
}

type Service interface {
	Issue(ctx context.Context, userID, email string) (Result, error)
	Verify(ctx context.Context, userID, email, otp string) (Result, error)
	Resend(ctx context.Context, userID, email string) (Result, error)
}

var (
	ErrInvalidUser  = errors.New("invalid_user")
	ErrInvalidEmail = errors.New("invalid_email")
)
