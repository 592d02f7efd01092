package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/appointly/internal/verification/domain"
	"github.com/smallbiznis/appointly/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const selectColumns = `SELECT id, user_id, email, otp_hash, is_verified, otp_created_at, otp_expiry,
	attempts, max_attempts, verified_at, created_at, updated_at
	FROM email_verifications`

func (r *repo) Find(ctx context.Context, conn *gorm.DB, userID, email string) (*domain.EmailVerification, error) {
	var v domain.EmailVerification
	err := conn.WithContext(ctx).Raw(
		selectColumns+` WHERE user_id = ? AND email = ?`,
		userID,
		email,
	).Scan(&v).Error
	if err != nil {
		return nil, err
	}
	if v.ID == "" {
		return nil, nil
	}
	return &v, nil
}

func (r *repo) FindForUpdate(ctx context.Context, tx *gorm.DB, userID, email string) (*domain.EmailVerification, error) {
	var v domain.EmailVerification
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("user_id = ? AND email = ?", userID, email).
		Take(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

func (r *repo) Upsert(ctx context.Context, conn *gorm.DB, v *domain.EmailVerification) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO email_verifications (
			id, user_id, email, otp_hash, is_verified, otp_created_at, otp_expiry,
			attempts, max_attempts, verified_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, FALSE, ?, ?, 0, ?, NULL, ?, ?)
		ON CONFLICT (user_id, email) DO UPDATE SET
			otp_hash = excluded.otp_hash,
			is_verified = FALSE,
			otp_created_at = excluded.otp_created_at,
			otp_expiry = excluded.otp_expiry,
			attempts = 0,
			max_attempts = excluded.max_attempts,
			verified_at = NULL,
			updated_at = excluded.updated_at`,
		v.ID,
		v.UserID,
		v.Email,
		v.OTPHash,
		v.OTPCreatedAt,
		v.OTPExpiry,
		v.MaxAttempts,
		v.CreatedAt,
		v.UpdatedAt,
	).Error
}

func (r *repo) UpdateProgress(ctx context.Context, conn *gorm.DB, v *domain.EmailVerification) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE email_verifications
		 SET attempts = ?, is_verified = ?, verified_at = ?, updated_at = ?
		 WHERE id = ?`,
		v.Attempts,
		v.IsVerified,
		v.VerifiedAt,
		v.UpdatedAt,
		v.ID,
	).Error
}
