package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/smallbiznis/appointly/internal/clock"
	"github.com/smallbiznis/appointly/internal/config"
	"github.com/smallbiznis/appointly/internal/idgen"
	"github.com/smallbiznis/appointly/internal/notification"
	"github.com/smallbiznis/appointly/internal/observability/metrics"
	"github.com/smallbiznis/appointly/internal/verification/domain"
	"github.com/smallbiznis/appointly/internal/verification/otp"
	"github.com/smallbiznis/appointly/pkg/validation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Policy    *config.PolicyHolder
	Repo      domain.Repository
	Notifier  notification.Notifier `optional:"true"`
	Metrics   *metrics.Metrics      `optional:"true"`
	Generator otp.Generator         `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	policy    *config.PolicyHolder
	repo      domain.Repository
	notifier  notification.Notifier
	metrics   *metrics.Metrics
	generator otp.Generator
}

func New(p Params) domain.Service {
	notifier := p.Notifier
	if notifier == nil {
		notifier = notification.Nop{}
	}
	generator := p.Generator
	if generator == nil {
		generator = otp.Random()
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("verification.service"),
		clock:     p.Clock,
		policy:    p.Policy,
		repo:      p.Repo,
		notifier:  notifier,
		metrics:   p.Metrics,
		generator: generator,
	}
}

func (s *Service) Issue(ctx context.Context, userID, email string) (domain.Result, error) {
	userID, email, err := normalize(userID, email)
	if err != nil {
		return domain.Result{}, err
	}

	existing, err := s.repo.Find(ctx, s.db, userID, email)
	if err != nil {
		return domain.Result{}, err
	}
	if existing != nil && existing.IsVerified {
		return verifiedRejection(), nil
	}
	return s.issue(ctx, userID, email)
}

func (s *Service) Resend(ctx context.Context, userID, email string) (domain.Result, error) {
	userID, email, err := normalize(userID, email)
	if err != nil {
		return domain.Result{}, err
	}

	existing, err := s.repo.Find(ctx, s.db, userID, email)
	if err != nil {
		return domain.Result{}, err
	}
	if existing != nil {
		if existing.IsVerified {
			return verifiedRejection(), nil
		}
		readyAt := existing.OTPCreatedAt.Add(s.policy.Get().Verification.ResendCooldown)
		if wait := readyAt.Sub(s.clock.Now()); wait > 0 {
			s.metrics.RecordVerification(ctx, string(domain.KindCooldown))
			seconds := int(math.Ceil(wait.Seconds()))
			return domain.Result{
				Kind:       domain.KindCooldown,
				Message:    fmt.Sprintf("Please wait %d seconds before requesting a new code", seconds),
				RetryAfter: wait,
			}, nil
		}
	}
	return s.issue(ctx, userID, email)
}

func (s *Service) Verify(ctx context.Context, userID, email, code string) (domain.Result, error) {
	userID, email, err := normalize(userID, email)
	if err != nil {
		return domain.Result{}, err
	}

	var result domain.Result
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.repo.FindForUpdate(ctx, tx, userID, email)
		if err != nil {
			return err
		}
		if record == nil {
			result = domain.Result{Kind: domain.KindNotIssued, Message: "No verification code has been issued"}
			return nil
		}

		now := s.clock.Now()
		switch record.State(now) {
		case domain.StateVerified:
			result = alreadyVerified()
			return nil
		case domain.StateLocked:
			result = locked()
			return nil
		case domain.StateExpired:
			result = domain.Result{Kind: domain.KindExpired, Message: "Verification code has expired. Please request a new one"}
			return nil
		}

		record.Attempts++
		record.UpdatedAt = now
		if otp.Verify(code, record.OTPHash) {
			record.IsVerified = true
			record.VerifiedAt = &now
			result = domain.Result{Success: true, Verified: true, Message: "Email verified successfully"}
		} else {
			remaining := record.MaxAttempts - record.Attempts
			if remaining <= 0 {
				result = locked()
			} else {
				result = domain.Result{
					Kind:      domain.KindInvalidCode,
					Message:   fmt.Sprintf("Invalid verification code. %d attempts remaining", remaining),
					Remaining: &remaining,
				}
			}
		}
		return s.repo.UpdateProgress(ctx, tx, record)
	})
	if err != nil {
		return domain.Result{}, err
	}

	outcome := string(result.Kind)
	if result.Verified {
		outcome = "verified"
	}
	s.metrics.RecordVerification(ctx, outcome)
	if result.Success {
		s.log.Info("email verified", zap.String("user_id", userID))
	}
	return result, nil
}

func (s *Service) issue(ctx context.Context, userID, email string) (domain.Result, error) {
	code, err := s.generator.Generate()
	if err != nil {
		return domain.Result{}, err
	}
	hash, err := otp.Hash(code)
	if err != nil {
		return domain.Result{}, err
	}

	policy := s.policy.Get().Verification
	now := s.clock.Now()
	expiry := now.Add(policy.OTPTTL)
	record := domain.EmailVerification{
		ID:           idgen.New(idgen.PrefixVerification),
		UserID:       userID,
		Email:        email,
		OTPHash:      hash,
		OTPCreatedAt: now,
		OTPExpiry:    expiry,
		MaxAttempts:  policy.MaxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Upsert(ctx, s.db, &record); err != nil {
		return domain.Result{}, err
	}

	err = s.notifier.Notify(ctx, notification.Message{
		To:       email,
		Template: notification.TemplateVerifyEmail,
		Subject:  "Your verification code",
		Data: map[string]any{
			"otp":                code,
			"expires_in_minutes": int(policy.OTPTTL.Minutes()),
		},
	})
	if err != nil {
		s.log.Warn("verification code not queued", zap.String("user_id", userID), zap.Error(err))
	}

	s.metrics.RecordVerification(ctx, "issued")
	s.log.Info("verification code issued", zap.String("user_id", userID), zap.Time("expires_at", expiry))
	return domain.Result{
		Success:   true,
		Message:   "A new verification code has been sent to your email",
		ExpiresAt: &expiry,
	}, nil
}

func alreadyVerified() domain.Result {
	return domain.Result{Success: true, Verified: true, Kind: domain.KindAlreadyVerified, Message: "Email already verified"}
}

// verifiedRejection answers issue and resend for an address that needs no code.
func verifiedRejection() domain.Result {
	return domain.Result{Verified: true, Kind: domain.KindAlreadyVerified, Message: "Email already verified"}
}

func locked() domain.Result {
	return domain.Result{Kind: domain.KindLocked, Message: "Maximum verification attempts reached"}
}

type subject struct {
	Email string `json:"email" validate:"required,email"`
}

var validate = validation.New()

func normalize(userID, email string) (string, string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", "", domain.ErrInvalidUser
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validate.Struct(subject{Email: email}); err != nil {
		return "", "", domain.ErrInvalidEmail
	}
	return userID, email, nil
}
