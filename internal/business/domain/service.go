package domain

import (
	"context"
	"errors"
)

type CreateBusinessRequest struct {
	Name        string
	Slug        string
	Timezone    string
	Currency    string
	OwnerUserID string
}

type UpsertProcessorConfigRequest struct {
	BusinessID string
	Processor  string
	Config     map[string]any
}

type Service interface {
	Create(ctx context.Context, req CreateBusinessRequest) (Business, error)
	GetByID(ctx context.Context, id string) (Business, error)
	AddMember(ctx context.Context, businessID, userID, role string) (Member, error)
	MemberRole(ctx context.Context, businessID, userID string) (string, error)

	UpsertProcessorConfig(ctx context.Context, req UpsertProcessorConfigRequest) error
	SetProcessorActive(ctx context.Context, businessID, processor string, active bool) error
	ProcessorCredentials(ctx context.Context, businessID, processor string) (Credentials, error)
	ActiveProcessorCredentials(ctx context.Context, processor string) ([]Credentials, error)
}

var (
	ErrNotFound               = errors.New("business_not_found")
	ErrMemberNotFound         = errors.New("member_not_found")
	ErrInvalidName            = errors.New("invalid_name")
	ErrInvalidTimezone        = errors.New("invalid_timezone")
	ErrInvalidCurrency        = errors.New("invalid_currency")
	ErrInvalidRole            = errors.New("invalid_role")
	ErrInvalidUser            = errors.New("invalid_user")
	ErrInvalidProcessor       = errors.New("invalid_processor")
	ErrInvalidConfig          = errors.New("invalid_config")
	ErrProcessorNotConfigured = errors.New("processor_not_configured")
	ErrEncryptionKeyMissing   = errors.New("encryption_key_missing")
)
