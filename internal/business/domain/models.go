package domain

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	RoleOwner = "owner"
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

// Business is the tenant. Bookings, invoices and processor credentials all hang off it.
type Business struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"not null"`
	Slug      string    `json:"slug" gorm:"not null;uniqueIndex"`
	Timezone  string    `json:"timezone" gorm:"not null;default:UTC"`
	Currency  string    `json:"currency" gorm:"not null;default:usd"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Location resolves the business timezone, falling back to UTC.
func (b Business) Location() *time.Location {
	name := strings.TrimSpace(b.Timezone)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

type Member struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	BusinessID string    `json:"business_id" gorm:"not null"`
	UserID     string    `json:"user_id" gorm:"not null"`
	Role       string    `json:"role" gorm:"not null"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Member) TableName() string { return "business_members" }

// ProcessorConfig stores a processor's credentials sealed with AES-GCM.
type ProcessorConfig struct {
	ID         string         `json:"id" gorm:"primaryKey"`
	BusinessID string         `json:"business_id" gorm:"not null"`
	Processor  string         `json:"processor" gorm:"not null"`
	Config     datatypes.JSON `json:"-" gorm:"type:jsonb;not null"`
	IsActive   bool           `json:"is_active" gorm:"not null;default:true"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (ProcessorConfig) TableName() string { return "processor_configs" }

// Credentials is a decrypted processor configuration.
type Credentials struct {
	BusinessID string
	Processor  string
	Config     map[string]any
}

// String reads a string credential value by key.
func (c Credentials) String(key string) string {
	if c.Config == nil {
		return ""
	}
	value, ok := c.Config[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

func ValidRole(role string) bool {
	switch role {
	case RoleOwner, RoleAdmin, RoleStaff:
		return true
	default:
		return false
	}
}
