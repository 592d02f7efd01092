// Package dbtest opens throwaway in-memory sqlite databases carrying the
// service schema, for repository and service tests.
package dbtest

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var counter atomic.Int64

// Schema mirrors the postgres migrations using sqlite-friendly column types.
var Schema = []string{
	`CREATE TABLE businesses (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		currency TEXT NOT NULL DEFAULT 'usd',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE business_members (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (business_id, user_id)
	)`,
	`CREATE TABLE processor_configs (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses(id) ON DELETE CASCADE,
		processor TEXT NOT NULL,
		config TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (business_id, processor)
	)`,
	`CREATE TABLE service_offerings (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		price DECIMAL(10,2) NOT NULL DEFAULT 0,
		duration_minutes INTEGER NOT NULL DEFAULT 60,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE bookings (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses(id) ON DELETE CASCADE,
		service_offering_id TEXT REFERENCES service_offerings(id) ON DELETE SET NULL,
		customer_name TEXT NOT NULL,
		customer_email TEXT NOT NULL,
		customer_phone TEXT NOT NULL DEFAULT '',
		scheduled_date DATE NOT NULL,
		start_time TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		notes TEXT NOT NULL DEFAULT '',
		cancellation_reason TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE booking_service_items (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
		service_offering_id TEXT,
		name TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		price_at_booking DECIMAL(10,2) NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE booking_events (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
		sequence BIGINT NOT NULL,
		event_type TEXT NOT NULL,
		description TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		field_values TEXT NOT NULL DEFAULT '{}',
		actor TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE invoices (
		id TEXT PRIMARY KEY,
		invoice_number TEXT NOT NULL UNIQUE,
		business_id TEXT NOT NULL REFERENCES businesses(id) ON DELETE CASCADE,
		booking_id TEXT NOT NULL UNIQUE REFERENCES bookings(id) ON DELETE CASCADE,
		status TEXT NOT NULL DEFAULT 'DRAFT',
		due_date DATE NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		draft_held BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE payments (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
		amount DECIMAL(10,2) NOT NULL CHECK (amount > 0),
		payment_method TEXT NOT NULL,
		transaction_id TEXT UNIQUE,
		idempotency_key TEXT UNIQUE,
		payment_date DATETIME NOT NULL,
		is_refunded BOOLEAN NOT NULL DEFAULT FALSE,
		refund_date DATETIME,
		refund_transaction_id TEXT NOT NULL DEFAULT '',
		refund_reason TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE invoice_processor_links (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
		processor TEXT NOT NULL,
		customer_id TEXT NOT NULL DEFAULT '',
		payment_method_id TEXT NOT NULL DEFAULT '',
		setup_intent_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (invoice_id, processor)
	)`,
	`CREATE TABLE payment_events (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		received_at DATETIME NOT NULL,
		processed_at DATETIME,
		UNIQUE (provider, provider_event_id)
	)`,
	`CREATE TABLE email_verifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		email TEXT NOT NULL,
		otp_hash TEXT NOT NULL,
		is_verified BOOLEAN NOT NULL DEFAULT FALSE,
		otp_created_at DATETIME NOT NULL,
		otp_expiry DATETIME NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 5,
		verified_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (user_id, email),
		CHECK (attempts <= max_attempts)
	)`,
}

// Open returns a fresh database with the schema applied. The pool is pinned
// to one connection so transactions serialize the way row locks would.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:appointly_test_%d?mode=memory&cache=shared", counter.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range Schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("schema exec failed: %v", err)
		}
	}
	return conn
}

// SeedBusiness inserts a business in timezone tz and returns its id.
func SeedBusiness(t testing.TB, db *gorm.DB, id, tz string) string {
	t.Helper()
	now := time.Now().UTC()
	err := db.Exec(
		`INSERT INTO businesses (id, name, slug, timezone, currency, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, "Studio "+id, "studio-"+id, tz, "usd", now, now,
	).Error
	if err != nil {
		t.Fatalf("seed business: %v", err)
	}
	return id
}

// SeedMember grants userID a role in businessID.
func SeedMember(t testing.TB, db *gorm.DB, businessID, userID, role string) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO business_members (id, business_id, user_id, role, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		"mem_"+businessID+"_"+userID, businessID, userID, role, time.Now().UTC(),
	).Error
	if err != nil {
		t.Fatalf("seed member: %v", err)
	}
}

// Count runs a COUNT query and returns the result.
func Count(t testing.TB, db *gorm.DB, query string, args ...any) int64 {
	t.Helper()
	var count int64
	if err := db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("query count: %v", err)
	}
	return count
}
