// Package idgen produces the opaque identifiers used as primary keys and
// idempotency material across the service.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const (
	PrefixBusiness        = "biz_"
	PrefixMember          = "mem_"
	PrefixProcessorConfig = "pcfg_"
	PrefixServiceOffering = "svc_"
	PrefixBooking         = "bk_"
	PrefixServiceItem     = "bsi_"
	PrefixBookingEvent    = "bev_"
	PrefixInvoice         = "inv_"
	PrefixInvoiceNumber   = "inv_no_"
	PrefixPayment         = "pay_"
	PrefixProcessorLink   = "ipl_"
	PrefixPaymentEvent    = "pev_"
	PrefixVerification    = "ev_"
)

// New returns prefix followed by 32 hex characters of a random v4 UUID (122 random bits).
func New(prefix string) string {
	id := uuid.New()
	return prefix + hex.EncodeToString(id[:])
}

// NewInvoiceNumber returns a human-readable, time-sortable invoice number.
func NewInvoiceNumber(now time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(now), rand.Reader)
	return PrefixInvoiceNumber + id.String()
}

// HasPrefix reports whether id carries prefix and a non-empty random part.
func HasPrefix(id, prefix string) bool {
	id = strings.TrimSpace(id)
	return strings.HasPrefix(id, prefix) && len(id) > len(prefix)
}

// Sequencer hands out strictly increasing values used to break ties between
// rows that share a created_at timestamp.
type Sequencer struct {
	node *snowflake.Node
}

func NewSequencer(node *snowflake.Node) *Sequencer {
	return &Sequencer{node: node}
}

func (s *Sequencer) Next() int64 {
	return s.node.Generate().Int64()
}
