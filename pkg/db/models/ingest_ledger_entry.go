package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/dcastellanos/ordergate-backend/pkg/enums"
)

// IngestLedgerEntry records the processing outcome of one inbound message.
// IdempotencyKey is the derived key (caller-supplied token when present,
// otherwise the message id); its unique constraint is what makes the
// insert-then-fallback race resolution work.
type IngestLedgerEntry struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	MessageID      string             `gorm:"column:message_id;not null;index"`
	IdempotencyKey string             `gorm:"column:idempotency_key;not null;uniqueIndex:ux_ingest_ledger_idempotency_key"`
	SourceOrderID  string             `gorm:"column:source_order_id;not null;index:ix_ingest_ledger_business_key"`
	SalesUserID    uuid.UUID          `gorm:"column:sales_user_id;type:uuid;not null;index:ix_ingest_ledger_business_key"`
	Status         enums.LedgerStatus `gorm:"column:status;type:text;not null;default:'processing'"`
	ResultMessage  *string            `gorm:"column:result_message"`
	Attempts       int                `gorm:"column:attempts;not null;default:0"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime"`
	ProcessedAt    *time.Time         `gorm:"column:processed_at"`
}
