package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeadLetterMessage parks a message that exhausted its retry budget, keeping
// the raw payload for forensic inspection and manual replay.
type DeadLetterMessage struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	MessageID      string          `gorm:"column:message_id;not null;uniqueIndex:ux_dead_letters_message_id"`
	IdempotencyKey string          `gorm:"column:idempotency_key;not null"`
	Payload        json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	Reason         string          `gorm:"column:reason;not null"`
	Attempts       int             `gorm:"column:attempts;not null;default:0"`
	ReplayedAt     *time.Time      `gorm:"column:replayed_at"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
}
