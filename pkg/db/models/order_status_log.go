package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/dcastellanos/ordergate-backend/pkg/enums"
)

// OrderStatusLog is the append-only audit trail of order transitions. Rows are
// never updated or deleted.
type OrderStatusLog struct {
	ID         uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID    uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index"`
	FromStatus enums.OrderStatus `gorm:"column:from_status;type:text;not null"`
	ToStatus   enums.OrderStatus `gorm:"column:to_status;type:text;not null"`
	OperatorID uuid.UUID         `gorm:"column:operator_id;type:uuid;not null"`
	Reason     string            `gorm:"column:reason;not null"`
	Forced     bool              `gorm:"column:forced;not null;default:false"`
	CreatedAt  time.Time         `gorm:"column:created_at;autoCreateTime"`
}
