package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dcastellanos/ordergate-backend/pkg/enums"
	"github.com/dcastellanos/ordergate-backend/pkg/types"
)

// Order is the durable aggregate produced by the ingestion pipeline. The row
// id doubles as the platform order id; it never changes once assigned.
type Order struct {
	ID             uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SourceOrderID  string            `gorm:"column:source_order_id;not null;index:ix_orders_business_key"`
	SalesUserID    uuid.UUID         `gorm:"column:sales_user_id;type:uuid;not null;index:ix_orders_business_key"`
	SalesCompanyID uuid.UUID         `gorm:"column:sales_company_id;type:uuid;not null"`
	CustomerID     uuid.UUID         `gorm:"column:customer_id;type:uuid;not null"`
	Source         enums.OrderSource `gorm:"column:source;type:text;not null"`
	Status         enums.OrderStatus `gorm:"column:status;type:text;not null;default:'draft'"`
	TotalAmount    decimal.Decimal   `gorm:"column:total_amount;type:numeric(14,2);not null"`
	TotalQuantity  int               `gorm:"column:total_quantity;not null"`
	TrackingNumber *string           `gorm:"column:tracking_number"`
	ExtendedFields types.JSONMap     `gorm:"column:extended_fields;type:jsonb"`
	Items          []OrderItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedBy      uuid.UUID         `gorm:"column:created_by;type:uuid;not null"`
	UpdatedBy      uuid.UUID         `gorm:"column:updated_by;type:uuid;not null"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
