package orders

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dcastellanos/ordergate-backend/pkg/db/models"
	"github.com/dcastellanos/ordergate-backend/pkg/enums"
	pkgerrors "github.com/dcastellanos/ordergate-backend/pkg/errors"
	"github.com/dcastellanos/ordergate-backend/pkg/types"
)

// CreationInput is the normalized payload an order is hydrated from.
type CreationInput struct {
	SourceOrderID  string
	SalesUserID    uuid.UUID
	SalesCompanyID uuid.UUID
	CustomerID     uuid.UUID
	Source         enums.OrderSource
	Items          []ItemInput
	ExtendedFields map[string]any
	ActorID        uuid.UUID
}

// ItemInput is one line of the creation payload.
type ItemInput struct {
	ProductID uuid.UUID
	Quantity  int
	UnitPrice decimal.Decimal
	Remarks   *string
}

// Hydrate builds a fresh order aggregate from a creation payload. The
// aggregate enters draft; source policy decides whether it is submitted in
// the same ingest pass. An aggregate is never built with zero items or with
// any item carrying non-positive quantity or price.
func Hydrate(input CreationInput) (*models.Order, error) {
	if input.SourceOrderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "source order id required")
	}
	if input.SalesUserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sales user id required")
	}
	if input.SalesCompanyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sales company id required")
	}
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if !input.Source.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order source %q", input.Source))
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one item")
	}

	orderID := uuid.New()
	items := make([]models.OrderItem, 0, len(input.Items))
	for i, item := range input.Items {
		if item.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d missing product id", i))
		}
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d has non-positive quantity", i))
		}
		if !item.UnitPrice.IsPositive() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d has non-positive unit price", i))
		}
		items = append(items, models.OrderItem{
			ID:        uuid.New(),
			OrderID:   orderID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Remarks:   item.Remarks,
		})
	}

	actor := input.ActorID
	if actor == uuid.Nil {
		actor = input.SalesUserID
	}

	order := &models.Order{
		ID:             orderID,
		SourceOrderID:  input.SourceOrderID,
		SalesUserID:    input.SalesUserID,
		SalesCompanyID: input.SalesCompanyID,
		CustomerID:     input.CustomerID,
		Source:         input.Source,
		Status:         enums.OrderStatusDraft,
		ExtendedFields: types.JSONMap(input.ExtendedFields),
		Items:          items,
		CreatedBy:      actor,
		UpdatedBy:      actor,
	}
	RecomputeTotals(order)
	return order, nil
}

// RecomputeTotals rederives totalAmount and totalQuantity from the item set.
// Called after every item mutation; totals are decimal-exact.
func RecomputeTotals(order *models.Order) {
	total := decimal.Zero
	quantity := 0
	for _, item := range order.Items {
		total = total.Add(item.Subtotal())
		quantity += item.Quantity
	}
	order.TotalAmount = total
	order.TotalQuantity = quantity
}
