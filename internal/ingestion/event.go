package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dcastellanos/ordergate-backend/internal/orders"
	"github.com/dcastellanos/ordergate-backend/pkg/enums"
	pkgerrors "github.com/dcastellanos/ordergate-backend/pkg/errors"
)

var eventValidator = validator.New()

// Event is the normalized order-creation payload consumed from the message
// transport. Upstream channels may duplicate and redeliver it freely; the
// pipeline is responsible for collapsing those into one business effect.
type Event struct {
	MessageID        string          `json:"messageId" validate:"required"`
	IdempotencyKey   string          `json:"idempotencyKey,omitempty"`
	SourceOrderID    string          `json:"sourceOrderId" validate:"required"`
	SalesUserID      uuid.UUID       `json:"salesUserId" validate:"required"`
	SalesCompanyID   uuid.UUID       `json:"salesCompanyId" validate:"required"`
	CustomerID       uuid.UUID       `json:"customerId" validate:"required"`
	Source           string          `json:"source" validate:"required"`
	ConflictStrategy string          `json:"conflictStrategy,omitempty"`
	Items            []EventItem     `json:"items" validate:"required,min=1,dive"`
	MergedItems      []EventItem     `json:"mergedItems,omitempty"`
	ExtendedFields   map[string]any  `json:"extendedFields,omitempty"`
}

// EventItem is one order line of the inbound payload.
type EventItem struct {
	ProductID uuid.UUID       `json:"productId" validate:"required"`
	Quantity  int             `json:"quantity" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Remarks   *string         `json:"remarks,omitempty"`
}

// ParseEvent decodes and validates an inbound payload. A malformed payload
// is a validation error and never retried.
func ParseEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode order event")
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return &event, nil
}

// Validate checks the structural and domain constraints of the payload.
func (e *Event) Validate() error {
	if err := eventValidator.Struct(e); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "order event validation")
	}
	if _, err := enums.ParseOrderSource(e.Source); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "order event source")
	}
	if _, err := enums.ParseConflictStrategy(e.ConflictStrategy); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "order event conflict strategy")
	}
	for i, item := range e.Items {
		if !item.UnitPrice.IsPositive() {
			return pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("item %d has non-positive unit price", i))
		}
	}
	return nil
}

// OrderSource returns the parsed source channel. Call after Validate.
func (e *Event) OrderSource() enums.OrderSource {
	source, _ := enums.ParseOrderSource(e.Source)
	return source
}

// Strategy returns the parsed conflict strategy, defaulting to keep_existing.
func (e *Event) Strategy() enums.ConflictStrategy {
	strategy, _ := enums.ParseConflictStrategy(e.ConflictStrategy)
	return strategy
}

// CreationInput maps the event onto the aggregate hydration input.
func (e *Event) CreationInput() orders.CreationInput {
	items := make([]orders.ItemInput, 0, len(e.Items))
	for _, item := range e.Items {
		items = append(items, orders.ItemInput{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Remarks:   item.Remarks,
		})
	}
	return orders.CreationInput{
		SourceOrderID:  e.SourceOrderID,
		SalesUserID:    e.SalesUserID,
		SalesCompanyID: e.SalesCompanyID,
		CustomerID:     e.CustomerID,
		Source:         e.OrderSource(),
		Items:          items,
		ExtendedFields: e.ExtendedFields,
	}
}

// MergedItemInputs maps the optional merged payload for the conflict resolver.
func (e *Event) MergedItemInputs() []orders.ItemInput {
	if len(e.MergedItems) == 0 {
		return nil
	}
	items := make([]orders.ItemInput, 0, len(e.MergedItems))
	for _, item := range e.MergedItems {
		items = append(items, orders.ItemInput{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Remarks:   item.Remarks,
		})
	}
	return items
}
