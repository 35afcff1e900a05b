package conflict

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dcastellanos/ordergate-backend/internal/orders"
	"github.com/dcastellanos/ordergate-backend/internal/statemachine"
	"github.com/dcastellanos/ordergate-backend/pkg/db/models"
	"github.com/dcastellanos/ordergate-backend/pkg/enums"
	pkgerrors "github.com/dcastellanos/ordergate-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Input describes a business-key collision awaiting a decision.
type Input struct {
	Existing    *models.Order
	Incoming    orders.CreationInput
	Strategy    enums.ConflictStrategy
	MergedItems []orders.ItemInput
	OperatorID  uuid.UUID
}

// Resolution is the decision applied to a collision.
type Resolution struct {
	Outcome enums.IngestOutcome
	Order   *models.Order
}

// Resolver decides what happens when two creation events collide on the same
// business key. It is the only component allowed to move an order into the
// conflict state.
type Resolver interface {
	Resolve(ctx context.Context, input Input) (*Resolution, error)
}

type resolver struct {
	repo orders.Repository
	tx   txRunner
}

// NewResolver builds a conflict resolver over the orders repository.
func NewResolver(repo orders.Repository, tx txRunner) (Resolver, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &resolver{repo: repo, tx: tx}, nil
}

// Resolve applies the requested strategy. An omitted strategy defaults to
// keep_existing: an already-confirmed order is never silently lost. Mutating
// strategies against a shipped or completed order cannot be decided
// automatically; the existing order is parked in conflict and the caller
// receives a resolution-required error for operator intervention.
func (r *resolver) Resolve(ctx context.Context, input Input) (*Resolution, error) {
	if input.Existing == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "existing order required")
	}

	strategy := input.Strategy
	if strategy == "" {
		strategy = enums.ConflictStrategyKeepExisting
	}
	if !strategy.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid conflict strategy %q", strategy))
	}

	if strategy == enums.ConflictStrategyKeepExisting {
		return &Resolution{
			Outcome: enums.IngestOutcomeDuplicateSkipped,
			Order:   input.Existing,
		}, nil
	}

	if input.Existing.Status == enums.OrderStatusShipped ||
		input.Existing.Status == enums.OrderStatusCompleted {
		return nil, r.park(ctx, input, strategy)
	}

	switch strategy {
	case enums.ConflictStrategyKeepNew:
		return r.keepNew(ctx, input)
	case enums.ConflictStrategyReplace:
		return r.replace(ctx, input)
	case enums.ConflictStrategyMerge:
		return r.merge(ctx, input)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unhandled conflict strategy %q", strategy))
	}
}

// park moves the existing order into conflict and surfaces a
// resolution-required error.
func (r *resolver) park(ctx context.Context, input Input, strategy enums.ConflictStrategy) error {
	reason := fmt.Sprintf("collision with incoming %s event requested %s while order is %s",
		input.Incoming.Source, strategy, input.Existing.Status)

	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)
		current, err := repo.FindByID(ctx, input.Existing.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load colliding order")
		}
		if current.Status == enums.OrderStatusConflict {
			return nil
		}
		if err := statemachine.ValidateTransition(statemachine.Request{
			From:  current.Status,
			To:    enums.OrderStatusConflict,
			Actor: enums.ActorRoleSystem,
		}); err != nil {
			return err
		}
		if err := repo.UpdateStatus(ctx, current.ID, enums.OrderStatusConflict,
			map[string]any{"updated_by": r.operator(input)}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "park order in conflict")
		}
		return repo.AppendStatusLog(ctx, &models.OrderStatusLog{
			ID:         uuid.New(),
			OrderID:    current.ID,
			FromStatus: current.Status,
			ToStatus:   enums.OrderStatusConflict,
			OperatorID: r.operator(input),
			Reason:     reason,
		})
	})
	if err != nil {
		return err
	}
	return pkgerrors.New(pkgerrors.CodeConflictResolution, reason)
}

func (r *resolver) keepNew(ctx context.Context, input Input) (*Resolution, error) {
	replacement, err := orders.Hydrate(input.Incoming)
	if err != nil {
		return nil, err
	}

	initialStatus := enums.OrderStatusDraft
	if input.Incoming.Source.SubmitsOnIngest() {
		initialStatus = enums.OrderStatusSubmitted
	}

	var created *models.Order
	err = r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)

		existing, err := repo.FindByID(ctx, input.Existing.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load superseded order")
		}
		if existing.Status != enums.OrderStatusCancelled {
			if err := repo.UpdateStatus(ctx, existing.ID, enums.OrderStatusCancelled,
				map[string]any{"updated_by": r.operator(input)}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel superseded order")
			}
			if err := repo.AppendStatusLog(ctx, &models.OrderStatusLog{
				ID:         uuid.New(),
				OrderID:    existing.ID,
				FromStatus: existing.Status,
				ToStatus:   enums.OrderStatusCancelled,
				OperatorID: r.operator(input),
				Reason:     "superseded",
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "log supersede")
			}
		}

		replacement.Status = initialStatus
		if _, err := repo.Create(ctx, replacement); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create replacement order")
		}
		if initialStatus != enums.OrderStatusDraft {
			if err := repo.AppendStatusLog(ctx, &models.OrderStatusLog{
				ID:         uuid.New(),
				OrderID:    replacement.ID,
				FromStatus: enums.OrderStatusDraft,
				ToStatus:   initialStatus,
				OperatorID: r.operator(input),
				Reason:     "submitted on ingest",
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "log initial submit")
			}
		}
		created = replacement
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Resolution{Outcome: enums.IngestOutcomeCreated, Order: created}, nil
}

// replace overwrites the existing order's mutable fields in place,
// preserving the platform order id and the audit trail.
func (r *resolver) replace(ctx context.Context, input Input) (*Resolution, error) {
	// validate the incoming payload before touching anything
	incoming, err := orders.Hydrate(input.Incoming)
	if err != nil {
		return nil, err
	}

	var updated *models.Order
	err = r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)

		existing, err := repo.FindByID(ctx, input.Existing.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order for replace")
		}

		items := make([]models.OrderItem, 0, len(incoming.Items))
		for _, item := range incoming.Items {
			item.ID = uuid.New()
			item.OrderID = existing.ID
			items = append(items, item)
		}
		if err := repo.ReplaceItems(ctx, existing.ID, items); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "replace order items")
		}

		existing.Items = items
		existing.ExtendedFields = incoming.ExtendedFields
		orders.RecomputeTotals(existing)

		if err := repo.Update(ctx, existing.ID, map[string]any{
			"total_amount":    existing.TotalAmount,
			"total_quantity":  existing.TotalQuantity,
			"extended_fields": existing.ExtendedFields,
			"updated_by":      r.operator(input),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update replaced order")
		}
		existing.UpdatedBy = r.operator(input)
		updated = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Resolution{Outcome: enums.IngestOutcomeCreated, Order: updated}, nil
}

// merge persists a caller-supplied merged item set after validating every
// line against the union of both sources. No default merge algorithm is
// guessed here.
func (r *resolver) merge(ctx context.Context, input Input) (*Resolution, error) {
	if len(input.MergedItems) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeConflictResolution,
			"merge strategy requires an explicit merged payload")
	}

	known := map[uuid.UUID]bool{}
	for _, item := range input.Existing.Items {
		known[item.ProductID] = true
	}
	for _, item := range input.Incoming.Items {
		known[item.ProductID] = true
	}

	items := make([]models.OrderItem, 0, len(input.MergedItems))
	for i, item := range input.MergedItems {
		if !known[item.ProductID] {
			return nil, pkgerrors.New(pkgerrors.CodeConflictResolution,
				fmt.Sprintf("merged item %d references product %s absent from both sources", i, item.ProductID))
		}
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("merged item %d has non-positive quantity", i))
		}
		if !item.UnitPrice.IsPositive() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("merged item %d has non-positive unit price", i))
		}
		items = append(items, models.OrderItem{
			ID:        uuid.New(),
			OrderID:   input.Existing.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Remarks:   item.Remarks,
		})
	}

	var updated *models.Order
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)

		existing, err := repo.FindByID(ctx, input.Existing.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order for merge")
		}

		if err := repo.ReplaceItems(ctx, existing.ID, items); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist merged items")
		}

		existing.Items = items
		orders.RecomputeTotals(existing)

		if err := repo.Update(ctx, existing.ID, map[string]any{
			"total_amount":   existing.TotalAmount,
			"total_quantity": existing.TotalQuantity,
			"updated_by":     r.operator(input),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update merged order")
		}
		existing.UpdatedBy = r.operator(input)
		updated = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Resolution{Outcome: enums.IngestOutcomeCreated, Order: updated}, nil
}

func (r *resolver) operator(input Input) uuid.UUID {
	if input.OperatorID != uuid.Nil {
		return input.OperatorID
	}
	if input.Incoming.ActorID != uuid.Nil {
		return input.Incoming.ActorID
	}
	return input.Incoming.SalesUserID
}
