package orders

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dcastellanos/ordergate-backend/internal/statemachine"
	"github.com/dcastellanos/ordergate-backend/pkg/db/models"
	"github.com/dcastellanos/ordergate-backend/pkg/enums"
	pkgerrors "github.com/dcastellanos/ordergate-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// TransitionInput captures everything a status change needs.
type TransitionInput struct {
	OrderID        uuid.UUID
	Target         enums.OrderStatus
	Actor          enums.ActorRole
	OperatorID     uuid.UUID
	Reason         string
	TrackingNumber *string
	Forced         bool
}

// Service drives order lifecycle transitions. Every transition re-reads the
// current status inside the same transaction that writes the new one, so
// concurrent requests cannot produce lost updates.
type Service interface {
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	StatusHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusLog, error)
	Submit(ctx context.Context, orderID uuid.UUID, operatorID uuid.UUID) (*models.Order, error)
	SupplierConfirm(ctx context.Context, orderID uuid.UUID, operatorID uuid.UUID) (*models.Order, error)
	Ship(ctx context.Context, orderID uuid.UUID, operatorID uuid.UUID, trackingNumber string) (*models.Order, error)
	Complete(ctx context.Context, orderID uuid.UUID, operatorID uuid.UUID) (*models.Order, error)
	Cancel(ctx context.Context, input TransitionInput) (*models.Order, error)
	Transition(ctx context.Context, input TransitionInput) (*models.Order, error)
	ForceTransition(ctx context.Context, input TransitionInput) (*models.Order, error)
}

type service struct {
	repo Repository
	tx   txRunner
}

// NewService builds an order lifecycle service.
func NewService(repo Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx}, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) StatusHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusLog, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	logs, err := s.repo.ListStatusLogs(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load status history")
	}
	return logs, nil
}

func (s *service) Submit(ctx context.Context, orderID, operatorID uuid.UUID) (*models.Order, error) {
	return s.Transition(ctx, TransitionInput{
		OrderID:    orderID,
		Target:     enums.OrderStatusSubmitted,
		Actor:      enums.ActorRoleSales,
		OperatorID: operatorID,
		Reason:     "submitted",
	})
}

func (s *service) SupplierConfirm(ctx context.Context, orderID, operatorID uuid.UUID) (*models.Order, error) {
	return s.Transition(ctx, TransitionInput{
		OrderID:    orderID,
		Target:     enums.OrderStatusSupplierConfirmed,
		Actor:      enums.ActorRoleSupplier,
		OperatorID: operatorID,
		Reason:     "supplier confirmed",
	})
}

func (s *service) Ship(ctx context.Context, orderID, operatorID uuid.UUID, trackingNumber string) (*models.Order, error) {
	if trackingNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tracking number required")
	}
	return s.Transition(ctx, TransitionInput{
		OrderID:        orderID,
		Target:         enums.OrderStatusShipped,
		Actor:          enums.ActorRoleSupplier,
		OperatorID:     operatorID,
		Reason:         "shipped",
		TrackingNumber: &trackingNumber,
	})
}

func (s *service) Complete(ctx context.Context, orderID, operatorID uuid.UUID) (*models.Order, error) {
	return s.Transition(ctx, TransitionInput{
		OrderID:    orderID,
		Target:     enums.OrderStatusCompleted,
		Actor:      enums.ActorRoleSales,
		OperatorID: operatorID,
		Reason:     "completed",
	})
}

func (s *service) Cancel(ctx context.Context, input TransitionInput) (*models.Order, error) {
	input.Target = enums.OrderStatusCancelled
	if input.Reason == "" {
		input.Reason = "cancelled"
	}
	return s.Transition(ctx, input)
}

// ForceTransition is the administrative override path. It bypasses the
// ordinary transition table but always records forced=true plus the reason.
func (s *service) ForceTransition(ctx context.Context, input TransitionInput) (*models.Order, error) {
	input.Forced = true
	return s.Transition(ctx, input)
}

func (s *service) Transition(ctx context.Context, input TransitionInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.OperatorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "operator identity missing")
	}

	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		order, err := repo.FindByID(ctx, input.OrderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		hasTracking := order.TrackingNumber != nil && *order.TrackingNumber != ""
		if input.TrackingNumber != nil && *input.TrackingNumber != "" {
			hasTracking = true
		}

		if err := statemachine.ValidateTransition(statemachine.Request{
			From:              order.Status,
			To:                input.Target,
			Actor:             input.Actor,
			ItemCount:         len(order.Items),
			HasTrackingNumber: hasTracking,
			Forced:            input.Forced,
			Reason:            input.Reason,
		}); err != nil {
			return err
		}

		updates := map[string]any{"updated_by": input.OperatorID}
		if input.TrackingNumber != nil && *input.TrackingNumber != "" {
			updates["tracking_number"] = *input.TrackingNumber
		}
		if err := repo.UpdateStatus(ctx, order.ID, input.Target, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}

		logEntry := &models.OrderStatusLog{
			ID:         uuid.New(),
			OrderID:    order.ID,
			FromStatus: order.Status,
			ToStatus:   input.Target,
			OperatorID: input.OperatorID,
			Reason:     input.Reason,
			Forced:     input.Forced,
		}
		if err := repo.AppendStatusLog(ctx, logEntry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append status log")
		}

		order.Status = input.Target
		order.UpdatedBy = input.OperatorID
		if input.TrackingNumber != nil && *input.TrackingNumber != "" {
			order.TrackingNumber = input.TrackingNumber
		}
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
