package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dcastellanos/ordergate-backend/api/middleware"
	"github.com/dcastellanos/ordergate-backend/api/responses"
	"github.com/dcastellanos/ordergate-backend/api/validators"
	"github.com/dcastellanos/ordergate-backend/internal/orders"
	"github.com/dcastellanos/ordergate-backend/pkg/db/models"
	"github.com/dcastellanos/ordergate-backend/pkg/enums"
	pkgerrors "github.com/dcastellanos/ordergate-backend/pkg/errors"
	"github.com/dcastellanos/ordergate-backend/pkg/logger"
	"github.com/dcastellanos/ordergate-backend/pkg/types"
)

type orderItemResponse struct {
	ID        uuid.UUID `json:"id"`
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
	UnitPrice string    `json:"unitPrice"`
	Subtotal  string    `json:"subtotal"`
	Remarks   *string   `json:"remarks,omitempty"`
}

type orderResponse struct {
	ID             uuid.UUID           `json:"id"`
	SourceOrderID  string              `json:"sourceOrderId"`
	SalesUserID    uuid.UUID           `json:"salesUserId"`
	SalesCompanyID uuid.UUID           `json:"salesCompanyId"`
	CustomerID     uuid.UUID           `json:"customerId"`
	Source         string              `json:"source"`
	Status         string              `json:"status"`
	TotalAmount    string              `json:"totalAmount"`
	TotalQuantity  int                 `json:"totalQuantity"`
	TrackingNumber *string             `json:"trackingNumber,omitempty"`
	ExtendedFields types.JSONMap       `json:"extendedFields,omitempty"`
	Items          []orderItemResponse `json:"items"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

type statusLogResponse struct {
	ID         uuid.UUID `json:"id"`
	FromStatus string    `json:"fromStatus"`
	ToStatus   string    `json:"toStatus"`
	OperatorID uuid.UUID `json:"operatorId"`
	Reason     string    `json:"reason,omitempty"`
	Forced     bool      `json:"forced"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toOrderResponse(order *models.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(2),
			Subtotal:  item.Subtotal().StringFixed(2),
			Remarks:   item.Remarks,
		})
	}
	return orderResponse{
		ID:             order.ID,
		SourceOrderID:  order.SourceOrderID,
		SalesUserID:    order.SalesUserID,
		SalesCompanyID: order.SalesCompanyID,
		CustomerID:     order.CustomerID,
		Source:         order.Source.String(),
		Status:         order.Status.String(),
		TotalAmount:    order.TotalAmount.StringFixed(2),
		TotalQuantity:  order.TotalQuantity,
		TrackingNumber: order.TrackingNumber,
		ExtendedFields: order.ExtendedFields,
		Items:          items,
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
	}
}

func orderIDFromRequest(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "orderId")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return id, nil
}

func operatorFromRequest(r *http.Request) (uuid.UUID, enums.ActorRole, error) {
	operatorID, err := uuid.Parse(middleware.UserIDFromContext(r.Context()))
	if err != nil {
		return uuid.Nil, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "operator identity missing")
	}
	return operatorID, middleware.RoleFromContext(r.Context()), nil
}

// OrderDetail returns the full aggregate including line items.
func OrderDetail(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := orderIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Get(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOrderResponse(order))
	}
}

// OrderHistory returns the append-only transition log, oldest first.
func OrderHistory(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := orderIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		logs, err := svc.StatusHistory(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]statusLogResponse, 0, len(logs))
		for _, entry := range logs {
			out = append(out, statusLogResponse{
				ID:         entry.ID,
				FromStatus: entry.FromStatus.String(),
				ToStatus:   entry.ToStatus.String(),
				OperatorID: entry.OperatorID,
				Reason:     entry.Reason,
				Forced:     entry.Forced,
				CreatedAt:  entry.CreatedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}

// SubmitOrder moves a draft into the submitted state.
func SubmitOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := orderIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		operatorID, _, err := operatorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Submit(r.Context(), orderID, operatorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOrderResponse(order))
	}
}

// ConfirmOrder records the supplier's acceptance of a submitted order.
func ConfirmOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := orderIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		operatorID, _, err := operatorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.SupplierConfirm(r.Context(), orderID, operatorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOrderResponse(order))
	}
}

type shipOrderRequest struct {
	TrackingNumber string `json:"trackingNumber" validate:"required"`
}

// ShipOrder marks a confirmed order as shipped with its tracking number.
func ShipOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := orderIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		operatorID, _, err := operatorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body shipOrderRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Ship(r.Context(), orderID, operatorID, body.TrackingNumber)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOrderResponse(order))
	}
}

// CompleteOrder closes out a shipped order.
func CompleteOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := orderIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		operatorID, _, err := operatorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Complete(r.Context(), orderID, operatorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOrderResponse(order))
	}
}

type cancelOrderRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// CancelOrder cancels an order that has not shipped yet. Whether the caller's
// role may cancel is decided by the transition guards.
func CancelOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := orderIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		operatorID, role, err := operatorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body cancelOrderRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Cancel(r.Context(), orders.TransitionInput{
			OrderID:    orderID,
			Target:     enums.OrderStatusCancelled,
			Actor:      role,
			OperatorID: operatorID,
			Reason:     body.Reason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOrderResponse(order))
	}
}

type forceTransitionRequest struct {
	Target string `json:"target" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}

// AdminForceTransition lets an administrator override the transition table,
// typically to pull an order out of the conflict state. The override is
// audited with the operator and reason.
func AdminForceTransition(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := orderIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		operatorID, role, err := operatorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body forceTransitionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		target, err := enums.ParseOrderStatus(body.Target)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid target status"))
			return
		}
		order, err := svc.ForceTransition(r.Context(), orders.TransitionInput{
			OrderID:    orderID,
			Target:     target,
			Actor:      role,
			OperatorID: operatorID,
			Reason:     body.Reason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOrderResponse(order))
	}
}
