package statemachine

import (
	"fmt"

	"github.com/dcastellanos/ordergate-backend/pkg/enums"
	pkgerrors "github.com/dcastellanos/ordergate-backend/pkg/errors"
)

// Request carries everything a transition decision needs. The machine is a
// pure validator: it never reads or writes order state itself.
type Request struct {
	From              enums.OrderStatus
	To                enums.OrderStatus
	Actor             enums.ActorRole
	ItemCount         int
	HasTrackingNumber bool
	Forced            bool
	Reason            string
}

type transition struct {
	from enums.OrderStatus
	to   enums.OrderStatus
}

type guardFunc func(req Request) error

// transitionTable enumerates every legal ordinary transition and its guard.
// Anything absent here is rejected unless the request is a forced override.
var transitionTable = map[transition]guardFunc{
	{enums.OrderStatusDraft, enums.OrderStatusSubmitted}:              guardHasItems,
	{enums.OrderStatusSubmitted, enums.OrderStatusSupplierConfirmed}:  guardSupplier,
	{enums.OrderStatusSupplierConfirmed, enums.OrderStatusShipped}:    guardTracking,
	{enums.OrderStatusShipped, enums.OrderStatusCompleted}:            guardNone,
	{enums.OrderStatusSubmitted, enums.OrderStatusCancelled}:          guardCanCancel,
	{enums.OrderStatusSupplierConfirmed, enums.OrderStatusCancelled}:  guardCanCancel,
}

func guardNone(Request) error { return nil }

func guardHasItems(req Request) error {
	if req.ItemCount < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order needs at least one item before submission")
	}
	return nil
}

func guardSupplier(req Request) error {
	if req.Actor != enums.ActorRoleSupplier && req.Actor != enums.ActorRoleAdmin {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only suppliers can confirm an order")
	}
	return nil
}

func guardTracking(req Request) error {
	if !req.HasTrackingNumber {
		return pkgerrors.New(pkgerrors.CodeValidation, "tracking number is required before shipment")
	}
	return nil
}

func guardCanCancel(req Request) error {
	if req.Actor != enums.ActorRoleAdmin && req.Actor != enums.ActorRoleSales {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only admin or sales can cancel an order")
	}
	return nil
}

// ValidateTransition decides whether the requested transition is legal.
// Forced overrides bypass the table but demand an admin actor and a reason;
// they exist for operator intervention and are always logged by the caller.
func ValidateTransition(req Request) error {
	if !req.From.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown current status %q", req.From))
	}
	if !req.To.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown target status %q", req.To))
	}
	if req.From == req.To {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order is already %s", req.From))
	}

	if req.Forced {
		return validateForced(req)
	}

	// Conflict is entered by collision detection and exited only by explicit
	// resolution; both paths carry elevated actors.
	if req.To == enums.OrderStatusConflict {
		return guardConflictEntry(req)
	}
	if req.From == enums.OrderStatusConflict {
		return guardConflictExit(req)
	}

	if req.From.IsTerminal() {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("order is %s and accepts no further transitions", req.From))
	}

	guard, ok := transitionTable[transition{req.From, req.To}]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("transition %s -> %s is not allowed", req.From, req.To))
	}
	return guard(req)
}

func validateForced(req Request) error {
	if req.Actor != enums.ActorRoleAdmin {
		return pkgerrors.New(pkgerrors.CodeForbidden, "forced transitions require an admin actor")
	}
	if req.Reason == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "forced transitions require a reason")
	}
	return nil
}

// Collision detection may park any live order, including a completed one
// that now faces double-billing review. Cancelled orders are the exception:
// they are no longer collision candidates.
func guardConflictEntry(req Request) error {
	if req.From == enums.OrderStatusCancelled {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "cancelled orders cannot enter conflict")
	}
	if req.Actor != enums.ActorRoleSystem && req.Actor != enums.ActorRoleAdmin {
		return pkgerrors.New(pkgerrors.CodeForbidden, "conflict state is entered by collision detection only")
	}
	return nil
}

func guardConflictExit(req Request) error {
	if req.Actor != enums.ActorRoleAdmin && req.Actor != enums.ActorRoleSystem {
		return pkgerrors.New(pkgerrors.CodeForbidden, "conflict resolution requires an admin actor")
	}
	if req.Reason == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "conflict resolution requires a reason")
	}
	return nil
}
