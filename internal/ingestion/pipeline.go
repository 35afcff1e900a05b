package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dcastellanos/ordergate-backend/internal/conflict"
	"github.com/dcastellanos/ordergate-backend/internal/ledger"
	"github.com/dcastellanos/ordergate-backend/internal/orders"
	"github.com/dcastellanos/ordergate-backend/internal/statemachine"
	"github.com/dcastellanos/ordergate-backend/pkg/db/models"
	"github.com/dcastellanos/ordergate-backend/pkg/enums"
	pkgerrors "github.com/dcastellanos/ordergate-backend/pkg/errors"
	"github.com/dcastellanos/ordergate-backend/pkg/logger"
	"github.com/dcastellanos/ordergate-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ledgerService interface {
	Lookup(ctx context.Context, idempotencyKey string) (*models.IngestLedgerEntry, error)
	RecordProcessing(ctx context.Context, input ledger.RecordProcessingInput) (*models.IngestLedgerEntry, error)
	Finalize(ctx context.Context, entryID uuid.UUID, status enums.LedgerStatus, resultMessage string) error
}

type lockManager interface {
	TryAcquire(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

type conflictResolver interface {
	Resolve(ctx context.Context, input conflict.Input) (*conflict.Resolution, error)
}

type settledMarks interface {
	IsSettled(ctx context.Context, idempotencyKey string) (bool, error)
	MarkSettled(ctx context.Context, idempotencyKey string) error
}

// Result is the terminal classification of one ingest pass.
type Result struct {
	Outcome enums.IngestOutcome
	Order   *models.Order
}

// Pipeline orchestrates one delivery: ledger check, lock, duplicate check,
// hydration, persistence, ledger finalize, lock release. Redeliveries of
// the same message collapse into a single business effect.
type Pipeline struct {
	ledger   ledgerService
	locks    lockManager
	orders   orders.Repository
	resolver conflictResolver
	tx       txRunner
	logg     *logger.Logger
	metrics  *metrics.IngestMetrics
	marks    settledMarks
}

// NewPipeline wires the ingestion pipeline with its collaborators. Metrics
// and marks may be nil; the marks are a Redis fast path only, the ledger
// remains the source of truth.
func NewPipeline(
	ledgerSvc ledgerService,
	locks lockManager,
	ordersRepo orders.Repository,
	resolver conflictResolver,
	tx txRunner,
	logg *logger.Logger,
	ingestMetrics *metrics.IngestMetrics,
	marks settledMarks,
) (*Pipeline, error) {
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if locks == nil {
		return nil, fmt.Errorf("lock manager required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("conflict resolver required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Pipeline{
		ledger:   ledgerSvc,
		locks:    locks,
		orders:   ordersRepo,
		resolver: resolver,
		tx:       tx,
		logg:     logg,
		metrics:  ingestMetrics,
		marks:    marks,
	}, nil
}

// Ingest processes one creation event. Lock contention surfaces as a
// retryable error so the transport requeues the delivery; it is never a
// failure. Duplicate deliveries return DuplicateSkipped because the business
// intent was already satisfied.
func (p *Pipeline) Ingest(ctx context.Context, event Event) (*Result, error) {
	start := time.Now()
	key := ledger.DeriveIdempotencyKey(event.IdempotencyKey, event.MessageID)

	ctx = p.logg.WithMessageID(ctx, event.MessageID)
	ctx = p.logg.WithIdempotencyKey(ctx, key)
	ctx = p.logg.WithSource(ctx, event.Source)

	// fast path: already settled, no lock or database read needed
	if p.marks != nil {
		settled, err := p.marks.IsSettled(ctx, key)
		if err != nil {
			p.logg.Warn(ctx, "settled-mark read failed, falling back to ledger")
		} else if settled {
			p.logg.Info(ctx, "delivery already settled, skipping")
			return p.finish(ctx, enums.IngestOutcomeDuplicateSkipped, event.Source, start, nil), nil
		}
	}
	existing, err := p.ledger.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status.IsSettled() {
		p.markSettled(ctx, key)
		p.logg.Info(ctx, "delivery already settled, skipping")
		return p.finish(ctx, enums.IngestOutcomeDuplicateSkipped, event.Source, start, nil), nil
	}

	acquired, err := p.locks.TryAcquire(ctx, event.MessageID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock acquire")
	}
	if !acquired {
		if p.metrics != nil {
			p.metrics.IncLockContention()
		}
		p.logg.Info(ctx, "message in flight elsewhere, requeueing")
		return nil, pkgerrors.New(pkgerrors.CodeLockContention, "message is being processed by another worker")
	}
	defer func() {
		if err := p.locks.Release(ctx, event.MessageID); err != nil {
			p.logg.Warn(ctx, "lock release failed")
		}
	}()

	// re-check under the lock; this closes the race between lookup and acquire
	entry, err := p.ledger.RecordProcessing(ctx, ledger.RecordProcessingInput{
		MessageID:      event.MessageID,
		IdempotencyKey: event.IdempotencyKey,
		SourceOrderID:  event.SourceOrderID,
		SalesUserID:    event.SalesUserID,
	})
	if err != nil {
		typed := pkgerrors.As(err)
		if typed != nil && typed.Code() == pkgerrors.CodeDuplicate {
			p.markSettled(ctx, key)
			p.logg.Info(ctx, "delivery settled while waiting for lock, skipping")
			return p.finish(ctx, enums.IngestOutcomeDuplicateSkipped, event.Source, start, nil), nil
		}
		return nil, err
	}

	colliding, err := p.orders.FindByBusinessKey(ctx, event.SourceOrderID, event.SalesUserID)
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "business duplicate check")
	}
	if colliding != nil {
		return p.resolveCollision(ctx, event, entry, colliding, start)
	}

	return p.createOrder(ctx, event, entry, start)
}

func (p *Pipeline) createOrder(ctx context.Context, event Event, entry *models.IngestLedgerEntry, start time.Time) (*Result, error) {
	order, err := orders.Hydrate(event.CreationInput())
	if err != nil {
		return p.fail(ctx, event, entry, start, err)
	}

	initialStatus := enums.OrderStatusDraft
	if event.OrderSource().SubmitsOnIngest() {
		if err := statemachine.ValidateTransition(statemachine.Request{
			From:      enums.OrderStatusDraft,
			To:        enums.OrderStatusSubmitted,
			Actor:     enums.ActorRoleSystem,
			ItemCount: len(order.Items),
		}); err != nil {
			return p.fail(ctx, event, entry, start, err)
		}
		initialStatus = enums.OrderStatusSubmitted
	}
	order.Status = initialStatus

	err = p.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := p.orders.WithTx(tx)
		if _, err := repo.Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist order")
		}
		if initialStatus != enums.OrderStatusDraft {
			if err := repo.AppendStatusLog(ctx, &models.OrderStatusLog{
				ID:         uuid.New(),
				OrderID:    order.ID,
				FromStatus: enums.OrderStatusDraft,
				ToStatus:   initialStatus,
				OperatorID: order.CreatedBy,
				Reason:     "submitted on ingest",
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append initial status log")
			}
		}
		return nil
	})
	if err != nil {
		return p.fail(ctx, event, entry, start, err)
	}

	if err := p.ledger.Finalize(ctx, entry.ID, enums.LedgerStatusSuccess,
		fmt.Sprintf("order %s created", order.ID)); err != nil {
		p.logg.Error(ctx, "ledger finalize after commit failed", err)
	} else {
		p.markSettled(ctx, entry.IdempotencyKey)
	}
	ctx = p.logg.WithOrderID(ctx, order.ID.String())
	p.logg.Info(ctx, "order created")
	return p.finish(ctx, enums.IngestOutcomeCreated, event.Source, start, order), nil
}

func (p *Pipeline) resolveCollision(ctx context.Context, event Event, entry *models.IngestLedgerEntry, colliding *models.Order, start time.Time) (*Result, error) {
	resolution, err := p.resolver.Resolve(ctx, conflict.Input{
		Existing:    colliding,
		Incoming:    event.CreationInput(),
		Strategy:    event.Strategy(),
		MergedItems: event.MergedItemInputs(),
	})
	if err != nil {
		typed := pkgerrors.As(err)
		if typed != nil && typed.Code() == pkgerrors.CodeConflictResolution {
			if finErr := p.ledger.Finalize(ctx, entry.ID, enums.LedgerStatusFailed, typed.Message()); finErr != nil {
				p.logg.Error(ctx, "ledger finalize failed", finErr)
			}
			p.logg.Warn(ctx, "collision requires operator resolution")
			return p.finish(ctx, enums.IngestOutcomeConflictRaised, event.Source, start, colliding), nil
		}
		return p.fail(ctx, event, entry, start, err)
	}

	switch resolution.Outcome {
	case enums.IngestOutcomeDuplicateSkipped:
		if err := p.ledger.Finalize(ctx, entry.ID, enums.LedgerStatusDuplicate, "business duplicate, kept existing order"); err != nil {
			p.logg.Error(ctx, "ledger finalize failed", err)
		} else {
			p.markSettled(ctx, entry.IdempotencyKey)
		}
		p.logg.Info(ctx, "business duplicate, existing order kept")
		return p.finish(ctx, enums.IngestOutcomeDuplicateSkipped, event.Source, start, resolution.Order), nil
	default:
		if err := p.ledger.Finalize(ctx, entry.ID, enums.LedgerStatusSuccess,
			fmt.Sprintf("collision resolved with %s", event.Strategy())); err != nil {
			p.logg.Error(ctx, "ledger finalize failed", err)
		} else {
			p.markSettled(ctx, entry.IdempotencyKey)
		}
		p.logg.Info(ctx, "collision resolved")
		return p.finish(ctx, resolution.Outcome, event.Source, start, resolution.Order), nil
	}
}

// markSettled is best effort; a failed write only costs a ledger read on
// the next redelivery.
func (p *Pipeline) markSettled(ctx context.Context, key string) {
	if p.marks == nil {
		return
	}
	if err := p.marks.MarkSettled(ctx, key); err != nil {
		p.logg.Warn(ctx, "settled-mark write failed")
	}
}

// fail stamps the failure on the ledger and propagates the error so the
// transport applies its own retry policy.
func (p *Pipeline) fail(ctx context.Context, event Event, entry *models.IngestLedgerEntry, start time.Time, cause error) (*Result, error) {
	if err := p.ledger.Finalize(ctx, entry.ID, enums.LedgerStatusFailed, cause.Error()); err != nil {
		p.logg.Error(ctx, "ledger finalize failed", err)
	}
	p.logg.Error(ctx, "ingest failed", cause)
	p.finish(ctx, enums.IngestOutcomeFailed, event.Source, start, nil)
	return &Result{Outcome: enums.IngestOutcomeFailed}, cause
}

func (p *Pipeline) finish(ctx context.Context, outcome enums.IngestOutcome, source string, start time.Time, order *models.Order) *Result {
	if p.metrics != nil {
		p.metrics.ObserveOutcome(outcome, source)
		p.metrics.ObserveDuration(source, time.Since(start))
	}
	return &Result{Outcome: outcome, Order: order}
}
