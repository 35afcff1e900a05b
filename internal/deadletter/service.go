package deadletter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dcastellanos/ordergate-backend/internal/ingestion"
	"github.com/dcastellanos/ordergate-backend/internal/ledger"
	"github.com/dcastellanos/ordergate-backend/pkg/db"
	"github.com/dcastellanos/ordergate-backend/pkg/db/models"
	"github.com/dcastellanos/ordergate-backend/pkg/enums"
	pkgerrors "github.com/dcastellanos/ordergate-backend/pkg/errors"
	"github.com/dcastellanos/ordergate-backend/pkg/logger"
	"github.com/dcastellanos/ordergate-backend/pkg/metrics"
	"github.com/dcastellanos/ordergate-backend/pkg/pagination"
)

const messageIDConstraint = "ux_dead_letters_message_id"

// ingester re-runs a parked message through the creation pipeline.
type ingester interface {
	Ingest(ctx context.Context, event ingestion.Event) (*ingestion.Result, error)
}

// Service parks exhausted messages for operator review and replays them on
// demand. Parked payloads are stored verbatim so a replay behaves exactly
// like the original delivery.
type Service interface {
	OnDeadLetter(ctx context.Context, event ingestion.Event, raw []byte, attempts int, reason string) error
	List(ctx context.Context, params pagination.Params) ([]models.DeadLetterMessage, string, error)
	Get(ctx context.Context, messageID string) (*models.DeadLetterMessage, error)
	Replay(ctx context.Context, messageID string) (*ingestion.Result, error)
}

type service struct {
	repo     Repository
	ledger   ledger.Service
	pipeline ingester
	logg     *logger.Logger
	metrics  *metrics.IngestMetrics
}

// NewService wires the dead letter store. The metrics handle may be nil.
func NewService(repo Repository, ledgerSvc ledger.Service, pipeline ingester, logg *logger.Logger, m *metrics.IngestMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("dead letter repository required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if pipeline == nil {
		return nil, fmt.Errorf("ingestion pipeline required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     repo,
		ledger:   ledgerSvc,
		pipeline: pipeline,
		logg:     logg,
		metrics:  m,
	}, nil
}

// OnDeadLetter persists the raw payload and stamps the ledger entry, if one
// exists, as dead-lettered. A message already parked under the same message
// id is left untouched so redeliveries after the park stay idempotent.
func (s *service) OnDeadLetter(ctx context.Context, event ingestion.Event, raw []byte, attempts int, reason string) error {
	if event.MessageID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "message id required")
	}
	key := ledger.DeriveIdempotencyKey(event.IdempotencyKey, event.MessageID)
	ctx = s.logg.WithMessageID(ctx, event.MessageID)

	msg := &models.DeadLetterMessage{
		ID:             uuid.New(),
		MessageID:      event.MessageID,
		IdempotencyKey: key,
		Payload:        raw,
		Reason:         reason,
		Attempts:       attempts,
	}
	if err := s.repo.Create(ctx, msg); err != nil {
		if db.IsUniqueViolation(err, messageIDConstraint) {
			s.logg.Warn(ctx, "message already parked")
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "park dead letter")
	}

	// Malformed payloads never reached the pipeline, so there may be no
	// ledger entry to stamp.
	entry, err := s.ledger.Lookup(ctx, key)
	if err != nil {
		return err
	}
	if entry != nil {
		if err := s.ledger.Finalize(ctx, entry.ID, enums.LedgerStatusDeadLetter, reason); err != nil {
			return err
		}
	}

	s.metrics.IncDeadLetter()
	s.logg.Warn(ctx, fmt.Sprintf("message parked after %d attempts: %s", attempts, reason))
	return nil
}

// List returns parked messages newest first, with a cursor for the next page.
func (s *service) List(ctx context.Context, params pagination.Params) ([]models.DeadLetterMessage, string, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	msgs, err := s.repo.List(ctx, pagination.LimitWithBuffer(params.Limit), cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead letters")
	}

	next := ""
	if len(msgs) > limit {
		msgs = msgs[:limit]
		last := msgs[len(msgs)-1]
		next = pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return msgs, next, nil
}

// Get fetches one parked message by its transport message id.
func (s *service) Get(ctx context.Context, messageID string) (*models.DeadLetterMessage, error) {
	if messageID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "message id required")
	}
	msg, err := s.repo.FindByMessageID(ctx, messageID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("dead letter %s not found", messageID))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "dead letter lookup")
	}
	return msg, nil
}

// Replay runs the stored payload back through the pipeline under its
// original idempotency key. A previously successful ingest of the same key
// therefore resolves as a duplicate skip rather than a second order.
func (s *service) Replay(ctx context.Context, messageID string) (*ingestion.Result, error) {
	msg, err := s.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithMessageID(ctx, messageID)

	event, err := ingestion.ParseEvent(msg.Payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parked payload cannot be replayed")
	}
	if event.MessageID == "" {
		event.MessageID = msg.MessageID
	}
	event.IdempotencyKey = msg.IdempotencyKey

	result, err := s.pipeline.Ingest(ctx, *event)
	if err != nil {
		return result, err
	}

	if err := s.repo.MarkReplayed(ctx, msg.ID, time.Now().UTC()); err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark replayed")
	}
	s.metrics.IncReplay()
	s.logg.Info(ctx, fmt.Sprintf("replay finished with outcome %s", result.Outcome))
	return result, nil
}
