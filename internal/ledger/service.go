package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dcastellanos/ordergate-backend/pkg/db"
	"github.com/dcastellanos/ordergate-backend/pkg/db/models"
	"github.com/dcastellanos/ordergate-backend/pkg/enums"
	pkgerrors "github.com/dcastellanos/ordergate-backend/pkg/errors"
)

const idempotencyKeyConstraint = "ux_ingest_ledger_idempotency_key"

// Service defines the durable message-processing ledger. Every inbound
// delivery leaves a trace here regardless of outcome.
type Service interface {
	Lookup(ctx context.Context, idempotencyKey string) (*models.IngestLedgerEntry, error)
	RecordProcessing(ctx context.Context, input RecordProcessingInput) (*models.IngestLedgerEntry, error)
	Finalize(ctx context.Context, entryID uuid.UUID, status enums.LedgerStatus, resultMessage string) error
}

// RecordProcessingInput captures the identifiers a new ledger entry requires.
type RecordProcessingInput struct {
	MessageID      string
	IdempotencyKey string
	SourceOrderID  string
	SalesUserID    uuid.UUID
}

type service struct {
	repo Repository
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

// DeriveIdempotencyKey prefers the caller-supplied token and falls back to
// the transport message id.
func DeriveIdempotencyKey(idempotencyKey, messageID string) string {
	if idempotencyKey != "" {
		return idempotencyKey
	}
	return messageID
}

// Lookup is a point read with no side effects. A missing entry returns
// (nil, nil) rather than an error.
func (s *service) Lookup(ctx context.Context, idempotencyKey string) (*models.IngestLedgerEntry, error) {
	if idempotencyKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required")
	}
	entry, err := s.repo.FindByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ledger lookup")
	}
	return entry, nil
}

// RecordProcessing inserts a PROCESSING row for the derived idempotency key.
// When a settled (success/duplicate) entry already exists it returns that
// entry alongside a duplicate error; the caller must treat this as an
// already-satisfied delivery, not a failure. When two workers race the
// insert, the loser falls back to the winner's row instead of propagating
// the uniqueness conflict.
func (s *service) RecordProcessing(ctx context.Context, input RecordProcessingInput) (*models.IngestLedgerEntry, error) {
	if input.MessageID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "message id required")
	}
	if input.SourceOrderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "source order id required")
	}
	if input.SalesUserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sales user id required")
	}

	key := DeriveIdempotencyKey(input.IdempotencyKey, input.MessageID)

	existing, err := s.repo.FindByIdempotencyKey(ctx, key)
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ledger lookup")
	}
	if existing != nil {
		return s.reuseEntry(ctx, existing)
	}

	entry := &models.IngestLedgerEntry{
		ID:             uuid.New(),
		MessageID:      input.MessageID,
		IdempotencyKey: key,
		SourceOrderID:  input.SourceOrderID,
		SalesUserID:    input.SalesUserID,
		Status:         enums.LedgerStatusProcessing,
		Attempts:       1,
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		if db.IsUniqueViolation(err, idempotencyKeyConstraint) {
			// Lost the insert race; adopt the winner's row.
			winner, findErr := s.repo.FindByIdempotencyKey(ctx, key)
			if findErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "ledger race fallback lookup")
			}
			return s.reuseEntry(ctx, winner)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ledger insert")
	}
	return entry, nil
}

func (s *service) reuseEntry(ctx context.Context, entry *models.IngestLedgerEntry) (*models.IngestLedgerEntry, error) {
	if entry.Status.IsSettled() {
		return entry, pkgerrors.New(pkgerrors.CodeDuplicate,
			fmt.Sprintf("ledger entry for key %s already %s", entry.IdempotencyKey, entry.Status))
	}

	attempts := entry.Attempts + 1
	updates := map[string]any{
		"attempts": attempts,
		"status":   enums.LedgerStatusProcessing,
	}
	if err := s.repo.Update(ctx, entry.ID, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ledger attempt increment")
	}
	entry.Attempts = attempts
	entry.Status = enums.LedgerStatusProcessing
	return entry, nil
}

// Finalize stamps the outcome onto an entry. A settled (success/duplicate)
// entry is never downgraded: late failure or dead-letter stamps from a
// redelivery that lost the race quietly no-op, so the success trace survives.
func (s *service) Finalize(ctx context.Context, entryID uuid.UUID, status enums.LedgerStatus, resultMessage string) error {
	if entryID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "ledger entry id required")
	}
	if !status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid ledger status %q", status))
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"status":       status,
		"processed_at": now,
	}
	if resultMessage != "" {
		updates["result_message"] = resultMessage
	}
	if err := s.repo.UpdateUnsettled(ctx, entryID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ledger finalize")
	}
	return nil
}
