package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dcastellanos/ordergate-backend/pkg/db/models"
	"github.com/dcastellanos/ordergate-backend/pkg/enums"
)

// Repository manages persistence for ingest ledger entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.IngestLedgerEntry) error
	FindByIdempotencyKey(ctx context.Context, key string) (*models.IngestLedgerEntry, error)
	FindByMessageID(ctx context.Context, messageID string) (*models.IngestLedgerEntry, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	UpdateUnsettled(ctx context.Context, id uuid.UUID, updates map[string]any) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entry *models.IngestLedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, key string) (*models.IngestLedgerEntry, error) {
	var entry models.IngestLedgerEntry
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) FindByMessageID(ctx context.Context, messageID string) (*models.IngestLedgerEntry, error) {
	var entry models.IngestLedgerEntry
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("created_at DESC").
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.IngestLedgerEntry{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateUnsettled applies updates only while the entry has not reached a
// settled status. The condition lives in the statement itself so two racing
// finalizers cannot overwrite a success trace.
func (r *repository) UpdateUnsettled(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.IngestLedgerEntry{}).
		Where("id = ? AND status NOT IN ?", id,
			[]enums.LedgerStatus{enums.LedgerStatusSuccess, enums.LedgerStatusDuplicate}).
		Updates(updates).Error
}
