package deadletter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dcastellanos/ordergate-backend/pkg/db/models"
	"github.com/dcastellanos/ordergate-backend/pkg/pagination"
)

// Repository manages persistence for parked messages.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, msg *models.DeadLetterMessage) error
	FindByMessageID(ctx context.Context, messageID string) (*models.DeadLetterMessage, error)
	List(ctx context.Context, limit int, cursor *pagination.Cursor) ([]models.DeadLetterMessage, error)
	MarkReplayed(ctx context.Context, id uuid.UUID, at time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a dead letter repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, msg *models.DeadLetterMessage) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *repository) FindByMessageID(ctx context.Context, messageID string) (*models.DeadLetterMessage, error) {
	var msg models.DeadLetterMessage
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *repository) List(ctx context.Context, limit int, cursor *pagination.Cursor) ([]models.DeadLetterMessage, error) {
	query := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit)
	if cursor != nil {
		query = query.Where(
			"created_at < ? OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var msgs []models.DeadLetterMessage
	if err := query.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *repository) MarkReplayed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.DeadLetterMessage{}).
		Where("id = ?", id).
		Update("replayed_at", at).Error
}
