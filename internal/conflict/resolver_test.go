package conflict

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dcastellanos/ordergate-backend/internal/orders"
	"github.com/dcastellanos/ordergate-backend/pkg/db/models"
	"github.com/dcastellanos/ordergate-backend/pkg/enums"
	pkgerrors "github.com/dcastellanos/ordergate-backend/pkg/errors"
)

func setupConflictTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	ddl := `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  source_order_id TEXT NOT NULL,
  sales_user_id TEXT NOT NULL,
  sales_company_id TEXT NOT NULL,
  customer_id TEXT NOT NULL,
  source TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'draft',
  total_amount TEXT NOT NULL,
  total_quantity INTEGER NOT NULL,
  tracking_number TEXT,
  extended_fields TEXT,
  created_by TEXT NOT NULL,
  updated_by TEXT NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  unit_price TEXT NOT NULL,
  remarks TEXT,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS order_status_logs (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  from_status TEXT NOT NULL,
  to_status TEXT NOT NULL,
  operator_id TEXT NOT NULL,
  reason TEXT NOT NULL,
  forced INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(ddl).Error)
	return db
}

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func newTestResolver(t *testing.T, db *gorm.DB) (Resolver, orders.Repository) {
	t.Helper()

	repo := orders.NewRepository(db)
	res, err := NewResolver(repo, gormTxRunner{db: db})
	require.NoError(t, err)
	return res, repo
}

func creationInput(sourceOrderID string, salesUserID uuid.UUID) orders.CreationInput {
	return orders.CreationInput{
		SourceOrderID:  sourceOrderID,
		SalesUserID:    salesUserID,
		SalesCompanyID: uuid.New(),
		CustomerID:     uuid.New(),
		Source:         enums.OrderSourceImport,
		Items: []orders.ItemInput{
			{ProductID: uuid.New(), Quantity: 1, UnitPrice: decimal.NewFromFloat(75.00)},
		},
	}
}

func seedOrder(t *testing.T, repo orders.Repository, input orders.CreationInput, status enums.OrderStatus) *models.Order {
	t.Helper()

	order, err := orders.Hydrate(input)
	require.NoError(t, err)
	order.Status = status
	stored, err := repo.Create(context.Background(), order)
	require.NoError(t, err)
	return stored
}

func TestResolveDefaultKeepsExistingUntouched(t *testing.T) {
	db := setupConflictTestDB(t)
	res, repo := newTestResolver(t, db)
	ctx := context.Background()

	salesUser := uuid.New()
	existing := seedOrder(t, repo, creationInput("SRC-1", salesUser), enums.OrderStatusSupplierConfirmed)

	incoming := creationInput("SRC-1", salesUser)
	resolution, err := res.Resolve(ctx, Input{
		Existing: existing,
		Incoming: incoming,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.IngestOutcomeDuplicateSkipped, resolution.Outcome)
	assert.Equal(t, existing.ID, resolution.Order.ID)

	stored, err := repo.FindByID(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusSupplierConfirmed, stored.Status)
	assert.True(t, stored.TotalAmount.Equal(existing.TotalAmount))
	assert.Len(t, stored.Items, 1)
	assert.Equal(t, existing.Items[0].ProductID, stored.Items[0].ProductID)
}

func TestResolveKeepNewSupersedesExisting(t *testing.T) {
	db := setupConflictTestDB(t)
	res, repo := newTestResolver(t, db)
	ctx := context.Background()

	salesUser := uuid.New()
	existing := seedOrder(t, repo, creationInput("SRC-2", salesUser), enums.OrderStatusSubmitted)

	incoming := creationInput("SRC-2", salesUser)
	incoming.Items = []orders.ItemInput{
		{ProductID: uuid.New(), Quantity: 4, UnitPrice: decimal.NewFromFloat(10.00)},
	}
	resolution, err := res.Resolve(ctx, Input{
		Existing: existing,
		Incoming: incoming,
		Strategy: enums.ConflictStrategyKeepNew,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.IngestOutcomeCreated, resolution.Outcome)
	assert.NotEqual(t, existing.ID, resolution.Order.ID)
	// import source submits on ingest
	assert.Equal(t, enums.OrderStatusSubmitted, resolution.Order.Status)

	cancelled, err := repo.FindByID(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, cancelled.Status)

	logs, err := repo.ListStatusLogs(ctx, existing.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "superseded", logs[0].Reason)

	// the new order is now what the business key resolves to
	found, err := repo.FindByBusinessKey(ctx, "SRC-2", salesUser)
	require.NoError(t, err)
	assert.Equal(t, resolution.Order.ID, found.ID)
}

func TestResolveReplacePreservesIdentityAndAudit(t *testing.T) {
	db := setupConflictTestDB(t)
	res, repo := newTestResolver(t, db)
	ctx := context.Background()

	salesUser := uuid.New()
	existing := seedOrder(t, repo, creationInput("SRC-3", salesUser), enums.OrderStatusSubmitted)

	incoming := creationInput("SRC-3", salesUser)
	incoming.Items = []orders.ItemInput{
		{ProductID: uuid.New(), Quantity: 2, UnitPrice: decimal.NewFromFloat(30.00)},
		{ProductID: uuid.New(), Quantity: 1, UnitPrice: decimal.NewFromFloat(40.00)},
	}
	incoming.ExtendedFields = map[string]any{"channel": "partner-api"}

	resolution, err := res.Resolve(ctx, Input{
		Existing: existing,
		Incoming: incoming,
		Strategy: enums.ConflictStrategyReplace,
	})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, resolution.Order.ID)

	stored, err := repo.FindByID(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusSubmitted, stored.Status)
	assert.Len(t, stored.Items, 2)
	assert.True(t, stored.TotalAmount.Equal(decimal.NewFromFloat(100.00)),
		"expected 100.00, got %s", stored.TotalAmount)
	assert.Equal(t, 3, stored.TotalQuantity)
}

func TestResolveMergeRequiresExplicitPayload(t *testing.T) {
	db := setupConflictTestDB(t)
	res, repo := newTestResolver(t, db)

	salesUser := uuid.New()
	existing := seedOrder(t, repo, creationInput("SRC-4", salesUser), enums.OrderStatusSubmitted)

	_, err := res.Resolve(context.Background(), Input{
		Existing: existing,
		Incoming: creationInput("SRC-4", salesUser),
		Strategy: enums.ConflictStrategyMerge,
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConflictResolution, typed.Code())
}

func TestResolveMergeValidatesAgainstBothSources(t *testing.T) {
	db := setupConflictTestDB(t)
	res, repo := newTestResolver(t, db)
	ctx := context.Background()

	salesUser := uuid.New()
	existingInput := creationInput("SRC-5", salesUser)
	existing := seedOrder(t, repo, existingInput, enums.OrderStatusSubmitted)

	incoming := creationInput("SRC-5", salesUser)

	// a product from neither source is rejected
	_, err := res.Resolve(ctx, Input{
		Existing: existing,
		Incoming: incoming,
		Strategy: enums.ConflictStrategyMerge,
		MergedItems: []orders.ItemInput{
			{ProductID: uuid.New(), Quantity: 1, UnitPrice: decimal.NewFromFloat(5.00)},
		},
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConflictResolution, typed.Code())

	// the union of both item sets is accepted
	merged := []orders.ItemInput{
		{ProductID: existing.Items[0].ProductID, Quantity: 1, UnitPrice: existing.Items[0].UnitPrice},
		{ProductID: incoming.Items[0].ProductID, Quantity: 2, UnitPrice: incoming.Items[0].UnitPrice},
	}
	resolution, err := res.Resolve(ctx, Input{
		Existing:    existing,
		Incoming:    incoming,
		Strategy:    enums.ConflictStrategyMerge,
		MergedItems: merged,
	})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, resolution.Order.ID)

	stored, err := repo.FindByID(ctx, existing.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 2)
	assert.Equal(t, 3, stored.TotalQuantity)
}

func TestResolveMutatingStrategyAgainstShippedParksInConflict(t *testing.T) {
	db := setupConflictTestDB(t)
	res, repo := newTestResolver(t, db)
	ctx := context.Background()

	salesUser := uuid.New()
	existing := seedOrder(t, repo, creationInput("SRC-6", salesUser), enums.OrderStatusShipped)

	_, err := res.Resolve(ctx, Input{
		Existing: existing,
		Incoming: creationInput("SRC-6", salesUser),
		Strategy: enums.ConflictStrategyMerge,
		MergedItems: []orders.ItemInput{
			{ProductID: existing.Items[0].ProductID, Quantity: 1, UnitPrice: decimal.NewFromFloat(75.00)},
		},
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConflictResolution, typed.Code())

	stored, err := repo.FindByID(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConflict, stored.Status)

	logs, err := repo.ListStatusLogs(ctx, existing.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, enums.OrderStatusShipped, logs[0].FromStatus)
	assert.Equal(t, enums.OrderStatusConflict, logs[0].ToStatus)
}

func TestResolveMutatingStrategyAgainstCompletedParksInConflict(t *testing.T) {
	db := setupConflictTestDB(t)
	res, repo := newTestResolver(t, db)
	ctx := context.Background()

	salesUser := uuid.New()
	existing := seedOrder(t, repo, creationInput("SRC-7", salesUser), enums.OrderStatusCompleted)

	incoming := creationInput("SRC-7", salesUser)
	_, err := res.Resolve(ctx, Input{
		Existing: existing,
		Incoming: incoming,
		Strategy: enums.ConflictStrategyReplace,
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConflictResolution, typed.Code())

	// the park runs through the transition validator, which admits a
	// completed order into conflict for operator review
	stored, err := repo.FindByID(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConflict, stored.Status)

	logs, err := repo.ListStatusLogs(ctx, existing.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, enums.OrderStatusCompleted, logs[0].FromStatus)
	assert.Equal(t, enums.OrderStatusConflict, logs[0].ToStatus)
}
