package ingestion

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dcastellanos/ordergate-backend/internal/conflict"
	"github.com/dcastellanos/ordergate-backend/internal/ledger"
	"github.com/dcastellanos/ordergate-backend/internal/orders"
	"github.com/dcastellanos/ordergate-backend/pkg/db/models"
	"github.com/dcastellanos/ordergate-backend/pkg/enums"
	pkgerrors "github.com/dcastellanos/ordergate-backend/pkg/errors"
	"github.com/dcastellanos/ordergate-backend/pkg/logger"
)

func setupIngestTestDB(t *testing.T) *gorm.DB {
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
);
CREATE TABLE IF NOT EXISTS ingest_ledger_entries (
  id TEXT PRIMARY KEY,
  message_id TEXT NOT NULL,
  idempotency_key TEXT NOT NULL,
  source_order_id TEXT NOT NULL,
  sales_user_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'processing',
  result_message TEXT,
  attempts INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  processed_at DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_ingest_ledger_idempotency_key ON ingest_ledger_entries (idempotency_key);`
	require.NoError(t, db.Exec(ddl).Error)

	// one connection keeps concurrent workers from tripping sqlite busy errors
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

// fakeLockManager is an in-process stand-in for the Redis-backed lock.
type fakeLockManager struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLockManager() *fakeLockManager {
	return &fakeLockManager{held: map[string]bool{}}
}

func (f *fakeLockManager) TryAcquire(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[id] {
		return false, nil
	}
	f.held[id] = true
	return true, nil
}

func (f *fakeLockManager) Release(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, id)
	return nil
}

type fakeMarks struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newFakeMarks() *fakeMarks {
	return &fakeMarks{keys: map[string]bool{}}
}

func (f *fakeMarks) IsSettled(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keys[key], nil
}

func (f *fakeMarks) MarkSettled(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key] = true
	return nil
}

type pipelineFixture struct {
	pipeline   *Pipeline
	locks      *fakeLockManager
	ordersRepo orders.Repository
	ledgerRepo ledger.Repository
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	db := setupIngestTestDB(t)
	tx := gormTxRunner{db: db}
	ordersRepo := orders.NewRepository(db)
	ledgerRepo := ledger.NewRepository(db)

	ledgerSvc, err := ledger.NewService(ledgerRepo)
	require.NoError(t, err)

	resolver, err := conflict.NewResolver(ordersRepo, tx)
	require.NoError(t, err)

	locks := newFakeLockManager()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	pipeline, err := NewPipeline(ledgerSvc, locks, ordersRepo, resolver, tx, logg, nil, nil)
	require.NoError(t, err)

	return &pipelineFixture{
		pipeline:   pipeline,
		locks:      locks,
		ordersRepo: ordersRepo,
		ledgerRepo: ledgerRepo,
	}
}

func testEvent(messageID, sourceOrderID string, salesUserID uuid.UUID) Event {
	return Event{
		MessageID:      messageID,
		SourceOrderID:  sourceOrderID,
		SalesUserID:    salesUserID,
		SalesCompanyID: uuid.New(),
		CustomerID:     uuid.New(),
		Source:         "api",
		Items: []EventItem{
			{ProductID: uuid.New(), Quantity: 2, UnitPrice: decimal.NewFromFloat(50.00)},
			{ProductID: uuid.New(), Quantity: 1, UnitPrice: decimal.NewFromFloat(50.00)},
		},
	}
}

func TestIngestCreatesOrderAndSettlesLedger(t *testing.T) {
	fix := newPipelineFixture(t)
	ctx := context.Background()

	event := testEvent("msg-1", "SRC-1", uuid.New())
	result, err := fix.pipeline.Ingest(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, enums.IngestOutcomeCreated, result.Outcome)
	require.NotNil(t, result.Order)

	// api source submits on ingest
	assert.Equal(t, enums.OrderStatusSubmitted, result.Order.Status)
	assert.True(t, result.Order.TotalAmount.Equal(decimal.NewFromFloat(150.00)),
		"expected 150.00, got %s", result.Order.TotalAmount)

	entry, err := fix.ledgerRepo.FindByIdempotencyKey(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, enums.LedgerStatusSuccess, entry.Status)

	logs, err := fix.ordersRepo.ListStatusLogs(ctx, result.Order.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, enums.OrderStatusSubmitted, logs[0].ToStatus)

	// the lock never outlives the pass
	acquired, err := fix.locks.TryAcquire(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestIngestManualSourceStaysDraft(t *testing.T) {
	fix := newPipelineFixture(t)

	event := testEvent("msg-2", "SRC-2", uuid.New())
	event.Source = "manual"

	result, err := fix.pipeline.Ingest(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, enums.IngestOutcomeCreated, result.Outcome)
	assert.Equal(t, enums.OrderStatusDraft, result.Order.Status)
}

func TestIngestIsIdempotentAcrossRedelivery(t *testing.T) {
	fix := newPipelineFixture(t)
	ctx := context.Background()

	event := testEvent("msg-3", "SRC-3", uuid.New())

	first, err := fix.pipeline.Ingest(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, enums.IngestOutcomeCreated, first.Outcome)

	// redeliver the identical message several times
	for i := 0; i < 3; i++ {
		again, err := fix.pipeline.Ingest(ctx, event)
		require.NoError(t, err)
		assert.Equal(t, enums.IngestOutcomeDuplicateSkipped, again.Outcome)
	}

	// still exactly one submitted order for the business key
	found, err := fix.ordersRepo.FindByBusinessKey(ctx, "SRC-3", event.SalesUserID)
	require.NoError(t, err)
	assert.Equal(t, first.Order.ID, found.ID)

	entry, err := fix.ledgerRepo.FindByIdempotencyKey(ctx, "msg-3")
	require.NoError(t, err)
	assert.Equal(t, enums.LedgerStatusSuccess, entry.Status)
	assert.Equal(t, 1, entry.Attempts)
}

func TestIngestConcurrentWorkersCommitOnce(t *testing.T) {
	fix := newPipelineFixture(t)
	ctx := context.Background()

	event := testEvent("msg-race", "SRC-RACE", uuid.New())

	const workers = 8
	var wg sync.WaitGroup
	results := make([]*Result, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = fix.pipeline.Ingest(ctx, event)
		}(i)
	}
	wg.Wait()

	// exactly one worker commits; the rest see contention or a settled key
	created := 0
	for i := 0; i < workers; i++ {
		switch {
		case errs[i] != nil:
			typed := pkgerrors.As(errs[i])
			require.NotNil(t, typed, "unexpected error: %v", errs[i])
			assert.Equal(t, pkgerrors.CodeLockContention, typed.Code())
		case results[i].Outcome == enums.IngestOutcomeCreated:
			created++
		default:
			assert.Equal(t, enums.IngestOutcomeDuplicateSkipped, results[i].Outcome)
		}
	}
	assert.Equal(t, 1, created)

	found, err := fix.ordersRepo.FindByBusinessKey(ctx, "SRC-RACE", event.SalesUserID)
	require.NoError(t, err)
	require.NotNil(t, found)
}

func TestIngestSettledMarkShortCircuits(t *testing.T) {
	db := setupIngestTestDB(t)
	tx := gormTxRunner{db: db}
	ordersRepo := orders.NewRepository(db)
	ledgerRepo := ledger.NewRepository(db)

	ledgerSvc, err := ledger.NewService(ledgerRepo)
	require.NoError(t, err)
	resolver, err := conflict.NewResolver(ordersRepo, tx)
	require.NoError(t, err)

	marks := newFakeMarks()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	pipeline, err := NewPipeline(ledgerSvc, newFakeLockManager(), ordersRepo, resolver, tx, logg, nil, marks)
	require.NoError(t, err)

	ctx := context.Background()

	// a created ingest leaves a settled mark behind
	event := testEvent("msg-mark-1", "SRC-MARK-1", uuid.New())
	result, err := pipeline.Ingest(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, enums.IngestOutcomeCreated, result.Outcome)
	settled, err := marks.IsSettled(ctx, "msg-mark-1")
	require.NoError(t, err)
	assert.True(t, settled)

	// a marked key skips before touching the ledger at all
	premarked := testEvent("msg-mark-2", "SRC-MARK-2", uuid.New())
	require.NoError(t, marks.MarkSettled(ctx, "msg-mark-2"))
	result, err = pipeline.Ingest(ctx, premarked)
	require.NoError(t, err)
	assert.Equal(t, enums.IngestOutcomeDuplicateSkipped, result.Outcome)
	_, err = ledgerRepo.FindByIdempotencyKey(ctx, "msg-mark-2")
	assert.Equal(t, gorm.ErrRecordNotFound, err)
}

// brokenFinalizeLedger records processing normally but cannot stamp outcomes.
type brokenFinalizeLedger struct{}

func (brokenFinalizeLedger) Lookup(context.Context, string) (*models.IngestLedgerEntry, error) {
	return nil, nil
}

func (brokenFinalizeLedger) RecordProcessing(_ context.Context, input ledger.RecordProcessingInput) (*models.IngestLedgerEntry, error) {
	return &models.IngestLedgerEntry{
		ID:             uuid.New(),
		MessageID:      input.MessageID,
		IdempotencyKey: ledger.DeriveIdempotencyKey(input.IdempotencyKey, input.MessageID),
		Status:         enums.LedgerStatusProcessing,
		Attempts:       1,
	}, nil
}

func (brokenFinalizeLedger) Finalize(context.Context, uuid.UUID, enums.LedgerStatus, string) error {
	return pkgerrors.New(pkgerrors.CodeDependency, "ledger unavailable")
}

func TestIngestSkipsSettledMarkWhenFinalizeFails(t *testing.T) {
	db := setupIngestTestDB(t)
	tx := gormTxRunner{db: db}
	ordersRepo := orders.NewRepository(db)

	resolver, err := conflict.NewResolver(ordersRepo, tx)
	require.NoError(t, err)

	marks := newFakeMarks()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	pipeline, err := NewPipeline(brokenFinalizeLedger{}, newFakeLockManager(), ordersRepo, resolver, tx, logg, nil, marks)
	require.NoError(t, err)

	ctx := context.Background()
	result, err := pipeline.Ingest(ctx, testEvent("msg-mark-3", "SRC-MARK-3", uuid.New()))
	require.NoError(t, err)
	assert.Equal(t, enums.IngestOutcomeCreated, result.Outcome)

	// the durable row never reached success, so the fast path must not
	// claim it did
	settled, err := marks.IsSettled(ctx, "msg-mark-3")
	require.NoError(t, err)
	assert.False(t, settled)
}

func TestIngestHonorsExplicitIdempotencyKey(t *testing.T) {
	fix := newPipelineFixture(t)
	ctx := context.Background()

	salesUser := uuid.New()
	first := testEvent("msg-4a", "SRC-4", salesUser)
	first.IdempotencyKey = "token-x"
	result, err := fix.pipeline.Ingest(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, enums.IngestOutcomeCreated, result.Outcome)

	// a different message carrying the same token is the same logical effect
	second := testEvent("msg-4b", "SRC-4", salesUser)
	second.IdempotencyKey = "token-x"
	again, err := fix.pipeline.Ingest(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, enums.IngestOutcomeDuplicateSkipped, again.Outcome)
}

func TestIngestLockContentionIsRetryable(t *testing.T) {
	fix := newPipelineFixture(t)
	ctx := context.Background()

	event := testEvent("msg-5", "SRC-5", uuid.New())

	// another worker holds the per-message lock
	acquired, err := fix.locks.TryAcquire(ctx, "msg-5")
	require.NoError(t, err)
	require.True(t, acquired)

	_, err = fix.pipeline.Ingest(ctx, event)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeLockContention, typed.Code())
	assert.True(t, pkgerrors.Retryable(err))

	// nothing was persisted
	_, err = fix.ledgerRepo.FindByIdempotencyKey(ctx, "msg-5")
	assert.Equal(t, gorm.ErrRecordNotFound, err)
}

func TestIngestBusinessDuplicateDefaultsToKeepExisting(t *testing.T) {
	fix := newPipelineFixture(t)
	ctx := context.Background()

	salesUser := uuid.New()
	first := testEvent("msg-6a", "SRC-6", salesUser)
	created, err := fix.pipeline.Ingest(ctx, first)
	require.NoError(t, err)
	require.Equal(t, enums.IngestOutcomeCreated, created.Outcome)

	// same business key from a different channel, no strategy supplied
	second := testEvent("msg-6b", "SRC-6", salesUser)
	second.Source = "import"
	result, err := fix.pipeline.Ingest(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, enums.IngestOutcomeDuplicateSkipped, result.Outcome)
	assert.Equal(t, created.Order.ID, result.Order.ID)

	entry, err := fix.ledgerRepo.FindByIdempotencyKey(ctx, "msg-6b")
	require.NoError(t, err)
	assert.Equal(t, enums.LedgerStatusDuplicate, entry.Status)
}

func TestIngestKeepNewSupersedesExisting(t *testing.T) {
	fix := newPipelineFixture(t)
	ctx := context.Background()

	salesUser := uuid.New()
	first := testEvent("msg-7a", "SRC-7", salesUser)
	created, err := fix.pipeline.Ingest(ctx, first)
	require.NoError(t, err)

	second := testEvent("msg-7b", "SRC-7", salesUser)
	second.ConflictStrategy = "keep_new"
	result, err := fix.pipeline.Ingest(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, enums.IngestOutcomeCreated, result.Outcome)
	assert.NotEqual(t, created.Order.ID, result.Order.ID)
	assert.Equal(t, enums.OrderStatusSubmitted, result.Order.Status)

	superseded, err := fix.ordersRepo.FindByID(ctx, created.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, superseded.Status)

	entry, err := fix.ledgerRepo.FindByIdempotencyKey(ctx, "msg-7b")
	require.NoError(t, err)
	assert.Equal(t, enums.LedgerStatusSuccess, entry.Status)
}

func TestIngestAmbiguousCollisionRaisesConflict(t *testing.T) {
	fix := newPipelineFixture(t)
	ctx := context.Background()

	salesUser := uuid.New()
	first := testEvent("msg-8a", "SRC-8", salesUser)
	created, err := fix.pipeline.Ingest(ctx, first)
	require.NoError(t, err)

	// ship the existing order out-of-band
	require.NoError(t, fix.ordersRepo.UpdateStatus(ctx, created.Order.ID, enums.OrderStatusShipped, nil))

	second := testEvent("msg-8b", "SRC-8", salesUser)
	second.ConflictStrategy = "replace"
	result, err := fix.pipeline.Ingest(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, enums.IngestOutcomeConflictRaised, result.Outcome)

	parked, err := fix.ordersRepo.FindByID(ctx, created.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConflict, parked.Status)

	entry, err := fix.ledgerRepo.FindByIdempotencyKey(ctx, "msg-8b")
	require.NoError(t, err)
	assert.Equal(t, enums.LedgerStatusFailed, entry.Status)
}

func TestIngestInvalidPayloadFailsWithLedgerTrace(t *testing.T) {
	fix := newPipelineFixture(t)
	ctx := context.Background()

	event := testEvent("msg-9", "SRC-9", uuid.New())
	event.Items[0].Quantity = 0

	result, err := fix.pipeline.Ingest(ctx, event)
	require.Error(t, err)
	assert.Equal(t, enums.IngestOutcomeFailed, result.Outcome)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	assert.False(t, pkgerrors.Retryable(err))

	entry, err := fix.ledgerRepo.FindByIdempotencyKey(ctx, "msg-9")
	require.NoError(t, err)
	assert.Equal(t, enums.LedgerStatusFailed, entry.Status)
	assert.Equal(t, 1, entry.Attempts)

	// a retry after fixing the payload succeeds under the same key
	event.Items[0].Quantity = 2
	retry, err := fix.pipeline.Ingest(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, enums.IngestOutcomeCreated, retry.Outcome)

	entry, err = fix.ledgerRepo.FindByIdempotencyKey(ctx, "msg-9")
	require.NoError(t, err)
	assert.Equal(t, enums.LedgerStatusSuccess, entry.Status)
	assert.Equal(t, 2, entry.Attempts)
}

func TestIngestReleasesLockOnFailure(t *testing.T) {
	fix := newPipelineFixture(t)
	ctx := context.Background()

	event := testEvent("msg-10", "SRC-10", uuid.New())
	event.Items = []EventItem{{ProductID: uuid.New(), Quantity: -1, UnitPrice: decimal.NewFromFloat(1.00)}}

	_, err := fix.pipeline.Ingest(ctx, event)
	require.Error(t, err)

	acquired, err := fix.locks.TryAcquire(ctx, "msg-10")
	require.NoError(t, err)
	assert.True(t, acquired, "lock must be released on every exit path")
}
