package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/beansplit/beansplit/internal/infrastructure/redis"
	"github.com/beansplit/beansplit/internal/models"
	pkgerrors "github.com/beansplit/beansplit/pkg/errors"
	"github.com/stretchr/testify/require"
)

const (
	testBankAccount = "CZ6508000000192000145399"
	testCurrency    = "CZK"
)

type testEnv struct {
	mock      sqlmock.Sqlmock
	purchases *fakePurchaseRepo
	shares    *fakeShareRepo
	groups    *fakeGroupRepo
	cache     *fakeCache
	producer  *fakeProducer

	purchaseSvc       *purchaseService
	reconciliationSvc *reconciliationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		mock:      mock,
		purchases: newFakePurchaseRepo(),
		shares:    newFakeShareRepo(),
		groups:    newFakeGroupRepo(),
		cache:     newFakeCache(),
		producer:  &fakeProducer{},
	}
	aggregator := NewPurchaseAggregator(env.purchases, env.shares)
	resolver := NewReconciliationResolver(env.shares)
	env.purchaseSvc = NewPurchaseService(db, env.purchases, env.shares, env.groups, aggregator, env.cache, env.producer, testBankAccount, testCurrency)
	env.reconciliationSvc = NewReconciliationService(db, env.shares, resolver, aggregator, env.cache, env.producer)
	return env
}

// expectTx queues one committed transaction on the mocked database.
func (e *testEnv) expectTx() {
	e.mock.ExpectBegin()
	e.mock.ExpectCommit()
}

// expectRolledBackTx queues one transaction that must roll back.
func (e *testEnv) expectRolledBackTx() {
	e.mock.ExpectBegin()
	e.mock.ExpectRollback()
}

// In-memory collaborators for service tests. Transactions are mocked at
// the *sql.DB level with sqlmock; the fakes ignore the tx handle and
// apply writes immediately.

type fakePurchaseRepo struct {
	purchases map[int64]*models.Purchase
	nextID    int64

	insertErr error
	updateErr error
}

func newFakePurchaseRepo() *fakePurchaseRepo {
	return &fakePurchaseRepo{purchases: make(map[int64]*models.Purchase)}
}

func (f *fakePurchaseRepo) InsertTx(_ context.Context, _ *sql.Tx, purchase *models.Purchase) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.nextID++
	purchase.ID = f.nextID
	purchase.CreatedAt = time.Now().UTC()
	stored := *purchase
	f.purchases[purchase.ID] = &stored
	return nil
}

func (f *fakePurchaseRepo) GetByID(_ context.Context, id int64) (*models.Purchase, error) {
	purchase, ok := f.purchases[id]
	if !ok {
		return nil, pkgerrors.ErrPurchaseNotFound
	}
	copied := *purchase
	return &copied, nil
}

func (f *fakePurchaseRepo) LockTx(ctx context.Context, _ *sql.Tx, id int64) (*models.Purchase, error) {
	return f.GetByID(ctx, id)
}

func (f *fakePurchaseRepo) UpdateAggregateTx(_ context.Context, _ *sql.Tx, id int64, collected int64, fullyPaid bool) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	purchase, ok := f.purchases[id]
	if !ok {
		return pkgerrors.ErrPurchaseNotFound
	}
	purchase.CollectedAmount = collected
	purchase.IsFullyPaid = fullyPaid
	return nil
}

type fakeShareRepo struct {
	shares map[int64]*models.PaymentShare
	nextID int64

	insertErr error
	updateErr error
}

func newFakeShareRepo() *fakeShareRepo {
	return &fakeShareRepo{shares: make(map[int64]*models.PaymentShare)}
}

func (f *fakeShareRepo) InsertTx(_ context.Context, _ *sql.Tx, share *models.PaymentShare) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	for _, existing := range f.shares {
		if existing.PaymentReference == share.PaymentReference {
			return pkgerrors.ErrDuplicateReference
		}
		if existing.PurchaseID == share.PurchaseID && existing.UserID == share.UserID {
			return pkgerrors.ErrDuplicateReference
		}
	}
	f.nextID++
	share.ID = f.nextID
	now := time.Now().UTC()
	share.CreatedAt = now
	share.UpdatedAt = now
	stored := *share
	f.shares[share.ID] = &stored
	return nil
}

func (f *fakeShareRepo) ListByPurchase(_ context.Context, purchaseID int64) ([]models.PaymentShare, error) {
	var shares []models.PaymentShare
	for _, share := range f.shares {
		if share.PurchaseID == purchaseID {
			shares = append(shares, *share)
		}
	}
	sort.Slice(shares, func(i, j int) bool { return shares[i].UserID < shares[j].UserID })
	return shares, nil
}

func (f *fakeShareRepo) GetByReference(_ context.Context, reference string) (*models.PaymentShare, error) {
	for _, share := range f.shares {
		if share.PaymentReference == reference {
			copied := *share
			return &copied, nil
		}
	}
	return nil, pkgerrors.ErrPaymentShareNotFound
}

func (f *fakeShareRepo) GetByUser(_ context.Context, purchaseID, userID int64) (*models.PaymentShare, error) {
	for _, share := range f.shares {
		if share.PurchaseID == purchaseID && share.UserID == userID {
			copied := *share
			return &copied, nil
		}
	}
	return nil, pkgerrors.ErrPaymentShareNotFound
}

func (f *fakeShareRepo) LockByUserTx(ctx context.Context, _ *sql.Tx, purchaseID, userID int64) (*models.PaymentShare, error) {
	return f.GetByUser(ctx, purchaseID, userID)
}

func (f *fakeShareRepo) LockByReferenceTx(_ context.Context, _ *sql.Tx, purchaseID int64, reference string) (*models.PaymentShare, error) {
	for _, share := range f.shares {
		if share.PurchaseID == purchaseID && share.PaymentReference == reference {
			copied := *share
			return &copied, nil
		}
	}
	return nil, pkgerrors.ErrPaymentShareNotFound
}

func (f *fakeShareRepo) UpdateStatusTx(_ context.Context, _ *sql.Tx, shareID int64, status models.ShareStatus, paidAt *time.Time, paidByID *int64) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	share, ok := f.shares[shareID]
	if !ok {
		return pkgerrors.ErrPaymentShareNotFound
	}
	share.Status = status
	share.PaidAt = paidAt
	share.PaidByID = paidByID
	share.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeShareRepo) SumPaidTx(_ context.Context, _ *sql.Tx, purchaseID int64) (int64, error) {
	var sum int64
	for _, share := range f.shares {
		if share.PurchaseID == purchaseID && share.Status == models.StatusPaid {
			sum += share.Amount
		}
	}
	return sum, nil
}

func (f *fakeShareRepo) ReferenceExists(_ context.Context, reference string) (bool, error) {
	for _, share := range f.shares {
		if share.PaymentReference == reference {
			return true, nil
		}
	}
	return false, nil
}

type fakeGroupRepo struct {
	members map[int64][]int64
}

func newFakeGroupRepo() *fakeGroupRepo {
	return &fakeGroupRepo{members: make(map[int64][]int64)}
}

func (f *fakeGroupRepo) MembersOf(_ context.Context, groupID int64) ([]int64, error) {
	return f.members[groupID], nil
}

func (f *fakeGroupRepo) IsMember(_ context.Context, groupID, userID int64) (bool, error) {
	for _, member := range f.members[groupID] {
		if member == userID {
			return true, nil
		}
	}
	return false, nil
}

type fakeCache struct {
	data map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string]string)}
}

func (f *fakeCache) Get(_ context.Context, key string) (string, error) {
	value, ok := f.data[key]
	if !ok {
		return "", redis.ErrKeyNotFound
	}
	return value, nil
}

func (f *fakeCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	f.data[key] = value.(string)
	return nil
}

func (f *fakeCache) Del(_ context.Context, key string) error {
	delete(f.data, key)
	return nil
}

func (f *fakeCache) Close() error { return nil }

// fakeProducer records sends; publishEvent calls it from a goroutine,
// hence the mutex.
type fakeProducer struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeProducer) Send(_ context.Context, topic string, _ int64, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, topic)
	return nil
}

func (f *fakeProducer) Close() error { return nil }
