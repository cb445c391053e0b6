package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/beansplit/beansplit/internal/models"
)

// ShareRepository persists payment shares. Lock* methods load the row
// FOR UPDATE; callers hold the lock until their transaction ends.
type ShareRepository interface {
	InsertTx(ctx context.Context, tx *sql.Tx, share *models.PaymentShare) error
	ListByPurchase(ctx context.Context, purchaseID int64) ([]models.PaymentShare, error)
	// GetByReference resolves a share from its globally unique payment
	// reference, without locking. Used by the bank-statement consumer.
	GetByReference(ctx context.Context, reference string) (*models.PaymentShare, error)
	GetByUser(ctx context.Context, purchaseID, userID int64) (*models.PaymentShare, error)
	LockByUserTx(ctx context.Context, tx *sql.Tx, purchaseID, userID int64) (*models.PaymentShare, error)
	LockByReferenceTx(ctx context.Context, tx *sql.Tx, purchaseID int64, reference string) (*models.PaymentShare, error)
	UpdateStatusTx(ctx context.Context, tx *sql.Tx, shareID int64, status models.ShareStatus, paidAt *time.Time, paidByID *int64) error
	// SumPaidTx sums PAID share amounts of a purchase inside the
	// caller's transaction.
	SumPaidTx(ctx context.Context, tx *sql.Tx, purchaseID int64) (int64, error)
	ReferenceExists(ctx context.Context, reference string) (bool, error)
}
