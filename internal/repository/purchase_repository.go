package repository

import (
	"context"
	"database/sql"

	"github.com/beansplit/beansplit/internal/models"
)

// PurchaseRepository persists purchase rows. Methods with a Tx suffix
// run inside the caller's transaction; the caller owns commit/rollback.
type PurchaseRepository interface {
	InsertTx(ctx context.Context, tx *sql.Tx, purchase *models.Purchase) error
	GetByID(ctx context.Context, id int64) (*models.Purchase, error)
	// LockTx loads the purchase row FOR UPDATE, serializing aggregate
	// recomputes of the same purchase.
	LockTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Purchase, error)
	UpdateAggregateTx(ctx context.Context, tx *sql.Tx, id int64, collected int64, fullyPaid bool) error
}
