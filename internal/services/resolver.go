package service

import (
	"context"
	"database/sql"

	"github.com/beansplit/beansplit/internal/models"
	"github.com/beansplit/beansplit/internal/repository"
)

// ReconciliationResolver maps an incoming settlement request to exactly
// one share. Resolution and lock acquisition are a single
// SELECT ... FOR UPDATE so the resolved row cannot change underneath
// the caller.
type ReconciliationResolver struct {
	shares repository.ShareRepository
}

func NewReconciliationResolver(shares repository.ShareRepository) *ReconciliationResolver {
	return &ReconciliationResolver{shares: shares}
}

// ResolveForUpdate returns the locked target share. With a reference
// the share is matched by (purchase, payment_reference), the path used
// by callers that do not know the internal user id, such as a
// bank-statement matcher. Without one, the caller's own share is
// resolved by (purchase, caller).
func (r *ReconciliationResolver) ResolveForUpdate(ctx context.Context, tx *sql.Tx, purchaseID int64, reference string, callerID int64) (*models.PaymentShare, error) {
	if reference != "" {
		return r.shares.LockByReferenceTx(ctx, tx, purchaseID, reference)
	}
	return r.shares.LockByUserTx(ctx, tx, purchaseID, callerID)
}
