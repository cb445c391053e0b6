package service

import (
	"context"
	"database/sql"

	"github.com/beansplit/beansplit/internal/models"
	"github.com/beansplit/beansplit/internal/repository"
)

// PurchaseAggregator recomputes a purchase's collected total and
// fully-paid flag from its shares. It must run inside the same
// transaction as the share mutation that changed the sum, otherwise a
// concurrent settlement of a sibling share can overwrite the aggregate.
type PurchaseAggregator struct {
	purchases repository.PurchaseRepository
	shares    repository.ShareRepository
}

func NewPurchaseAggregator(purchases repository.PurchaseRepository, shares repository.ShareRepository) *PurchaseAggregator {
	return &PurchaseAggregator{purchases: purchases, shares: shares}
}

// RecomputeTx locks the purchase row, sums PAID share amounts and
// writes collected_amount / is_fully_paid. Lock order is always the
// share row first, then the parent purchase row.
func (a *PurchaseAggregator) RecomputeTx(ctx context.Context, tx *sql.Tx, purchaseID int64) (*models.Purchase, error) {
	purchase, err := a.purchases.LockTx(ctx, tx, purchaseID)
	if err != nil {
		return nil, err
	}

	collected, err := a.shares.SumPaidTx(ctx, tx, purchaseID)
	if err != nil {
		return nil, err
	}

	fullyPaid := collected >= purchase.TotalAmount
	if err := a.purchases.UpdateAggregateTx(ctx, tx, purchaseID, collected, fullyPaid); err != nil {
		return nil, err
	}

	purchase.CollectedAmount = collected
	purchase.IsFullyPaid = fullyPaid
	return purchase, nil
}
