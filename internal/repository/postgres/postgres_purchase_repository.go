package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/beansplit/beansplit/internal/infrastructure/observability"
	"github.com/beansplit/beansplit/internal/models"
	pkgerrors "github.com/beansplit/beansplit/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const purchaseColumns = `id, group_id, buyer_id, bean_ref, total_amount, purchased_on, collected_amount, is_fully_paid, created_at`

type PostgresPurchaseRepository struct {
	db *sql.DB
}

func NewPostgresPurchaseRepository(db *sql.DB) *PostgresPurchaseRepository {
	return &PostgresPurchaseRepository{db: db}
}

func (r *PostgresPurchaseRepository) InsertTx(ctx context.Context, tx *sql.Tx, purchase *models.Purchase) error {
	var err error
	tracer := otel.Tracer("purchase-repository")
	ctx, span := tracer.Start(ctx, "InsertPurchase")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("InsertPurchase", status).Inc()
		observability.RepositoryDuration.WithLabelValues("InsertPurchase").Observe(time.Since(start).Seconds())
	}()

	if purchase == nil {
		err = pkgerrors.ErrNilPurchase
		slog.Error("failed to insert purchase", "method", "InsertTx", "error", err)
		return err
	}
	if purchase.TotalAmount < 0 {
		err = pkgerrors.ErrNegativeAmount
		slog.Error("negative purchase total", "method", "InsertTx", "total_amount", purchase.TotalAmount, "error", err)
		return err
	}

	span.SetAttributes(
		attribute.Int64("buyer_id", purchase.BuyerID),
		attribute.Int64("total_amount", purchase.TotalAmount),
	)

	query := `INSERT INTO purchases (group_id, buyer_id, bean_ref, total_amount, purchased_on) VALUES ($1, $2, $3, $4, $5) RETURNING id, collected_amount, is_fully_paid, created_at`
	var groupID sql.NullInt64
	if purchase.GroupID != nil {
		groupID = sql.NullInt64{Int64: *purchase.GroupID, Valid: true}
	}
	err = tx.QueryRowContext(ctx, query, groupID, purchase.BuyerID, purchase.BeanRef, purchase.TotalAmount, purchase.PurchasedOn).
		Scan(&purchase.ID, &purchase.CollectedAmount, &purchase.IsFullyPaid, &purchase.CreatedAt)
	if err != nil {
		slog.Error("failed to insert purchase", "method", "InsertTx", "buyer_id", purchase.BuyerID, "error", err)
		return fmt.Errorf("failed to insert purchase: %w", err)
	}

	slog.Info("purchase inserted", "method", "InsertTx", "id", purchase.ID, "buyer_id", purchase.BuyerID, "total_amount", purchase.TotalAmount)
	return nil
}

func (r *PostgresPurchaseRepository) GetByID(ctx context.Context, id int64) (*models.Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE id = $1`
	purchase, err := scanPurchase(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrPurchaseNotFound
	}
	if err != nil {
		slog.Error("failed to get purchase", "method", "GetByID", "purchase_id", id, "error", err)
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}
	return purchase, nil
}

// LockTx loads the purchase row FOR UPDATE. Aggregate recomputes of the
// same purchase serialize on this lock.
func (r *PostgresPurchaseRepository) LockTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE id = $1 FOR UPDATE`
	purchase, err := scanPurchase(tx.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrPurchaseNotFound
	}
	if err != nil {
		slog.Error("failed to lock purchase", "method", "LockTx", "purchase_id", id, "error", err)
		return nil, fmt.Errorf("failed to lock purchase: %w", err)
	}
	return purchase, nil
}

func (r *PostgresPurchaseRepository) UpdateAggregateTx(ctx context.Context, tx *sql.Tx, id int64, collected int64, fullyPaid bool) error {
	query := `UPDATE purchases SET collected_amount = $1, is_fully_paid = $2 WHERE id = $3`
	res, err := tx.ExecContext(ctx, query, collected, fullyPaid, id)
	if err != nil {
		slog.Error("failed to update purchase aggregate", "method", "UpdateAggregateTx", "purchase_id", id, "error", err)
		return fmt.Errorf("failed to update purchase aggregate: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update purchase aggregate: %w", err)
	}
	if affected == 0 {
		return pkgerrors.ErrPurchaseNotFound
	}
	slog.Info("purchase aggregate updated", "method", "UpdateAggregateTx", "purchase_id", id, "collected_amount", collected, "is_fully_paid", fullyPaid)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPurchase(row rowScanner) (*models.Purchase, error) {
	var p models.Purchase
	var groupID sql.NullInt64
	err := row.Scan(&p.ID, &groupID, &p.BuyerID, &p.BeanRef, &p.TotalAmount, &p.PurchasedOn, &p.CollectedAmount, &p.IsFullyPaid, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if groupID.Valid {
		p.GroupID = &groupID.Int64
	}
	return &p, nil
}
