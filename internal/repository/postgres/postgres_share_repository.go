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
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const shareColumns = `id, purchase_id, user_id, amount, status, payment_reference, paid_at, paid_by_id, created_at, updated_at`

// uniqueViolation is the Postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

type PostgresShareRepository struct {
	db *sql.DB
}

func NewPostgresShareRepository(db *sql.DB) *PostgresShareRepository {
	return &PostgresShareRepository{db: db}
}

func (r *PostgresShareRepository) InsertTx(ctx context.Context, tx *sql.Tx, share *models.PaymentShare) error {
	var err error
	tracer := otel.Tracer("share-repository")
	ctx, span := tracer.Start(ctx, "InsertShare")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("InsertShare", status).Inc()
		observability.RepositoryDuration.WithLabelValues("InsertShare").Observe(time.Since(start).Seconds())
	}()

	if share == nil {
		err = pkgerrors.ErrNilShare
		slog.Error("failed to insert share", "method", "InsertTx", "error", err)
		return err
	}
	if !share.Status.Valid() {
		err = pkgerrors.ErrInvalidStateTransition
		slog.Error("invalid share status", "method", "InsertTx", "status", share.Status, "error", err)
		return err
	}
	if share.Amount < 0 {
		err = pkgerrors.ErrNegativeAmount
		slog.Error("negative share amount", "method", "InsertTx", "amount", share.Amount, "error", err)
		return err
	}

	span.SetAttributes(
		attribute.Int64("purchase_id", share.PurchaseID),
		attribute.Int64("user_id", share.UserID),
		attribute.Int64("amount", share.Amount),
	)

	query := `INSERT INTO payment_shares (purchase_id, user_id, amount, status, payment_reference) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at, updated_at`
	err = tx.QueryRowContext(ctx, query, share.PurchaseID, share.UserID, share.Amount, share.Status, share.PaymentReference).
		Scan(&share.ID, &share.CreatedAt, &share.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			slog.Error("duplicate share", "method", "InsertTx", "purchase_id", share.PurchaseID, "user_id", share.UserID, "error", err)
			err = pkgerrors.ErrDuplicateReference
			return err
		}
		slog.Error("failed to insert share", "method", "InsertTx", "purchase_id", share.PurchaseID, "user_id", share.UserID, "error", err)
		return fmt.Errorf("failed to insert share: %w", err)
	}

	slog.Info("share inserted", "method", "InsertTx", "id", share.ID, "purchase_id", share.PurchaseID, "user_id", share.UserID, "amount", share.Amount)
	return nil
}

func (r *PostgresShareRepository) ListByPurchase(ctx context.Context, purchaseID int64) ([]models.PaymentShare, error) {
	query := `SELECT ` + shareColumns + ` FROM payment_shares WHERE purchase_id = $1 ORDER BY user_id`
	rows, err := r.db.QueryContext(ctx, query, purchaseID)
	if err != nil {
		slog.Error("failed to list shares", "method", "ListByPurchase", "purchase_id", purchaseID, "error", err)
		return nil, fmt.Errorf("failed to list shares: %w", err)
	}
	defer rows.Close()

	var shares []models.PaymentShare
	for rows.Next() {
		share, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan share: %w", err)
		}
		shares = append(shares, *share)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list shares: %w", err)
	}
	return shares, nil
}

func (r *PostgresShareRepository) GetByReference(ctx context.Context, reference string) (*models.PaymentShare, error) {
	query := `SELECT ` + shareColumns + ` FROM payment_shares WHERE payment_reference = $1`
	share, err := scanShare(r.db.QueryRowContext(ctx, query, reference))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrPaymentShareNotFound
	}
	if err != nil {
		slog.Error("failed to get share by reference", "method", "GetByReference", "error", err)
		return nil, fmt.Errorf("failed to get share by reference: %w", err)
	}
	return share, nil
}

func (r *PostgresShareRepository) GetByUser(ctx context.Context, purchaseID, userID int64) (*models.PaymentShare, error) {
	query := `SELECT ` + shareColumns + ` FROM payment_shares WHERE purchase_id = $1 AND user_id = $2`
	share, err := scanShare(r.db.QueryRowContext(ctx, query, purchaseID, userID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrPaymentShareNotFound
	}
	if err != nil {
		slog.Error("failed to get share by user", "method", "GetByUser", "purchase_id", purchaseID, "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get share by user: %w", err)
	}
	return share, nil
}

// LockByUserTx loads the caller's share FOR UPDATE. Concurrent settles
// of the same share block here until the holder commits or rolls back.
func (r *PostgresShareRepository) LockByUserTx(ctx context.Context, tx *sql.Tx, purchaseID, userID int64) (*models.PaymentShare, error) {
	var err error
	tracer := otel.Tracer("share-repository")
	ctx, span := tracer.Start(ctx, "LockShareByUser")
	span.SetAttributes(attribute.Int64("purchase_id", purchaseID), attribute.Int64("user_id", userID))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("LockShareByUser", status).Inc()
		observability.RepositoryDuration.WithLabelValues("LockShareByUser").Observe(time.Since(start).Seconds())
	}()

	query := `SELECT ` + shareColumns + ` FROM payment_shares WHERE purchase_id = $1 AND user_id = $2 FOR UPDATE`
	share, scanErr := scanShare(tx.QueryRowContext(ctx, query, purchaseID, userID))
	if stderrors.Is(scanErr, sql.ErrNoRows) {
		err = pkgerrors.ErrPaymentShareNotFound
		return nil, err
	}
	if scanErr != nil {
		err = fmt.Errorf("failed to lock share: %w", scanErr)
		slog.Error("failed to lock share", "method", "LockByUserTx", "purchase_id", purchaseID, "user_id", userID, "error", scanErr)
		return nil, err
	}
	return share, nil
}

// LockByReferenceTx loads the share matching (purchase, reference)
// FOR UPDATE. Supports settlement by a party that only knows the
// payment reference, such as a bank-statement matcher.
func (r *PostgresShareRepository) LockByReferenceTx(ctx context.Context, tx *sql.Tx, purchaseID int64, reference string) (*models.PaymentShare, error) {
	var err error
	tracer := otel.Tracer("share-repository")
	ctx, span := tracer.Start(ctx, "LockShareByReference")
	span.SetAttributes(attribute.Int64("purchase_id", purchaseID))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("LockShareByReference", status).Inc()
		observability.RepositoryDuration.WithLabelValues("LockShareByReference").Observe(time.Since(start).Seconds())
	}()

	query := `SELECT ` + shareColumns + ` FROM payment_shares WHERE purchase_id = $1 AND payment_reference = $2 FOR UPDATE`
	share, scanErr := scanShare(tx.QueryRowContext(ctx, query, purchaseID, reference))
	if stderrors.Is(scanErr, sql.ErrNoRows) {
		err = pkgerrors.ErrPaymentShareNotFound
		return nil, err
	}
	if scanErr != nil {
		err = fmt.Errorf("failed to lock share: %w", scanErr)
		slog.Error("failed to lock share", "method", "LockByReferenceTx", "purchase_id", purchaseID, "error", scanErr)
		return nil, err
	}
	return share, nil
}

func (r *PostgresShareRepository) UpdateStatusTx(ctx context.Context, tx *sql.Tx, shareID int64, status models.ShareStatus, paidAt *time.Time, paidByID *int64) error {
	if !status.Valid() {
		return pkgerrors.ErrInvalidStateTransition
	}

	var nullPaidAt sql.NullTime
	if paidAt != nil {
		nullPaidAt = sql.NullTime{Time: *paidAt, Valid: true}
	}
	var nullPaidBy sql.NullInt64
	if paidByID != nil {
		nullPaidBy = sql.NullInt64{Int64: *paidByID, Valid: true}
	}

	query := `UPDATE payment_shares SET status = $1, paid_at = $2, paid_by_id = $3, updated_at = now() WHERE id = $4`
	res, err := tx.ExecContext(ctx, query, status, nullPaidAt, nullPaidBy, shareID)
	if err != nil {
		slog.Error("failed to update share status", "method", "UpdateStatusTx", "share_id", shareID, "status", status, "error", err)
		return fmt.Errorf("failed to update share status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update share status: %w", err)
	}
	if affected == 0 {
		return pkgerrors.ErrPaymentShareNotFound
	}
	slog.Info("share status updated", "method", "UpdateStatusTx", "share_id", shareID, "status", status)
	return nil
}

func (r *PostgresShareRepository) SumPaidTx(ctx context.Context, tx *sql.Tx, purchaseID int64) (int64, error) {
	var sum int64
	query := `SELECT COALESCE(SUM(amount), 0) FROM payment_shares WHERE purchase_id = $1 AND status = 'PAID'`
	if err := tx.QueryRowContext(ctx, query, purchaseID).Scan(&sum); err != nil {
		slog.Error("failed to sum paid shares", "method", "SumPaidTx", "purchase_id", purchaseID, "error", err)
		return 0, fmt.Errorf("failed to sum paid shares: %w", err)
	}
	return sum, nil
}

func (r *PostgresShareRepository) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM payment_shares WHERE payment_reference = $1)`
	if err := r.db.QueryRowContext(ctx, query, reference).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check reference: %w", err)
	}
	return exists, nil
}

func scanShare(row rowScanner) (*models.PaymentShare, error) {
	var s models.PaymentShare
	var paidAt sql.NullTime
	var paidBy sql.NullInt64
	err := row.Scan(&s.ID, &s.PurchaseID, &s.UserID, &s.Amount, &s.Status, &s.PaymentReference, &paidAt, &paidBy, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if paidAt.Valid {
		s.PaidAt = &paidAt.Time
	}
	if paidBy.Valid {
		s.PaidByID = &paidBy.Int64
	}
	return &s, nil
}
