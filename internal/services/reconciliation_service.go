package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/beansplit/beansplit/internal/infrastructure/kafka"
	"github.com/beansplit/beansplit/internal/infrastructure/redis"
	"github.com/beansplit/beansplit/internal/models"
	"github.com/beansplit/beansplit/internal/repository"
	pkgerrors "github.com/beansplit/beansplit/pkg/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ReconciliationService applies settlement state transitions to payment
// shares. Every operation runs in one transaction holding the share row
// lock for its full critical section; the purchase aggregate is
// recomputed before commit so it can never drift from the share states.
type ReconciliationService interface {
	// SettleShare marks the target share PAID. The target is the share
	// matching the payment reference when one is given, otherwise the
	// caller's own share. Settling a PAID share is a hard error.
	SettleShare(ctx context.Context, purchaseID int64, reference string, callerID int64) (*models.PaymentShare, error)
	// RefundShare reverses a PAID share to REFUNDED and recomputes the
	// aggregate downward.
	RefundShare(ctx context.Context, purchaseID int64, reference string, callerID int64) (*models.PaymentShare, error)
}

type reconciliationService struct {
	db          *sql.DB
	shares      repository.ShareRepository
	resolver    *ReconciliationResolver
	aggregator  *PurchaseAggregator
	redisClient redis.RedisClient
	producer    kafka.KafkaProducer
}

func NewReconciliationService(
	db *sql.DB,
	shares repository.ShareRepository,
	resolver *ReconciliationResolver,
	aggregator *PurchaseAggregator,
	redisClient redis.RedisClient,
	producer kafka.KafkaProducer,
) *reconciliationService {
	return &reconciliationService{
		db:          db,
		shares:      shares,
		resolver:    resolver,
		aggregator:  aggregator,
		redisClient: redisClient,
		producer:    producer,
	}
}

func (s *reconciliationService) SettleShare(ctx context.Context, purchaseID int64, reference string, callerID int64) (*models.PaymentShare, error) {
	tracer := otel.Tracer("reconciliation-service")
	ctx, span := tracer.Start(ctx, "SettleShare")
	span.SetAttributes(attribute.Int64("purchase_id", purchaseID), attribute.Int64("caller_id", callerID))
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	share, err := s.resolver.ResolveForUpdate(ctx, tx, purchaseID, reference, callerID)
	if err != nil {
		rollbackTx(tx)
		span.RecordError(err)
		span.SetStatus(codes.Error, "share resolution failed")
		slog.Error("failed to resolve share", "purchase_id", purchaseID, "caller_id", callerID, "error", err)
		return nil, err
	}

	// The row lock is held here: of two concurrent settles of the same
	// share, exactly one observes a settleable status. The other blocks
	// until commit and then fails on the PAID check.
	if share.Status == models.StatusPaid {
		rollbackTx(tx)
		span.SetStatus(codes.Error, "share already paid")
		slog.Warn("share already paid", "share_id", share.ID, "purchase_id", purchaseID, "caller_id", callerID)
		return nil, pkgerrors.ErrPaymentAlreadyPaid
	}
	if !models.CanTransition(share.Status, models.StatusPaid) {
		rollbackTx(tx)
		span.SetStatus(codes.Error, "invalid state transition")
		slog.Error("invalid state transition", "share_id", share.ID, "from", share.Status, "to", models.StatusPaid)
		return nil, pkgerrors.ErrInvalidStateTransition
	}

	now := time.Now().UTC()
	if err := s.shares.UpdateStatusTx(ctx, tx, share.ID, models.StatusPaid, &now, &callerID); err != nil {
		rollbackTx(tx)
		span.RecordError(err)
		span.SetStatus(codes.Error, "share update failed")
		return nil, err
	}

	purchase, err := s.aggregator.RecomputeTx(ctx, tx, purchaseID)
	if err != nil {
		rollbackTx(tx)
		span.RecordError(err)
		span.SetStatus(codes.Error, "aggregate recompute failed")
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	share.Status = models.StatusPaid
	share.PaidAt = &now
	share.PaidByID = &callerID

	invalidateSummary(ctx, s.redisClient, purchaseID)
	publishEvent(s.producer, topicSettlements, share.ID, map[string]interface{}{
		"event_id":         uuid.NewString(),
		"event_type":       "share.settled",
		"share_id":         share.ID,
		"purchase_id":      purchaseID,
		"user_id":          share.UserID,
		"amount":           share.Amount,
		"paid_by_id":       callerID,
		"collected_amount": purchase.CollectedAmount,
		"is_fully_paid":    purchase.IsFullyPaid,
		"paid_at":          now.Format(time.RFC3339),
	})

	slog.Info("share settled",
		"share_id", share.ID,
		"purchase_id", purchaseID,
		"paid_by_id", callerID,
		"collected_amount", purchase.CollectedAmount,
		"is_fully_paid", purchase.IsFullyPaid)
	return share, nil
}

func (s *reconciliationService) RefundShare(ctx context.Context, purchaseID int64, reference string, callerID int64) (*models.PaymentShare, error) {
	tracer := otel.Tracer("reconciliation-service")
	ctx, span := tracer.Start(ctx, "RefundShare")
	span.SetAttributes(attribute.Int64("purchase_id", purchaseID), attribute.Int64("caller_id", callerID))
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	share, err := s.resolver.ResolveForUpdate(ctx, tx, purchaseID, reference, callerID)
	if err != nil {
		rollbackTx(tx)
		span.RecordError(err)
		span.SetStatus(codes.Error, "share resolution failed")
		slog.Error("failed to resolve share", "purchase_id", purchaseID, "caller_id", callerID, "error", err)
		return nil, err
	}

	if !models.CanTransition(share.Status, models.StatusRefunded) {
		rollbackTx(tx)
		span.SetStatus(codes.Error, "invalid state transition")
		slog.Error("invalid state transition", "share_id", share.ID, "from", share.Status, "to", models.StatusRefunded)
		return nil, pkgerrors.ErrInvalidStateTransition
	}

	if err := s.shares.UpdateStatusTx(ctx, tx, share.ID, models.StatusRefunded, nil, nil); err != nil {
		rollbackTx(tx)
		span.RecordError(err)
		span.SetStatus(codes.Error, "share update failed")
		return nil, err
	}

	purchase, err := s.aggregator.RecomputeTx(ctx, tx, purchaseID)
	if err != nil {
		rollbackTx(tx)
		span.RecordError(err)
		span.SetStatus(codes.Error, "aggregate recompute failed")
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	share.Status = models.StatusRefunded
	share.PaidAt = nil
	share.PaidByID = nil

	invalidateSummary(ctx, s.redisClient, purchaseID)
	publishEvent(s.producer, topicSettlements, share.ID, map[string]interface{}{
		"event_id":         uuid.NewString(),
		"event_type":       "share.refunded",
		"share_id":         share.ID,
		"purchase_id":      purchaseID,
		"user_id":          share.UserID,
		"amount":           share.Amount,
		"collected_amount": purchase.CollectedAmount,
		"is_fully_paid":    purchase.IsFullyPaid,
		"refunded_at":      time.Now().UTC().Format(time.RFC3339),
	})

	slog.Info("share refunded",
		"share_id", share.ID,
		"purchase_id", purchaseID,
		"collected_amount", purchase.CollectedAmount)
	return share, nil
}
