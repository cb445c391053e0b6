package service

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/beansplit/beansplit/internal/calculator"
	"github.com/beansplit/beansplit/internal/infrastructure/kafka"
	"github.com/beansplit/beansplit/internal/infrastructure/redis"
	"github.com/beansplit/beansplit/internal/models"
	"github.com/beansplit/beansplit/internal/repository"
	"github.com/beansplit/beansplit/internal/spayd"
	pkgerrors "github.com/beansplit/beansplit/pkg/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// PurchaseService creates purchases with their split shares and serves
// purchase read models.
type PurchaseService interface {
	CreateGroupPurchase(ctx context.Context, groupID, buyerID, totalAmount int64, participantIDs []int64, beanRef string, purchasedOn time.Time) (*models.Purchase, []models.PaymentShare, error)
	CreatePersonalPurchase(ctx context.Context, buyerID, totalAmount int64, beanRef string, purchasedOn time.Time) (*models.Purchase, error)
	GetPurchaseSummary(ctx context.Context, purchaseID int64) (*models.PurchaseSummary, error)
	PaymentDescriptor(ctx context.Context, purchaseID, callerID int64) (string, error)
}

type purchaseService struct {
	db          *sql.DB
	purchases   repository.PurchaseRepository
	shares      repository.ShareRepository
	groups      repository.GroupRepository
	aggregator  *PurchaseAggregator
	redisClient redis.RedisClient
	producer    kafka.KafkaProducer
	bankAccount string
	currency    string
}

func NewPurchaseService(
	db *sql.DB,
	purchases repository.PurchaseRepository,
	shares repository.ShareRepository,
	groups repository.GroupRepository,
	aggregator *PurchaseAggregator,
	redisClient redis.RedisClient,
	producer kafka.KafkaProducer,
	bankAccount string,
	currency string,
) *purchaseService {
	return &purchaseService{
		db:          db,
		purchases:   purchases,
		shares:      shares,
		groups:      groups,
		aggregator:  aggregator,
		redisClient: redisClient,
		producer:    producer,
		bankAccount: bankAccount,
		currency:    currency,
	}
}

func (s *purchaseService) CreateGroupPurchase(ctx context.Context, groupID, buyerID, totalAmount int64, participantIDs []int64, beanRef string, purchasedOn time.Time) (*models.Purchase, []models.PaymentShare, error) {
	tracer := otel.Tracer("purchase-service")
	ctx, span := tracer.Start(ctx, "CreateGroupPurchase")
	defer span.End()

	participants, err := s.resolveParticipants(ctx, groupID, participantIDs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "participant resolution failed")
		slog.Error("failed to resolve participants", "group_id", groupID, "error", err)
		return nil, nil, err
	}

	gid := groupID
	purchase := &models.Purchase{
		GroupID:     &gid,
		BuyerID:     buyerID,
		BeanRef:     beanRef,
		TotalAmount: totalAmount,
		PurchasedOn: purchasedOn,
	}
	shares, err := s.createPurchase(ctx, purchase, participants)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "purchase creation failed")
		return nil, nil, err
	}

	slog.Info("group purchase created",
		"purchase_id", purchase.ID,
		"group_id", groupID,
		"buyer_id", buyerID,
		"total_amount", totalAmount,
		"participants", len(participants))
	return purchase, shares, nil
}

func (s *purchaseService) CreatePersonalPurchase(ctx context.Context, buyerID, totalAmount int64, beanRef string, purchasedOn time.Time) (*models.Purchase, error) {
	tracer := otel.Tracer("purchase-service")
	ctx, span := tracer.Start(ctx, "CreatePersonalPurchase")
	defer span.End()

	purchase := &models.Purchase{
		BuyerID:     buyerID,
		BeanRef:     beanRef,
		TotalAmount: totalAmount,
		PurchasedOn: purchasedOn,
	}
	// Degenerate single-share split: the buyer is the only participant
	// and the share settles immediately.
	if _, err := s.createPurchase(ctx, purchase, []int64{buyerID}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "purchase creation failed")
		return nil, err
	}

	slog.Info("personal purchase created", "purchase_id", purchase.ID, "buyer_id", buyerID, "total_amount", totalAmount)
	return purchase, nil
}

// resolveParticipants captures the participant set as of creation time:
// the explicit list when given, otherwise the group's current members.
// The set is deduplicated and sorted ascending by user id, so the
// remainder minor units of an uneven split always go to the lowest ids.
func (s *purchaseService) resolveParticipants(ctx context.Context, groupID int64, participantIDs []int64) ([]int64, error) {
	ids := participantIDs
	if len(ids) == 0 {
		members, err := s.groups.MembersOf(ctx, groupID)
		if err != nil {
			return nil, err
		}
		ids = members
	}

	seen := make(map[int64]struct{}, len(ids))
	participants := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		participants = append(participants, id)
	}
	if len(participants) == 0 {
		return nil, pkgerrors.ErrNoParticipants
	}
	sort.Slice(participants, func(i, j int) bool { return participants[i] < participants[j] })
	return participants, nil
}

// createPurchase runs the whole creation in one transaction: purchase
// row, one UNPAID share per participant, then auto-settlement of the
// buyer's own share with the aggregate recompute. Events and cache
// invalidation happen only after commit.
func (s *purchaseService) createPurchase(ctx context.Context, purchase *models.Purchase, participants []int64) ([]models.PaymentShare, error) {
	amounts, err := calculator.Split(purchase.TotalAmount, len(participants))
	if err != nil {
		return nil, err
	}
	if calculator.Sum(amounts) != purchase.TotalAmount {
		// Indicates a calculator bug, never expected in normal operation.
		slog.Error("split does not sum to purchase total",
			"total_amount", purchase.TotalAmount,
			"share_sum", calculator.Sum(amounts),
			"participants", len(participants))
		return nil, pkgerrors.ErrInvalidSplit
	}

	references := make([]string, len(participants))
	for i := range participants {
		references[i], err = newPaymentReference(ctx, s.shares)
		if err != nil {
			slog.Error("failed to allocate payment reference", "error", err)
			return nil, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := s.purchases.InsertTx(ctx, tx, purchase); err != nil {
		rollbackTx(tx)
		return nil, err
	}

	shares := make([]models.PaymentShare, len(participants))
	var buyerShare *models.PaymentShare
	for i, userID := range participants {
		shares[i] = models.PaymentShare{
			PurchaseID:       purchase.ID,
			UserID:           userID,
			Amount:           amounts[i],
			Status:           models.StatusUnpaid,
			PaymentReference: references[i],
		}
		if err := s.shares.InsertTx(ctx, tx, &shares[i]); err != nil {
			rollbackTx(tx)
			return nil, err
		}
		if userID == purchase.BuyerID {
			buyerShare = &shares[i]
		}
	}

	// Auto-settlement: the buyer already paid the merchant up front, so
	// their own share is settled at creation time.
	if buyerShare != nil {
		now := time.Now().UTC()
		buyerID := purchase.BuyerID
		if err := s.shares.UpdateStatusTx(ctx, tx, buyerShare.ID, models.StatusPaid, &now, &buyerID); err != nil {
			rollbackTx(tx)
			return nil, err
		}
		buyerShare.Status = models.StatusPaid
		buyerShare.PaidAt = &now
		buyerShare.PaidByID = &buyerID

		updated, err := s.aggregator.RecomputeTx(ctx, tx, purchase.ID)
		if err != nil {
			rollbackTx(tx)
			return nil, err
		}
		purchase.CollectedAmount = updated.CollectedAmount
		purchase.IsFullyPaid = updated.IsFullyPaid
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	invalidateSummary(ctx, s.redisClient, purchase.ID)
	publishEvent(s.producer, topicPurchases, purchase.ID, map[string]interface{}{
		"event_id":     uuid.NewString(),
		"event_type":   "purchase.created",
		"purchase_id":  purchase.ID,
		"buyer_id":     purchase.BuyerID,
		"total_amount": purchase.TotalAmount,
		"share_count":  len(shares),
		"created_at":   time.Now().UTC().Format(time.RFC3339),
	})
	return shares, nil
}

func (s *purchaseService) GetPurchaseSummary(ctx context.Context, purchaseID int64) (*models.PurchaseSummary, error) {
	tracer := otel.Tracer("purchase-service")
	ctx, span := tracer.Start(ctx, "GetPurchaseSummary")
	defer span.End()

	key := summaryKey(purchaseID)
	if cached, err := s.redisClient.Get(ctx, key); err == nil {
		var summary models.PurchaseSummary
		if err := json.Unmarshal([]byte(cached), &summary); err != nil {
			slog.Error("failed to unmarshal cached summary", "purchase_id", purchaseID, "error", err)
		} else {
			return &summary, nil
		}
	} else if !stderrors.Is(err, redis.ErrKeyNotFound) {
		slog.Error("failed to read summary cache", "purchase_id", purchaseID, "error", err)
	}

	purchase, err := s.purchases.GetByID(ctx, purchaseID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "purchase lookup failed")
		return nil, err
	}
	shares, err := s.shares.ListByPurchase(ctx, purchaseID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "share listing failed")
		return nil, err
	}

	summary := &models.PurchaseSummary{
		PurchaseID:  purchase.ID,
		Total:       purchase.TotalAmount,
		Collected:   purchase.CollectedAmount,
		Outstanding: purchase.TotalAmount - purchase.CollectedAmount,
		IsFullyPaid: purchase.IsFullyPaid,
		Shares:      shares,
	}

	if data, err := json.Marshal(summary); err == nil {
		if err := s.redisClient.Set(ctx, key, string(data), summaryCacheTTL); err != nil {
			slog.Error("failed to cache summary", "purchase_id", purchaseID, "error", err)
		}
	}
	return summary, nil
}

// PaymentDescriptor formats the caller's share of a purchase as an SPD
// payment string for external rendering.
func (s *purchaseService) PaymentDescriptor(ctx context.Context, purchaseID, callerID int64) (string, error) {
	tracer := otel.Tracer("purchase-service")
	ctx, span := tracer.Start(ctx, "PaymentDescriptor")
	defer span.End()

	purchase, err := s.purchases.GetByID(ctx, purchaseID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "purchase lookup failed")
		return "", err
	}
	share, err := s.shares.GetByUser(ctx, purchaseID, callerID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "share lookup failed")
		return "", err
	}

	return spayd.Encode(spayd.Payment{
		Account:   s.bankAccount,
		Amount:    share.Amount,
		Currency:  s.currency,
		Reference: share.PaymentReference,
		Message:   purchase.BeanRef,
	})
}

// rollbackTx rolls back and logs; used on every error path before the
// commit point so no partial writes survive.
func rollbackTx(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !stderrors.Is(err, sql.ErrTxDone) {
		slog.Error("failed to roll back transaction", "error", err)
	}
}
