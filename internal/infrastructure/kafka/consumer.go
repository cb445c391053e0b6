package kafka

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"

	"github.com/beansplit/beansplit/internal/models"
	"github.com/beansplit/beansplit/internal/repository"
	pkgerrors "github.com/beansplit/beansplit/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// ShareSettler is the slice of the reconciliation service the consumer
// needs. Declared here to keep the dependency pointing inward.
type ShareSettler interface {
	SettleShare(ctx context.Context, purchaseID int64, reference string, callerID int64) (*models.PaymentShare, error)
}

// BankStatementConsumer settles shares from an external bank-statement
// feed. Statements carry only the payment reference; references are
// globally unique, so the share (and its purchase) can be resolved
// without knowing the payer's identity.
type BankStatementConsumer struct {
	reader  *kafka.Reader
	shares  repository.ShareRepository
	settler ShareSettler
}

func NewBankStatementConsumer(brokers []string, topic, groupID string, shares repository.ShareRepository, settler ShareSettler) *BankStatementConsumer {
	return &BankStatementConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		shares:  shares,
		settler: settler,
	}
}

func (c *BankStatementConsumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		slog.Info("bank statement received", "topic", msg.Topic, "key", string(msg.Key))
		c.handleStatement(ctx, msg.Value)
	}
}

type bankStatement struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	PaidAt    string `json:"paid_at"`
}

// handleStatement settles the share matching one statement. Failures
// are logged and skipped, never retried here: a duplicate statement for
// a PAID share is expected noise.
func (c *BankStatementConsumer) handleStatement(ctx context.Context, value []byte) {
	var statement bankStatement
	if err := json.Unmarshal(value, &statement); err != nil {
		slog.Error("failed to unmarshal bank statement", "error", err)
		return
	}
	if statement.Reference == "" {
		slog.Error("bank statement without reference")
		return
	}

	share, err := c.shares.GetByReference(ctx, statement.Reference)
	if err != nil {
		slog.Error("no share for bank statement", "reference", statement.Reference, "error", err)
		return
	}
	if statement.Amount != 0 && statement.Amount != share.Amount {
		slog.Warn("bank statement amount differs from share",
			"reference", statement.Reference,
			"statement_amount", statement.Amount,
			"share_amount", share.Amount)
	}

	// The transfer came from the share owner's account, so they are
	// recorded as the settling party.
	_, err = c.settler.SettleShare(ctx, share.PurchaseID, statement.Reference, share.UserID)
	switch {
	case err == nil:
		slog.Info("share settled from bank statement", "share_id", share.ID, "reference", statement.Reference)
	case stderrors.Is(err, pkgerrors.ErrPaymentAlreadyPaid):
		slog.Warn("bank statement for already paid share", "share_id", share.ID, "reference", statement.Reference)
	default:
		slog.Error("failed to settle share from bank statement", "share_id", share.ID, "reference", statement.Reference, "error", err)
	}
}

func (c *BankStatementConsumer) Close() error {
	return c.reader.Close()
}
