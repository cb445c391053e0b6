package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/beansplit/beansplit/internal/infrastructure/kafka"
	"github.com/beansplit/beansplit/internal/infrastructure/redis"
)

const (
	topicPurchases   = "purchases"
	topicSettlements = "settlements"

	summaryCacheTTL = 5 * time.Minute
)

// publishEvent sends a domain event in the background with a few
// retries. Callers invoke it strictly after their transaction has
// committed; a publish failure is logged, never propagated, and the
// committed state is authoritative.
func publishEvent(producer kafka.KafkaProducer, topic string, key int64, event map[string]interface{}) {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal event", "topic", topic, "key", key, "error", err)
		return
	}
	go func() {
		retries := 3
		for i := 0; i < retries; i++ {
			if err := producer.Send(context.Background(), topic, key, eventBytes); err == nil {
				return
			}
			time.Sleep(time.Second * time.Duration(i+1))
		}
		slog.Error("failed to publish event after retries", "topic", topic, "key", key)
	}()
}

func summaryKey(purchaseID int64) string {
	return fmt.Sprintf("purchase:%d:summary", purchaseID)
}

// invalidateSummary drops the cached summary after a commit changed the
// purchase. A failed delete only delays freshness until the TTL.
func invalidateSummary(ctx context.Context, client redis.RedisClient, purchaseID int64) {
	if err := client.Del(ctx, summaryKey(purchaseID)); err != nil {
		slog.Error("failed to invalidate summary cache", "purchase_id", purchaseID, "error", err)
	}
}
