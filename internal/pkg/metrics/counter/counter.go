package counter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/draftdeck/draftdeck/internal/pkg/cache"
	"github.com/draftdeck/draftdeck/internal/pkg/database"
)

const (
	webhookReceivedKey   = "webhook:counters:received"
	webhookDuplicateKey  = "webhook:counters:duplicate"
	webhookInvalidSigKey = "webhook:counters:invalid_sig"
	webhookFailedKey     = "webhook:counters:failed"
)

// AddWebhookReceived increments the pending received counter for a gateway in Redis
func AddWebhookReceived(gateway string) error {
	return incr(webhookReceivedKey, gateway)
}

// AddWebhookDuplicate increments the pending duplicate counter for a gateway in Redis
func AddWebhookDuplicate(gateway string) error {
	return incr(webhookDuplicateKey, gateway)
}

// AddWebhookInvalidSignature increments the pending invalid-signature counter for a gateway in Redis
func AddWebhookInvalidSignature(gateway string) error {
	return incr(webhookInvalidSigKey, gateway)
}

// AddWebhookFailed increments the pending failure counter for a gateway in Redis
func AddWebhookFailed(gateway string) error {
	return incr(webhookFailedKey, gateway)
}

func incr(key, gateway string) error {
	rdb := cache.GetClient()
	if rdb == nil {
		return nil
	}
	return rdb.HIncrBy(context.Background(), key, gateway, 1).Err()
}

// FlushAll flushes all pending webhook counters to the database
func FlushAll() error {
	if err := flushHashToColumn(webhookReceivedKey, "received_count"); err != nil {
		return err
	}
	if err := flushHashToColumn(webhookDuplicateKey, "duplicate_count"); err != nil {
		return err
	}
	if err := flushHashToColumn(webhookInvalidSigKey, "invalid_sig_count"); err != nil {
		return err
	}
	return flushHashToColumn(webhookFailedKey, "failed_count")
}

// flushHashToColumn drains a Redis hash atomically and applies batched increments
// to the webhook_stats table. Uses RENAME to a temporary key for atomic drain
// without losing in-flight increments.
func flushHashToColumn(redisKey, column string) error {
	ctx := context.Background()
	rdb := cache.GetClient()
	if rdb == nil {
		return nil
	}

	// Atomically move the hash to a temp key for draining
	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", redisKey, tmpKey).Err(); err != nil {
		// If key does not exist, nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		if err.Error() == "redis: nil" {
			return nil
		}
		return err
	}

	// Ensure cleanup of tmpKey even if later steps fail
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	db := database.GetDB()
	for gateway, v := range data {
		inc, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil || inc == 0 {
			continue
		}
		sql := fmt.Sprintf(
			"INSERT INTO webhook_stats (gateway, %s, created_at, updated_at) VALUES (?, ?, NOW(), NOW()) "+
				"ON DUPLICATE KEY UPDATE %s = %s + VALUES(%s), updated_at = NOW()",
			column, column, column, column,
		)
		if err := db.Exec(sql, gateway, inc).Error; err != nil {
			return err
		}
	}
	return nil
}
