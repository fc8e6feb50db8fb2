package cache

import (
	"context"
	"log/slog"

	"github.com/corpusware/termstat/internal/analyzer"
	"github.com/corpusware/termstat/pkg/kafka"
)

// HandleInvalidate returns a Kafka handler that flushes the cache for each
// corpus the analyzer reports as recomputed. Malformed events are logged and
// committed. Redis failures are returned so the message is redelivered and
// stale entries do not outlive the next consume attempt.
func HandleInvalidate(c *Cache) kafka.MessageHandler {
	logger := slog.Default().With("component", "cache-invalidator")
	return func(ctx context.Context, key, value []byte) error {
		event, err := kafka.DecodeJSON[analyzer.CacheInvalidateEvent](value)
		if err != nil {
			logger.Error("skipping malformed invalidation event", "error", err)
			return nil
		}
		deleted, err := c.InvalidateCorpus(ctx, event.Corpus)
		if err != nil {
			logger.Error("cache invalidation failed", "corpus", event.Corpus, "error", err)
			return err
		}
		logger.Debug("processed invalidation event",
			"corpus", event.Corpus, "reason", event.Reason, "keys_deleted", deleted)
		return nil
	}
}
