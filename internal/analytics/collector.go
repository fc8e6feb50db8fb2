package analytics

import (
	"context"
	"log/slog"
	"time"

	"github.com/corpusware/termstat/pkg/kafka"
	"github.com/corpusware/termstat/pkg/metrics"
)

// Collector buffers usage events and flushes them to Kafka in batches.
// Record never blocks the caller: when the buffer is full the event is
// dropped and counted instead.
type Collector struct {
	producer      *kafka.Producer
	metrics       *metrics.Metrics
	events        chan Event
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}
}

// NewCollector creates a Collector flushing either when batchSize events
// have accumulated or after flushInterval, whichever comes first.
func NewCollector(producer *kafka.Producer, m *metrics.Metrics, bufferSize, batchSize int, flushInterval time.Duration) *Collector {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if batchSize <= 0 {
		batchSize = 64
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Collector{
		producer:      producer,
		metrics:       m,
		events:        make(chan Event, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "analytics-collector"),
		done:          make(chan struct{}),
	}
}

// Record enqueues an event for publication. A nil Collector and a full
// buffer are both safe: the event is silently dropped (counted when the
// buffer was full).
func (c *Collector) Record(ev Event) {
	if c == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case c.events <- ev:
	default:
		if c.metrics != nil {
			c.metrics.EventsDroppedTotal.Inc()
		}
		c.logger.Warn("usage event dropped, buffer full", "type", ev.Type)
	}
}

// Start launches the batching loop. It returns immediately; the loop runs
// until ctx is cancelled, flushing any remaining events on the way out.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()

		batch := make([]kafka.Event, 0, c.batchSize)
		flush := func(flushCtx context.Context) {
			if len(batch) == 0 {
				return
			}
			if err := c.producer.PublishBatch(flushCtx, batch); err != nil {
				c.logger.Error("batch flush failed", "events", len(batch), "error", err)
			}
			batch = batch[:0]
		}

		for {
			select {
			case ev := <-c.events:
				batch = append(batch, kafka.Event{Key: string(ev.Type), Value: ev})
				if len(batch) >= c.batchSize {
					flush(ctx)
				}
			case <-ticker.C:
				flush(ctx)
			case <-ctx.Done():
				// Drain whatever is still buffered, then flush with a
				// short deadline so shutdown cannot hang on Kafka.
				for {
					select {
					case ev := <-c.events:
						batch = append(batch, kafka.Event{Key: string(ev.Type), Value: ev})
					default:
						flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
						flush(flushCtx)
						cancel()
						return
					}
				}
			}
		}
	}()
	c.logger.Info("analytics collector started",
		"buffer_size", cap(c.events),
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

// Close waits for the batching loop to exit. Call after cancelling the
// context passed to Start.
func (c *Collector) Close() {
	if c == nil {
		return
	}
	<-c.done
}
