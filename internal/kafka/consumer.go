package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler must return nil only when the message was processed and its offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r           messageReader
	workers     int
	maxAttempts int
	backoff     time.Duration
	log         *zap.Logger
}

func NewConsumer(brokers []string, group string, topics []string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, maxAttempts: 3, backoff: 200 * time.Millisecond, log: log}
}

// Start fetches messages and fans them out to the worker pool until ctx is done.
// A partition always lands on the same worker, so its offsets are handled and
// committed in order.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(id int, in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				c.process(ctx, id, h, m)
			}
		}(i, jobs[i])
	}
	closeAll := func() {
		for _, ch := range jobs {
			close(ch)
		}
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			closeAll()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case jobs[m.Partition%c.workers] <- m:
		case <-ctx.Done():
			closeAll()
			return nil
		}
	}
}

// process retries a failing message; after the last attempt it is committed
// anyway so one poison message cannot stall its partition. A message still
// failing at shutdown is left uncommitted for redelivery.
func (c *Consumer) process(ctx context.Context, id int, h Handler, m kafka.Message) {
	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err = h(ctx, m); err == nil {
			break
		}
		c.log.Warn("handle message",
			zap.Int("worker", id),
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-time.After(c.backoff * time.Duration(attempt)):
		case <-ctx.Done():
			return
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.log.Error("skipping poison message",
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Error(err))
	}
	if err := c.r.CommitMessages(ctx, m); err != nil {
		c.log.Warn("commit offset", zap.Int("worker", id), zap.Error(err))
	}
}
