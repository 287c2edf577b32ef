package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []kafka.Message
	fetchErr  error
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if f.fetchErr != nil {
		err := f.fetchErr
		f.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(f.pending) > 0 {
		m := f.pending[0]
		f.pending = f.pending[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeReader) commits() []kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kafka.Message(nil), f.committed...)
}

type partOffset struct {
	partition int
	offset    int64
}

func runConsumer(t *testing.T, c *Consumer, h Handler) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, h) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestConsumer_CommitsInOrderPerPartition(t *testing.T) {
	r := &fakeReader{}
	for off := int64(0); off < 5; off++ {
		for p := 0; p < 3; p++ {
			r.pending = append(r.pending, kafka.Message{Topic: "order.placed", Partition: p, Offset: off})
		}
	}
	c := &Consumer{r: r, workers: 2, maxAttempts: 3, backoff: time.Millisecond, log: zap.NewNop()}

	var (
		mu    sync.Mutex
		calls = map[partOffset]int{}
	)
	h := func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		key := partOffset{m.Partition, m.Offset}
		calls[key]++
		switch {
		case key == partOffset{1, 2}:
			return errors.New("undecodable")
		case key == partOffset{0, 3} && calls[key] == 1:
			return errors.New("redis timeout")
		}
		return nil
	}

	cancel, done := runConsumer(t, c, h)
	require.Eventually(t, func() bool { return len(r.commits()) == 15 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	next := map[int]int64{}
	for _, m := range r.commits() {
		assert.Equal(t, next[m.Partition], m.Offset, "partition %d committed out of order", m.Partition)
		next[m.Partition] = m.Offset + 1
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls[partOffset{1, 2}])
	assert.Equal(t, 2, calls[partOffset{0, 3}])
	assert.Equal(t, 1, calls[partOffset{2, 4}])
	assert.True(t, r.closed)
}

func TestConsumer_ShutdownDuringRetryLeavesOffset(t *testing.T) {
	r := &fakeReader{pending: []kafka.Message{{Topic: "order.cancelled", Partition: 0, Offset: 7}}}
	c := &Consumer{r: r, workers: 1, maxAttempts: 3, backoff: time.Hour, log: zap.NewNop()}

	attempts := make(chan struct{}, 3)
	cancel, done := runConsumer(t, c, func(context.Context, kafka.Message) error {
		attempts <- struct{}{}
		return errors.New("broker down")
	})

	<-attempts
	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, r.commits())
}

func TestConsumer_FetchError(t *testing.T) {
	r := &fakeReader{fetchErr: errors.New("group coordinator not available")}
	c := &Consumer{r: r, workers: 2, maxAttempts: 1, log: zap.NewNop()}

	err := c.Start(context.Background(), func(context.Context, kafka.Message) error { return nil })
	assert.EqualError(t, err, "group coordinator not available")
	assert.True(t, r.closed)
}
