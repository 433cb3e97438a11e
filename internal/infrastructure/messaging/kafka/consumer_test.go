package kafka

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/nerruler/pkg/errors"
)

// fakeReader serves queued messages and then blocks until ctx ends.
type fakeReader struct {
	queue     chan kafka.Message
	mu        sync.Mutex
	committed []kafka.Message
	closed    bool
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{queue: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.queue <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.queue:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) Committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, len(r.committed))
	for i, m := range r.committed {
		out[i] = m.Offset
	}
	return out
}

func msgAt(offset int64, value string) kafka.Message {
	return kafka.Message{
		Topic:   TopicAnnotationRequests,
		Offset:  offset,
		Key:     []byte(fmt.Sprintf("k%d", offset)),
		Value:   []byte(value),
		Headers: []kafka.Header{{Key: "correlation_id", Value: []byte("c1")}},
	}
}

func fastRetry(n int, dlq string) RetryConfig {
	return RetryConfig{MaxRetries: n, RetryBackoff: time.Millisecond, MaxRetryBackoff: 2 * time.Millisecond, DeadLetterTopic: dlq}
}

func TestNewConsumerWithReader_Validation(t *testing.T) {
	r := newFakeReader()
	ok := func(context.Context, *Message) error { return nil }

	_, err := NewConsumerWithReader(r, nil, RetryConfig{}, nil, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))

	_, err = NewConsumerWithReader(r, ok, RetryConfig{MaxRetries: -1}, nil, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))

	_, err = NewConsumerWithReader(r, ok, RetryConfig{DeadLetterTopic: "dlq"}, nil, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))

	_, err = NewConsumer(nil, "g", "t", ok, RetryConfig{}, nil, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
	_, err = NewConsumer([]string{"localhost:9092"}, "", "t", ok, RetryConfig{}, nil, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestConsumer_ProcessesAndCommitsInOrder(t *testing.T) {
	r := newFakeReader(msgAt(1, "a"), msgAt(2, "b"), msgAt(3, "c"))

	var (
		mu   sync.Mutex
		seen []string
	)
	c, err := NewConsumerWithReader(r, func(_ context.Context, m *Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(m.Value))
		assert.Equal(t, "c1", m.Headers["correlation_id"])
		return nil
	}, fastRetry(0, ""), nil, nil)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, ErrAlreadyRunning, c.Start(context.Background()))

	require.Eventually(t, func() bool { return len(r.Committed()) == 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Equal(t, []string{"a", "b", "c"}, seen)
	assert.Equal(t, []int64{1, 2, 3}, r.Committed())
	assert.Equal(t, int64(3), c.Processed())
	assert.True(t, r.closed)
}

func TestConsumer_RetriesThenSucceeds(t *testing.T) {
	r := newFakeReader(msgAt(7, "flaky"))
	var calls atomic.Int32
	c, err := NewConsumerWithReader(r, func(context.Context, *Message) error {
		if calls.Add(1) < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	}, fastRetry(3, ""), nil, nil)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool { return len(r.Committed()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int64(1), c.Processed())
	assert.Equal(t, int64(0), c.DeadLettered())
}

func TestConsumer_DeadLettersAfterRetries(t *testing.T) {
	r := newFakeReader(msgAt(9, "poison"), msgAt(10, "fine"))
	dlq := &fakeWriter{}
	producer := NewProducerWithWriter(dlq, nil)

	var calls atomic.Int32
	c, err := NewConsumerWithReader(r, func(_ context.Context, m *Message) error {
		calls.Add(1)
		if string(m.Value) == "poison" {
			return fmt.Errorf("cannot annotate")
		}
		return nil
	}, fastRetry(2, TopicAnnotationDLQ), producer, nil)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool { return len(r.Committed()) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())

	assert.Equal(t, int32(4), calls.Load(), "three attempts for poison, one for fine")
	assert.Equal(t, []int64{9, 10}, r.Committed())

	msgs := dlq.Messages()
	require.Len(t, msgs, 1)
	dl := msgs[0]
	assert.Equal(t, TopicAnnotationDLQ, dl.Topic)
	assert.Equal(t, []byte("poison"), dl.Value)
	headers := map[string]string{}
	for _, h := range dl.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, TopicAnnotationRequests, headers[HeaderOriginalTopic])
	assert.Equal(t, "cannot annotate", headers[HeaderError])
	assert.Equal(t, "3", headers[HeaderAttempts])
	assert.Equal(t, "c1", headers["correlation_id"])
	assert.Equal(t, int64(1), c.DeadLettered())
}

func TestConsumer_PermanentErrorSkipsRetries(t *testing.T) {
	r := newFakeReader(msgAt(3, "malformed"))
	dlq := &fakeWriter{}
	producer := NewProducerWithWriter(dlq, nil)

	var calls atomic.Int32
	c, err := NewConsumerWithReader(r, func(context.Context, *Message) error {
		calls.Add(1)
		return Permanent(fmt.Errorf("undecodable payload"))
	}, fastRetry(5, TopicAnnotationDLQ), producer, nil)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool { return len(r.Committed()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())

	assert.Equal(t, int32(1), calls.Load())
	msgs := dlq.Messages()
	require.Len(t, msgs, 1)
	headers := map[string]string{}
	for _, h := range msgs[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "undecodable payload", headers[HeaderError])
	assert.Equal(t, "1", headers[HeaderAttempts])
	assert.Equal(t, int64(1), c.DeadLettered())
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))
	assert.False(t, IsPermanent(fmt.Errorf("timeout")))

	cause := errors.New(errors.ErrCodeValidation, "empty message value")
	err := Permanent(cause)
	assert.True(t, IsPermanent(err))
	assert.True(t, IsPermanent(fmt.Errorf("handler: %w", err)))
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
	assert.Equal(t, cause.Error(), err.Error())
}

func TestConsumer_CloseDuringRetryLeavesMessageUncommitted(t *testing.T) {
	r := newFakeReader(msgAt(1, "stuck"))
	started := make(chan struct{})
	var once sync.Once
	c, err := NewConsumerWithReader(r, func(context.Context, *Message) error {
		once.Do(func() { close(started) })
		return fmt.Errorf("always")
	}, RetryConfig{MaxRetries: 5, RetryBackoff: time.Hour}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	<-started
	require.NoError(t, c.Close())
	assert.Empty(t, r.Committed())
}
