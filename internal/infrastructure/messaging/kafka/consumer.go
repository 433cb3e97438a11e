package kafka

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/nerruler/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/nerruler/pkg/errors"
)

var (
	ErrAlreadyRunning = errors.New(errors.ErrCodeConflict, "consumer already running")
)

// Header keys added to dead-lettered messages.
const (
	HeaderOriginalTopic = "original_topic"
	HeaderError         = "error_message"
	HeaderAttempts      = "attempts"
)

// Message is a consumed record.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// MessageHandler processes one message. A returned error triggers retries
// unless it is marked with Permanent.
type MessageHandler func(ctx context.Context, msg *Message) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error that a retry cannot fix. The consumer
// dead-letters such a message after the first attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries the Permanent mark.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Publisher is the dead-letter sink.
type Publisher interface {
	Publish(ctx context.Context, msg kafka.Message) error
}

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RetryConfig controls handler retries. After MaxRetries failed retries the
// message goes to DeadLetterTopic if one is set, and is committed either way.
type RetryConfig struct {
	MaxRetries      int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	DeadLetterTopic string
}

func (r *RetryConfig) applyDefaults() {
	if r.RetryBackoff <= 0 {
		r.RetryBackoff = 500 * time.Millisecond
	}
	if r.MaxRetryBackoff <= 0 {
		r.MaxRetryBackoff = 30 * time.Second
	}
}

// ConsumerMetrics counts consumed messages.
type ConsumerMetrics struct {
	MessagesConsumed     atomic.Int64
	MessagesProcessed    atomic.Int64
	MessagesFailed       atomic.Int64
	MessagesRetried      atomic.Int64
	MessagesDeadLettered atomic.Int64
}

// Consumer reads one topic with a consumer group and hands each message to a
// handler.
type Consumer struct {
	reader  ReaderInterface
	handler MessageHandler
	retry   RetryConfig
	dlq     Publisher
	logger  logging.Logger

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	metrics ConsumerMetrics

	// fetchBackoff spaces out retries after a fetch error.
	fetchBackoff time.Duration
}

// NewConsumer creates a group reader on topic.
func NewConsumer(brokers []string, groupID, topic string, handler MessageHandler, retry RetryConfig,
	dlq Publisher, log logging.Logger) (*Consumer, error) {

	if len(brokers) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "kafka brokers required")
	}
	if groupID == "" || topic == "" {
		return nil, errors.New(errors.ErrCodeValidation, "kafka group id and topic required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		Topic:             topic,
		MinBytes:          1,
		MaxBytes:          10 << 20,
		MaxWait:           500 * time.Millisecond,
		SessionTimeout:    30 * time.Second,
		HeartbeatInterval: 3 * time.Second,
		StartOffset:       kafka.FirstOffset,
		Dialer:            &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true},
	})
	return NewConsumerWithReader(reader, handler, retry, dlq, log)
}

// NewConsumerWithReader wraps an existing reader.
func NewConsumerWithReader(reader ReaderInterface, handler MessageHandler, retry RetryConfig,
	dlq Publisher, log logging.Logger) (*Consumer, error) {

	if handler == nil {
		return nil, errors.New(errors.ErrCodeValidation, "message handler required")
	}
	if retry.MaxRetries < 0 {
		return nil, errors.New(errors.ErrCodeValidation, "max retries must be >= 0")
	}
	if retry.DeadLetterTopic != "" && dlq == nil {
		return nil, errors.New(errors.ErrCodeValidation, "dead letter topic set without a publisher")
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	retry.applyDefaults()
	return &Consumer{
		reader:       reader,
		handler:      handler,
		retry:        retry,
		dlq:          dlq,
		logger:       log,
		fetchBackoff: time.Second,
	}, nil
}

// Start runs the consume loop in the background until Close or ctx ends.
func (c *Consumer) Start(ctx context.Context) error {
	if c.running.Swap(true) {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.consumeLoop(ctx)
	c.logger.Info("kafka consumer started")
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch failed", logging.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.fetchBackoff):
			}
			continue
		}
		c.metrics.MessagesConsumed.Add(1)

		msg := fromKafka(m)
		if err := c.process(ctx, msg); err != nil {
			c.metrics.MessagesFailed.Add(1)
		} else {
			c.metrics.MessagesProcessed.Add(1)
		}
		if ctx.Err() != nil {
			// Uncommitted; the group redelivers it.
			return
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			c.logger.Error("kafka commit failed",
				logging.String("topic", m.Topic), logging.Int64("offset", m.Offset), logging.Err(err))
		}
	}
}

// process runs the handler with retries and dead-letters the message when
// they run out. It returns the last handler error.
func (c *Consumer) process(ctx context.Context, msg *Message) error {
	err := c.handler(ctx, msg)
	if err == nil {
		return nil
	}

	backoff := c.retry.RetryBackoff
	attempts := 1
	for i := 0; i < c.retry.MaxRetries && !IsPermanent(err); i++ {
		c.metrics.MessagesRetried.Add(1)
		c.logger.Warn("message handler failed, retrying",
			logging.String("topic", msg.Topic),
			logging.Int64("offset", msg.Offset),
			logging.Int("attempt", attempts),
			logging.Err(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		attempts++
		if err = c.handler(ctx, msg); err == nil {
			return nil
		}
		backoff *= 2
		if backoff > c.retry.MaxRetryBackoff {
			backoff = c.retry.MaxRetryBackoff
		}
	}

	c.logger.Error("message processing failed after retries",
		logging.String("topic", msg.Topic),
		logging.Int64("offset", msg.Offset),
		logging.Int("attempts", attempts),
		logging.Err(err))

	if c.retry.DeadLetterTopic != "" {
		headers := []kafka.Header{
			{Key: HeaderOriginalTopic, Value: []byte(msg.Topic)},
			{Key: HeaderError, Value: []byte(err.Error())},
			{Key: HeaderAttempts, Value: []byte(strconv.Itoa(attempts))},
		}
		for k, v := range msg.Headers {
			headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
		}
		dl := kafka.Message{Topic: c.retry.DeadLetterTopic, Key: msg.Key, Value: msg.Value, Headers: headers}
		if dlErr := c.dlq.Publish(ctx, dl); dlErr != nil {
			c.logger.Error("failed to dead-letter message", logging.Err(dlErr))
			return err
		}
		c.metrics.MessagesDeadLettered.Add(1)
	}
	return err
}

// Processed returns the number of messages handled successfully.
func (c *Consumer) Processed() int64 { return c.metrics.MessagesProcessed.Load() }

// DeadLettered returns the number of messages sent to the dead-letter topic.
func (c *Consumer) DeadLettered() int64 { return c.metrics.MessagesDeadLettered.Load() }

// Close stops the loop and closes the reader.
func (c *Consumer) Close() error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	err := c.reader.Close()
	c.logger.Info("kafka consumer closed", logging.Int64("consumed", c.metrics.MessagesConsumed.Load()))
	return err
}

func fromKafka(m kafka.Message) *Message {
	msg := &Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Timestamp: m.Time,
		Headers:   make(map[string]string, len(m.Headers)),
	}
	for _, h := range m.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}
	return msg
}
