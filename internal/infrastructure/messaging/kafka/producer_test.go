package kafka

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/nerruler/pkg/errors"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) Messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func TestNewProducer_Validation(t *testing.T) {
	_, err := NewProducer(nil, 3, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))

	_, err = NewProducer([]string{"localhost:9092"}, -1, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))

	p, err := NewProducer([]string{"localhost:9092"}, 3, nil)
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, nil)

	require.NoError(t, p.Publish(context.Background(), kafka.Message{Topic: "t", Key: []byte("k"), Value: []byte("v")}))
	msgs := w.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "t", msgs[0].Topic)
	assert.False(t, msgs[0].Time.IsZero())
	assert.Equal(t, int64(1), p.Sent())
}

func TestProducer_PublishValidation(t *testing.T) {
	p := NewProducerWithWriter(&fakeWriter{}, nil)
	ctx := context.Background()

	cases := map[string]kafka.Message{
		"no topic": {Value: []byte("v")},
		"no value": {Topic: "t"},
		"too big":  {Topic: "t", Value: make([]byte, DefaultMaxMessageBytes+1)},
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			assert.True(t, errors.IsCode(p.Publish(ctx, msg), errors.ErrCodeValidation))
		})
	}
}

func TestProducer_WriteFailure(t *testing.T) {
	p := NewProducerWithWriter(&fakeWriter{err: fmt.Errorf("broker down")}, nil)
	err := p.Publish(context.Background(), kafka.Message{Topic: "t", Value: []byte("v")})
	assert.True(t, errors.IsCode(err, errors.ErrCodeExternalService))
	assert.Equal(t, int64(1), p.Failed())
}

func TestProducer_Close(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, nil)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
	assert.Equal(t, ErrProducerClosed, p.Publish(context.Background(), kafka.Message{Topic: "t", Value: []byte("v")}))
}
