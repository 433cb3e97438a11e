package kafka

import (
	"context"
	"fmt"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/nerruler/pkg/errors"
)

type jobPayload struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func TestEventEnvelope_RoundTrip(t *testing.T) {
	env, err := NewEventEnvelope(EventAnnotationRequested, "test", jobPayload{ID: "j1", Text: "J'utilise Keras"})
	require.NoError(t, err)
	env.CorrelationID = "corr-1"
	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, SchemaVersion, env.SchemaVersion)

	km, err := env.ToMessage(TopicAnnotationRequests, []byte("j1"))
	require.NoError(t, err)
	assert.Equal(t, TopicAnnotationRequests, km.Topic)
	assert.Contains(t, km.Headers, kafka.Header{Key: "correlation_id", Value: []byte("corr-1")})

	back, err := EnvelopeFromMessage(fromKafka(km))
	require.NoError(t, err)
	assert.Equal(t, env.EventID, back.EventID)
	assert.Equal(t, "corr-1", back.CorrelationID)

	var p jobPayload
	require.NoError(t, back.DecodePayload(&p))
	assert.Equal(t, jobPayload{ID: "j1", Text: "J'utilise Keras"}, p)
}

func TestEventEnvelope_Errors(t *testing.T) {
	_, err := EnvelopeFromMessage(&Message{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))

	_, err = EnvelopeFromMessage(&Message{Value: []byte("{oops")})
	assert.True(t, errors.IsCode(err, errors.ErrCodeSerialization))

	var p jobPayload
	assert.True(t, errors.IsCode((&EventEnvelope{}).DecodePayload(&p), errors.ErrCodeValidation))
	assert.True(t, errors.IsCode((&EventEnvelope{Payload: []byte(`[1]`)}).DecodePayload(&p), errors.ErrCodeSerialization))

	_, err = NewEventEnvelope("x", "test", func() {})
	assert.True(t, errors.IsCode(err, errors.ErrCodeSerialization))
}

type fakeConn struct {
	existing map[string]bool
	created  []kafka.TopicConfig
	err      error
}

func (c *fakeConn) CreateTopics(topics ...kafka.TopicConfig) error {
	if c.err != nil {
		return c.err
	}
	c.created = append(c.created, topics...)
	return nil
}

func (c *fakeConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	if len(topics) == 1 && c.existing[topics[0]] {
		return []kafka.Partition{{Topic: topics[0]}}, nil
	}
	return nil, kafka.UnknownTopicOrPartition
}

func (c *fakeConn) Close() error { return nil }

func TestTopicManager_EnsureTopics(t *testing.T) {
	conn := &fakeConn{existing: map[string]bool{TopicAnnotationResults: true}}
	m := NewTopicManagerWithConn(conn, nil)

	topics := AnnotationTopics(TopicAnnotationRequests, TopicAnnotationResults, TopicAnnotationDLQ)
	require.Len(t, topics, 3)
	require.NoError(t, m.EnsureTopics(context.Background(), topics))

	require.Len(t, conn.created, 2)
	assert.Equal(t, TopicAnnotationRequests, conn.created[0].Topic)
	assert.Equal(t, TopicAnnotationDLQ, conn.created[1].Topic)
	assert.Equal(t, "retention.ms", conn.created[0].ConfigEntries[0].ConfigName)
	assert.NoError(t, m.Close())
}

func TestTopicManager_CreateTopicErrors(t *testing.T) {
	m := NewTopicManagerWithConn(&fakeConn{err: kafka.TopicAlreadyExists}, nil)
	assert.NoError(t, m.CreateTopic(context.Background(), TopicConfig{Name: "a", NumPartitions: 1, ReplicationFactor: 1}))

	m = NewTopicManagerWithConn(&fakeConn{err: fmt.Errorf("not controller")}, nil)
	err := m.CreateTopic(context.Background(), TopicConfig{Name: "a", NumPartitions: 1, ReplicationFactor: 1})
	assert.True(t, errors.IsCode(err, errors.ErrCodeExternalService))

	err = m.CreateTopic(context.Background(), TopicConfig{Name: "", NumPartitions: 1, ReplicationFactor: 1})
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
	err = m.CreateTopic(context.Background(), TopicConfig{Name: "a"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))

	assert.Len(t, AnnotationTopics("req", "res", ""), 2)
}
