package annotate

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/nerruler/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/nerruler/pkg/errors"
)

type capturePublisher struct {
	mu   sync.Mutex
	msgs []kafkago.Message
	err  error
}

func (p *capturePublisher) Publish(_ context.Context, msg kafkago.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func consumed(t *testing.T, m kafkago.Message) *kafka.Message {
	t.Helper()
	return &kafka.Message{Topic: m.Topic, Key: m.Key, Value: m.Value}
}

func TestJobHandler_PublishesResult(t *testing.T) {
	svc, _ := newTestService(t, nil)
	pub := &capturePublisher{}
	h, err := NewJobHandler(svc, pub, kafka.TopicAnnotationResults, nil, nil)
	require.NoError(t, err)

	req, err := NewJobMessage(kafka.TopicAnnotationRequests, AnnotationJob{ID: "job-1", Text: scenarioText})
	require.NoError(t, err)
	var reqEnv kafka.EventEnvelope
	require.NoError(t, json.Unmarshal(req.Value, &reqEnv))

	require.NoError(t, h.Handle(context.Background(), consumed(t, req)))
	require.Len(t, pub.msgs, 1)

	out := pub.msgs[0]
	assert.Equal(t, kafka.TopicAnnotationResults, out.Topic)
	assert.Equal(t, []byte("job-1"), out.Key)

	env, err := kafka.EnvelopeFromMessage(consumed(t, out))
	require.NoError(t, err)
	assert.Equal(t, kafka.EventAnnotationCompleted, env.EventType)
	assert.Equal(t, JobSource, env.Source)
	assert.Equal(t, reqEnv.EventID, env.CorrelationID)

	var result AnnotateResult
	require.NoError(t, env.DecodePayload(&result))
	assert.Equal(t, "job-1", result.ID)
	require.Len(t, result.Entities, 2)
	assert.Equal(t, "TensorFlow", result.Entities[0].Text)
}

func TestJobHandler_DefaultsJobIDToEventID(t *testing.T) {
	svc, _ := newTestService(t, nil)
	pub := &capturePublisher{}
	h, err := NewJobHandler(svc, pub, kafka.TopicAnnotationResults, nil, nil)
	require.NoError(t, err)

	env, err := kafka.NewEventEnvelope(kafka.EventAnnotationRequested, "test", AnnotationJob{Text: scenarioText})
	require.NoError(t, err)
	msg, err := env.ToMessage(kafka.TopicAnnotationRequests, nil)
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), consumed(t, msg)))
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, []byte(env.EventID), pub.msgs[0].Key)
}

func TestJobHandler_SkipsForeignEvents(t *testing.T) {
	svc, _ := newTestService(t, nil)
	pub := &capturePublisher{}
	h, err := NewJobHandler(svc, pub, kafka.TopicAnnotationResults, nil, nil)
	require.NoError(t, err)

	env, err := kafka.NewEventEnvelope(kafka.EventAnnotationCompleted, "test", map[string]string{"x": "y"})
	require.NoError(t, err)
	msg, err := env.ToMessage(kafka.TopicAnnotationRequests, nil)
	require.NoError(t, err)

	assert.NoError(t, h.Handle(context.Background(), consumed(t, msg)))
	assert.Empty(t, pub.msgs)
}

// stubService fails every Annotate call with err.
type stubService struct {
	Service
	err error
}

func (s stubService) Annotate(context.Context, *AnnotateInput) (*AnnotateResult, error) {
	return nil, s.err
}

func TestJobHandler_Failures(t *testing.T) {
	svc, _ := newTestService(t, nil)
	req, err := NewJobMessage(kafka.TopicAnnotationRequests, AnnotationJob{ID: "job-2", Text: scenarioText})
	require.NoError(t, err)
	noPayload, _ := json.Marshal(&kafka.EventEnvelope{EventID: "e1", EventType: kafka.EventAnnotationRequested})
	downstream := errors.New(errors.ErrCodeExternalService, "broker down")

	cases := []struct {
		name      string
		svc       Service
		publisher *capturePublisher
		msg       *kafka.Message
		code      errors.ErrorCode
		permanent bool
	}{
		{"undecodable envelope", svc, &capturePublisher{}, &kafka.Message{Value: []byte("{not json")}, errors.ErrCodeSerialization, true},
		{"missing payload", svc, &capturePublisher{}, &kafka.Message{Value: noPayload}, errors.ErrCodeValidation, true},
		{"invalid document", stubService{err: errors.New(errors.ErrCodeInvalidDoc, "token offsets out of range")},
			&capturePublisher{}, consumed(t, req), errors.ErrCodeInvalidDoc, true},
		{"store not loaded", stubService{err: errors.New(errors.ErrCodeStoreNotReady, "no pattern store loaded")},
			&capturePublisher{}, consumed(t, req), errors.ErrCodeStoreNotReady, false},
		{"result publish fails", svc, &capturePublisher{err: downstream}, consumed(t, req), errors.ErrCodeExternalService, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, err := NewJobHandler(tc.svc, tc.publisher, kafka.TopicAnnotationResults, nil, nil)
			require.NoError(t, err)

			err = h.Handle(context.Background(), tc.msg)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, tc.code), err.Error())
			assert.Equal(t, tc.permanent, kafka.IsPermanent(err))
			assert.Empty(t, tc.publisher.msgs)
		})
	}
}

func TestNewJobHandler_Validation(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, err := NewJobHandler(nil, &capturePublisher{}, "t", nil, nil)
	assert.Error(t, err)
	_, err = NewJobHandler(svc, nil, "t", nil, nil)
	assert.Error(t, err)
	_, err = NewJobHandler(svc, &capturePublisher{}, "", nil, nil)
	assert.Error(t, err)
}
