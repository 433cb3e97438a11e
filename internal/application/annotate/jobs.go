package annotate

import (
	"context"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/turtacn/nerruler/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/nerruler/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/nerruler/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/nerruler/pkg/errors"
)

// JobSource stamps envelopes produced by the worker.
const JobSource = "nerruler-worker"

// AnnotationJob is the payload of an annotation.requested event.
type AnnotationJob struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Index bool   `json:"index,omitempty"`
}

// JobHandler turns queued annotation jobs into result events.
type JobHandler struct {
	svc         Service
	publisher   kafka.Publisher
	resultTopic string
	metrics     *prometheus.AppMetrics
	logger      logging.Logger
}

// NewJobHandler creates a handler publishing results to resultTopic.
func NewJobHandler(svc Service, publisher kafka.Publisher, resultTopic string,
	metrics *prometheus.AppMetrics, log logging.Logger) (*JobHandler, error) {
	if svc == nil || publisher == nil {
		return nil, errors.InvalidParam("service and publisher are required")
	}
	if resultTopic == "" {
		return nil, errors.InvalidParam("result topic is required")
	}
	if metrics == nil {
		metrics = prometheus.NewNoopAppMetrics()
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &JobHandler{svc: svc, publisher: publisher, resultTopic: resultTopic, metrics: metrics, logger: log}, nil
}

// Handle is a kafka.MessageHandler. Transient failures make the consumer
// retry and eventually dead-letter the message. Undecodable messages and
// client errors are marked permanent and dead-lettered at once.
func (h *JobHandler) Handle(ctx context.Context, msg *kafka.Message) error {
	env, err := kafka.EnvelopeFromMessage(msg)
	if err != nil {
		return h.reject(err)
	}
	if env.EventType != kafka.EventAnnotationRequested {
		h.logger.Debug("skipping foreign event", logging.String("event_type", env.EventType))
		return nil
	}

	var job AnnotationJob
	if err := env.DecodePayload(&job); err != nil {
		return h.reject(err)
	}
	if job.ID == "" {
		job.ID = env.EventID
	}

	result, err := h.svc.Annotate(ctx, &AnnotateInput{ID: job.ID, Text: job.Text, Index: job.Index})
	if err != nil {
		err = errors.Wrap(err, errors.CodeUnknown, "annotation job failed").WithDetail("job_id=" + job.ID)
		if errors.IsClientError(errors.GetCode(err)) {
			return h.reject(err)
		}
		h.metrics.RecordJob("retry")
		return err
	}

	out, err := kafka.NewEventEnvelope(kafka.EventAnnotationCompleted, JobSource, result)
	if err != nil {
		return err
	}
	out.CorrelationID = env.EventID
	kmsg, err := out.ToMessage(h.resultTopic, []byte(job.ID))
	if err != nil {
		return err
	}
	if err := h.publisher.Publish(ctx, kmsg); err != nil {
		h.metrics.RecordJob("retry")
		return err
	}

	h.metrics.RecordJob("ok")
	h.logger.Debug("annotation job completed",
		logging.String("job_id", job.ID),
		logging.Int("entities", len(result.Entities)))
	return nil
}

func (h *JobHandler) reject(err error) error {
	h.metrics.RecordJob("rejected")
	h.logger.Warn("annotation job rejected", logging.Err(err))
	return kafka.Permanent(err)
}

// NewJobMessage wraps a job as an annotation.requested message for topic.
func NewJobMessage(topic string, job AnnotationJob) (kafkago.Message, error) {
	env, err := kafka.NewEventEnvelope(kafka.EventAnnotationRequested, "nerruler-cli", job)
	if err != nil {
		return kafkago.Message{}, err
	}
	if job.ID == "" {
		job.ID = env.EventID
	}
	return env.ToMessage(topic, []byte(job.ID))
}
