// Package eventbus optionally mirrors Task Step transitions to an external
// Kafka topic for downstream consumers (dashboards, alerting). It is
// publish-only and never blocks or fails the pipeline: a publish failure is
// logged and dropped.
package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"litqa/internal/model"
)

// Producer abstracts the Kafka writer behavior needed by the bus, mirroring
// internal/orchestrator/handler.go's Producer interface so it can be
// substituted with a fake in tests.
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// StepEvent is the wire envelope published for each Step transition.
type StepEvent struct {
	TaskID    string          `json:"task_id"`
	Step      model.Step      `json:"step"`
	TaskState model.TaskStatus `json:"task_state"`
	EmittedAt time.Time       `json:"emitted_at"`
}

// Bus publishes StepEvents to a configured Kafka topic. A nil Bus (returned
// by New when disabled) is safe to call Publish on; it no-ops.
type Bus struct {
	producer Producer
	topic    string
}

// New builds a Bus writing to topic via producer. Pass a *kafka.Writer in
// production; tests substitute a fake Producer.
func New(producer Producer, topic string) *Bus {
	if producer == nil || topic == "" {
		return nil
	}
	return &Bus{producer: producer, topic: topic}
}

// NewKafkaWriter builds the default production Producer for the given
// broker addresses.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}
}

// Publish fire-and-forgets a StepEvent for taskID/step/state. Safe to call
// on a nil *Bus.
func (b *Bus) Publish(ctx context.Context, taskID string, step model.Step, state model.TaskStatus) {
	if b == nil {
		return
	}
	ev := StepEvent{TaskID: taskID, Step: step, TaskState: state, EmittedAt: time.Now()}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Str("task_id", taskID).Msg("eventbus: marshal step event failed")
		return
	}
	go func() {
		// Detach from the caller's cancellation (a stage shouldn't have its
		// trailing event publish cut short by its own context going away)
		// but keep any trace values it carries.
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := b.producer.WriteMessages(pubCtx, kafka.Message{
			Topic: b.topic,
			Key:   []byte(taskID),
			Value: payload,
		}); err != nil {
			log.Warn().Err(err).Str("task_id", taskID).Str("step", string(step.Name)).Msg("eventbus: publish failed")
		}
	}()
}

// Close releases the underlying Kafka writer, if producer supports it.
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	if w, ok := b.producer.(*kafka.Writer); ok {
		return w.Close()
	}
	return nil
}
