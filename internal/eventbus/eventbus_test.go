package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"litqa/internal/model"
)

type fakeProducer struct {
	mu   sync.Mutex
	msgs []kafka.Message
	fail error
}

func (p *fakeProducer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if p.fail != nil {
		return p.fail
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func (p *fakeProducer) snapshot() []kafka.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]kafka.Message(nil), p.msgs...)
}

func TestNewReturnsNilWhenDisabled(t *testing.T) {
	require.Nil(t, New(nil, "topic"))
	require.Nil(t, New(&fakeProducer{}, ""))
}

func TestPublishIsNoOpOnNilBus(t *testing.T) {
	var b *Bus
	require.NotPanics(t, func() {
		b.Publish(context.Background(), "t1", model.Step{Name: model.StepDecompose}, model.TaskInProgress)
	})
}

func TestPublishSendsStepEvent(t *testing.T) {
	producer := &fakeProducer{}
	b := New(producer, "litqa.steps")

	step := model.Step{Index: 0, Name: model.StepRetrieve, Status: model.StepDone}
	b.Publish(context.Background(), "t1", step, model.TaskInProgress)

	require.Eventually(t, func() bool {
		return len(producer.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	msgs := producer.snapshot()
	require.Equal(t, "litqa.steps", msgs[0].Topic)
	require.Equal(t, "t1", string(msgs[0].Key))

	var ev StepEvent
	require.NoError(t, json.Unmarshal(msgs[0].Value, &ev))
	require.Equal(t, "t1", ev.TaskID)
	require.Equal(t, model.StepRetrieve, ev.Step.Name)
	require.Equal(t, model.TaskInProgress, ev.TaskState)
}

func TestPublishSwallowsProducerError(t *testing.T) {
	producer := &fakeProducer{fail: context.DeadlineExceeded}
	b := New(producer, "litqa.steps")

	require.NotPanics(t, func() {
		b.Publish(context.Background(), "t1", model.Step{Name: model.StepOutline}, model.TaskInProgress)
	})
}
