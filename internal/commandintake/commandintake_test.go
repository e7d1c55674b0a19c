package commandintake

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"litqa/internal/model"
)

type fakeSubmitter struct {
	task *model.Task
	err  error
}

func (f *fakeSubmitter) Submit(query string) (*model.Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.task, nil
}

type fakeProducer struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (f *fakeProducer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeProducer) snapshot() []kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]kafka.Message, len(f.msgs))
	copy(out, f.msgs)
	return out
}

func TestHandlePublishesTaskIDOnSuccess(t *testing.T) {
	submitter := &fakeSubmitter{task: &model.Task{ID: "task-1"}}
	producer := &fakeProducer{}
	c := New(nil, producer, "responses", submitter)

	c.handle(context.Background(), kafka.Message{Key: []byte("k1"), Value: []byte(`{"query":"what is alpha?"}`)})

	msgs := producer.snapshot()
	require.Len(t, msgs, 1)
	require.Equal(t, "responses", msgs[0].Topic)
	var result SubmitResult
	require.NoError(t, json.Unmarshal(msgs[0].Value, &result))
	require.Equal(t, "task-1", result.TaskID)
	require.Empty(t, result.Error)
}

func TestHandlePublishesErrorOnRejection(t *testing.T) {
	submitter := &fakeSubmitter{err: errors.New("at capacity")}
	producer := &fakeProducer{}
	c := New(nil, producer, "responses", submitter)

	c.handle(context.Background(), kafka.Message{Key: []byte("k1"), Value: []byte(`{"query":"what is alpha?"}`)})

	msgs := producer.snapshot()
	require.Len(t, msgs, 1)
	var result SubmitResult
	require.NoError(t, json.Unmarshal(msgs[0].Value, &result))
	require.Equal(t, "at capacity", result.Error)
	require.Empty(t, result.TaskID)
}

func TestHandleMalformedCommandPublishesError(t *testing.T) {
	submitter := &fakeSubmitter{task: &model.Task{ID: "task-1"}}
	producer := &fakeProducer{}
	c := New(nil, producer, "responses", submitter)

	c.handle(context.Background(), kafka.Message{Key: []byte("k1"), Value: []byte("not json")})

	msgs := producer.snapshot()
	require.Len(t, msgs, 1)
	var result SubmitResult
	require.NoError(t, json.Unmarshal(msgs[0].Value, &result))
	require.Equal(t, "malformed command", result.Error)
}
