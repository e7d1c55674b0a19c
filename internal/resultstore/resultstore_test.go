package resultstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"litqa/internal/model"
)

func TestPutGetRoundTrip(t *testing.T) {
	s := New(time.Hour, nil)
	task := &model.Task{ID: "t1", Status: model.TaskQueued}

	s.Put(context.Background(), task)
	got, ok := s.Get(context.Background(), "t1")
	require.True(t, ok)
	require.Equal(t, task, got)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := New(time.Hour, nil)
	_, ok := s.Get(context.Background(), "missing")
	require.False(t, ok)
}

func TestEvictExpiredRemovesStaleEntries(t *testing.T) {
	s := New(time.Millisecond, nil)
	s.Put(context.Background(), &model.Task{ID: "t1"})

	require.Eventually(t, func() bool {
		return s.EvictExpired() == 1
	}, time.Second, time.Millisecond)

	_, ok := s.Get(context.Background(), "t1")
	require.False(t, ok)
}

func TestDeleteRemovesEntry(t *testing.T) {
	s := New(time.Hour, nil)
	s.Put(context.Background(), &model.Task{ID: "t1"})
	s.Delete("t1")

	_, ok := s.Get(context.Background(), "t1")
	require.False(t, ok)
}
