package tracestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"litqa/internal/config"
	"litqa/internal/model"
	"litqa/internal/objectstore"
)

func TestAppendAccumulatesRecordsInOrder(t *testing.T) {
	store := New(objectstore.NewMemoryStore())
	ctx := context.Background()

	store.Append(ctx, "t1", Record{Stage: model.StepDecompose, StartedAt: time.Now(), EndedAt: time.Now()})
	store.Append(ctx, "t1", Record{Stage: model.StepRetrieve, StartedAt: time.Now(), EndedAt: time.Now()})

	doc, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, doc.Records, 2)
	require.Equal(t, model.StepDecompose, doc.Records[0].Stage)
	require.Equal(t, model.StepRetrieve, doc.Records[1].Stage)
}

func TestGetUnknownTaskReturnsEmptyDocument(t *testing.T) {
	store := New(objectstore.NewMemoryStore())
	doc, err := store.Get(context.Background(), "unknown")
	require.NoError(t, err)
	require.Empty(t, doc.Records)
}

func TestWarningAppendsRecordAsynchronously(t *testing.T) {
	store := New(objectstore.NewMemoryStore())
	ctx := context.Background()

	store.Warning(ctx, "t1", model.StepRetrieve, "reranker outage, using retrieval order")
	require.Eventually(t, func() bool {
		doc, err := store.Get(ctx, "t1")
		return err == nil && len(doc.Records) == 1
	}, time.Second, 5*time.Millisecond)

	doc, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "reranker outage, using retrieval order", doc.Records[0].Warning)
}

func TestNewFromConfigBuildsLocalBackend(t *testing.T) {
	store, err := NewFromConfig(context.Background(), config.TraceConfig{Mode: "local", LocalDir: t.TempDir()})
	require.NoError(t, err)
	require.NotNil(t, store)

	store.Append(context.Background(), "t1", Record{Stage: model.StepOutline})
	doc, err := store.Get(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, doc.Records, 1)
}

func TestNewFromConfigDefaultsToLocal(t *testing.T) {
	store, err := NewFromConfig(context.Background(), config.TraceConfig{LocalDir: t.TempDir()})
	require.NoError(t, err)
	require.NotNil(t, store)
}

func TestNewFromConfigMemoryBackend(t *testing.T) {
	store, err := NewFromConfig(context.Background(), config.TraceConfig{Mode: "memory"})
	require.NoError(t, err)
	require.NotNil(t, store)
}
