// Package tracestore implements the Event Trace Store: an append-only,
// per-Task log of stage records (summarized inputs/outputs, cost, duration)
// backed by internal/objectstore. One JSON document is kept per Task at a
// stable key; writes are serialized per Task so records stay ordered while
// different Tasks write independently.
package tracestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"litqa/internal/config"
	"litqa/internal/logging"
	"litqa/internal/model"
	"litqa/internal/objectstore"
)

// Record is one append-only entry in a Task's trace.
type Record struct {
	Stage      model.StepName `json:"stage"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    time.Time      `json:"ended_at"`
	DurationMS int64          `json:"duration_ms"`
	Input      string         `json:"input,omitempty"`
	Output     string         `json:"output,omitempty"`
	Cost       *model.CostRecord `json:"cost,omitempty"`
	Warning    string         `json:"warning,omitempty"`
}

// Document is the full per-Task trace, stored as a single JSON blob.
type Document struct {
	TaskID  string   `json:"task_id"`
	Records []Record `json:"records"`
}

// Store appends Records to a per-Task Document in an ObjectStore backend.
// All write methods are best-effort: a trace failure is logged and
// swallowed rather than propagated, since the spec requires traces never
// fail a Task.
type Store struct {
	backend objectstore.ObjectStore
	locks   sync.Map // taskID -> *sync.Mutex
}

// New wraps an existing ObjectStore backend.
func New(backend objectstore.ObjectStore) *Store {
	return &Store{backend: backend}
}

// NewFromConfig selects and constructs the configured backend: "local" for
// a LocalFileStore rooted at cfg.LocalDir, "s3" for an S3Store, or "memory"
// for an in-process MemoryStore (used in tests and single-shot runs).
func NewFromConfig(ctx context.Context, cfg config.TraceConfig) (*Store, error) {
	switch cfg.Mode {
	case "s3":
		backend, err := objectstore.NewS3Store(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("tracestore: building s3 backend: %w", err)
		}
		return New(backend), nil
	case "memory":
		return New(objectstore.NewMemoryStore()), nil
	default:
		backend, err := objectstore.NewLocalFileStore(cfg.LocalDir)
		if err != nil {
			return nil, fmt.Errorf("tracestore: building local backend: %w", err)
		}
		return New(backend), nil
	}
}

func (s *Store) key(taskID string) string {
	return fmt.Sprintf("%s.json", taskID)
}

func (s *Store) lockFor(taskID string) *sync.Mutex {
	l, _ := s.locks.LoadOrStore(taskID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// Append adds rec to taskID's trace document, creating it if absent.
// Errors are logged via the task logger and not returned; callers should
// not treat a trace failure as a pipeline failure.
func (s *Store) Append(ctx context.Context, taskID string, rec Record) {
	mu := s.lockFor(taskID)
	mu.Lock()
	defer mu.Unlock()

	doc, err := s.read(ctx, taskID)
	if err != nil {
		logging.TaskLogger(ctx).Warn().Err(err).Str("task_id", taskID).Msg("tracestore: reading existing trace failed, starting fresh")
		doc = Document{TaskID: taskID}
	}
	doc.Records = append(doc.Records, rec)

	if err := s.write(ctx, taskID, doc); err != nil {
		logging.TaskLogger(ctx).Warn().Err(err).Str("task_id", taskID).Msg("tracestore: append failed")
	}
}

// AppendAsync runs Append in a new goroutine so the caller's pipeline
// stage never blocks on a trace write.
func (s *Store) AppendAsync(ctx context.Context, taskID string, rec Record) {
	go s.Append(ctx, taskID, rec)
}

// Warning appends a Record carrying only a warning message, for
// degraded-path notices (dropped paper, reranker outage, dangling
// citation) that must be recorded but don't warrant failing the Task.
func (s *Store) Warning(ctx context.Context, taskID string, stage model.StepName, msg string) {
	now := time.Now()
	s.AppendAsync(ctx, taskID, Record{Stage: stage, StartedAt: now, EndedAt: now, Warning: msg})
}

// Get reads back taskID's full trace document.
func (s *Store) Get(ctx context.Context, taskID string) (Document, error) {
	return s.read(ctx, taskID)
}

func (s *Store) read(ctx context.Context, taskID string) (Document, error) {
	r, _, err := s.backend.Get(ctx, s.key(taskID))
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return Document{TaskID: taskID}, nil
		}
		return Document{}, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *Store) write(ctx context.Context, taskID string, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = s.backend.Put(ctx, s.key(taskID), bytes.NewReader(data), objectstore.PutOptions{ContentType: "application/json"})
	return err
}
