// Package supervisor drives a Task from submission through every pipeline
// stage: Decompose -> PaperFinder -> Extract -> Outline -> (Synthesis ||
// TableBuilder for list sections) -> Result. It owns Task admission, the
// Task state machine, Step bookkeeping, and per-Task timeout/cancellation.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"litqa/internal/adapters/moderation"
	"litqa/internal/decomposer"
	"litqa/internal/evidence"
	"litqa/internal/eventbus"
	"litqa/internal/logging"
	"litqa/internal/model"
	"litqa/internal/obs"
	"litqa/internal/outline"
	"litqa/internal/paperfinder"
	"litqa/internal/resultstore"
	"litqa/internal/synthesis"
	"litqa/internal/tablebuilder"
	"litqa/internal/tracestore"
)

// ErrAtCapacity is returned by Submit when MaxConcurrent Tasks are already
// running.
var ErrAtCapacity = errors.New("supervisor: at capacity")

// Metrics is the subset of obs.Metrics the Supervisor records against.
type Metrics interface {
	IncCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
}

// Supervisor owns the end-to-end pipeline for every submitted Task.
type Supervisor struct {
	decomposer   *decomposer.Decomposer
	finder       *paperfinder.Finder
	extractor    *evidence.Extractor
	planner      *outline.Planner
	synthesizer  *synthesis.Synthesizer
	tableBuilder *tablebuilder.Builder

	results *resultstore.Store
	traces  *tracestore.Store
	bus     *eventbus.Bus
	metrics Metrics
	filter  moderation.Filter

	sem            chan struct{}
	timeout        time.Duration
	minCitedPapers int
}

// Option configures optional Supervisor dependencies.
type Option func(*Supervisor)

// WithEventBus attaches a Step-event publisher. A nil Bus is safe (eventbus.Bus
// already no-ops on a nil receiver).
func WithEventBus(bus *eventbus.Bus) Option { return func(s *Supervisor) { s.bus = bus } }

// WithMetrics overrides the default no-op Metrics sink.
func WithMetrics(m Metrics) Option { return func(s *Supervisor) { s.metrics = m } }

// WithModerationFilter overrides the default moderation.AllowAll filter. A
// nil Filter is treated the same as AllowAll.
func WithModerationFilter(f moderation.Filter) Option {
	return func(s *Supervisor) {
		if f != nil {
			s.filter = f
		}
	}
}

// WithMinCitedPapers overrides the default minimum number of distinct cited
// papers a list section needs before the Table Builder is activated for it.
func WithMinCitedPapers(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.minCitedPapers = n
		}
	}
}

// noopMetrics discards everything; the zero-value default so Supervisor
// never needs a nil check before recording.
type noopMetrics struct{}

func (noopMetrics) IncCounter(string, map[string]string)            {}
func (noopMetrics) ObserveHistogram(string, float64, map[string]string) {}

// New builds a Supervisor. maxConcurrent bounds admitted Tasks; timeout
// bounds each Task's wall-clock lifetime from in_progress to terminal.
func New(
	dec *decomposer.Decomposer,
	finder *paperfinder.Finder,
	extractor *evidence.Extractor,
	planner *outline.Planner,
	synthesizer *synthesis.Synthesizer,
	tableBuilder *tablebuilder.Builder,
	results *resultstore.Store,
	traces *tracestore.Store,
	maxConcurrent int,
	timeout time.Duration,
	opts ...Option,
) *Supervisor {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	s := &Supervisor{
		decomposer:   dec,
		finder:       finder,
		extractor:    extractor,
		planner:      planner,
		synthesizer:  synthesizer,
		tableBuilder: tableBuilder,
		results:      results,
		traces:       traces,
		metrics:      noopMetrics{},
		filter:       moderation.AllowAll{},
		sem:            make(chan struct{}, maxConcurrent),
		timeout:        timeout,
		minCitedPapers: 3,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Submit admits a new Task for query, returning it immediately in the
// queued state while the pipeline runs in the background. Callers poll the
// Result Store (via Supervisor.Get or directly) for progress and the final
// Result. Returns ErrAtCapacity if MaxConcurrent Tasks are already running.
func (s *Supervisor) Submit(query string) (*model.Task, error) {
	select {
	case s.sem <- struct{}{}:
	default:
		return nil, ErrAtCapacity
	}

	now := time.Now()
	task := &model.Task{
		ID:        uuid.NewString(),
		Query:     query,
		Status:    model.TaskQueued,
		CreatedAt: now,
		UpdatedAt: now,
		Deadline:  now.Add(s.timeout),
	}
	s.results.Put(context.Background(), task)
	s.metrics.IncCounter(obs.MetricTasksActive, nil)

	go s.run(task)
	return task, nil
}

// Get returns the current state of a submitted Task.
func (s *Supervisor) Get(taskID string) (*model.Task, bool) {
	return s.results.Get(context.Background(), taskID)
}

func (s *Supervisor) run(task *model.Task) {
	defer func() { <-s.sem }()

	ctx, cancel := context.WithDeadline(context.Background(), task.Deadline)
	defer cancel()
	ctx = logging.WithTaskLogger(ctx, task.ID, "supervisor")

	if err := task.Transition(model.TaskInProgress); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("supervisor: invalid initial transition")
		return
	}
	s.results.Put(ctx, task)

	var verdict moderation.Verdict
	if err := s.stage(ctx, task, model.StepModerate, "checking query against moderation filter", func(ctx context.Context) error {
		var err error
		verdict, err = s.filter.Check(ctx, task.Query)
		return err
	}); err != nil {
		s.fail(ctx, task, err)
		return
	}
	if !verdict.Allowed {
		reason := verdict.Reason
		if reason == "" {
			reason = "query blocked by moderation filter"
		}
		s.fail(ctx, task, errors.New(reason))
		return
	}

	var dq model.DecomposedQuery
	if err := s.stage(ctx, task, model.StepDecompose, "decomposing query", func(ctx context.Context) error {
		var err error
		dq, err = s.decomposer.Decompose(ctx, task.ID, task.Query)
		return err
	}); err != nil {
		s.fail(ctx, task, err)
		return
	}

	var papers []model.PaperAggregate
	if err := s.stage(ctx, task, model.StepRetrieve, "finding and reranking papers", func(ctx context.Context) error {
		var err error
		papers, err = s.finder.Find(ctx, task.Query, dq)
		return err
	}); err != nil {
		s.fail(ctx, task, err)
		return
	}

	var quotes model.QuoteSet
	if err := s.stage(ctx, task, model.StepExtract, fmt.Sprintf("extracting evidence from %d papers", len(papers)), func(ctx context.Context) error {
		var err error
		quotes, err = s.extractor.ExtractAll(ctx, task.ID, task.Query, papers)
		return err
	}); err != nil {
		s.fail(ctx, task, err)
		return
	}

	var plan model.Outline
	if err := s.stage(ctx, task, model.StepOutline, "planning outline", func(ctx context.Context) error {
		var err error
		plan, err = s.planner.Plan(ctx, task.ID, task.Query, quotes)
		return err
	}); err != nil {
		s.fail(ctx, task, err)
		return
	}

	sections, err := s.synthesizeAndTabulate(ctx, task, plan, papers, quotes)
	if err != nil {
		s.fail(ctx, task, err)
		return
	}

	result := &model.Result{
		TaskID:      task.ID,
		Title:       plan.Title,
		Sections:    sections,
		References:  papers,
		GeneratedAt: time.Now(),
	}
	task.Result = result
	if err := task.Transition(model.TaskComplete); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("supervisor: completing task")
	}
	s.results.Put(ctx, task)
	s.metrics.IncCounter(obs.MetricTasksActive, map[string]string{"outcome": "complete"})
}

// synthesizeAndTabulate runs the Section Synthesizer and, concurrently for
// every list section, the Table Builder. A Table Builder failure is
// non-fatal: the section is kept without its table and the failure is
// traced as a warning, mirroring the reranker-outage degraded path.
func (s *Supervisor) synthesizeAndTabulate(ctx context.Context, task *model.Task, plan model.Outline, papers []model.PaperAggregate, quotes model.QuoteSet) ([]model.GeneratedSection, error) {
	var sections []model.GeneratedSection
	var synthErr error
	tables := make(map[string]*model.Table)
	tableMu := sync.Mutex{}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		synthErr = s.stage(ctx, task, model.StepSynthesis, "synthesizing sections", func(ctx context.Context) error {
			var err error
			sections, err = s.synthesizer.SynthesizeAll(ctx, task.ID, task.Query, plan, quotes)
			return err
		})
	}()

	for _, secPlan := range plan.Sections {
		if !secPlan.IsList {
			continue
		}
		if n := citedPaperCount(secPlan, quotes); n < s.minCitedPapers {
			logging.TaskLogger(ctx).Debug().Str("section_id", secPlan.SectionID).
				Int("cited_papers", n).Int("min_cited_papers", s.minCitedPapers).
				Msg("supervisor: skipping table builder, below minimum cited papers")
			continue
		}
		secPlan := secPlan
		wg.Add(1)
		go func() {
			defer wg.Done()
			var table model.Table
			err := s.stage(ctx, task, model.StepTable, fmt.Sprintf("building table for section %q", secPlan.Title), func(ctx context.Context) error {
				var err error
				table, err = s.tableBuilder.Build(ctx, task.ID, secPlan, papers, quotes)
				return err
			})
			if err != nil {
				logging.TaskLogger(ctx).Warn().Err(err).Str("section_id", secPlan.SectionID).Msg("supervisor: table builder failed, section kept without table")
				s.traces.Warning(ctx, task.ID, model.StepTable, fmt.Sprintf("table builder failed for section %q: %v", secPlan.Title, err))
				return
			}
			tableMu.Lock()
			tables[secPlan.SectionID] = &table
			tableMu.Unlock()
		}()
	}
	wg.Wait()

	if synthErr != nil {
		return nil, synthErr
	}
	for i := range sections {
		if t, ok := tables[sections[i].SectionID]; ok {
			sections[i].Table = t
		}
	}
	return sections, nil
}

// citedPaperCount counts the distinct paper reference numbers among a
// section's assigned quotes — the Table Builder only activates once this
// meets the Supervisor's minCitedPapers floor.
func citedPaperCount(plan model.SectionPlan, quotes model.QuoteSet) int {
	refs := make(map[int]bool, len(plan.QuoteIDs))
	for _, id := range plan.QuoteIDs {
		if q, ok := quotes.ByID(id); ok {
			refs[q.RefNumber] = true
		}
	}
	return len(refs)
}

// stage appends a Step, runs fn, closes the Step, and records duration,
// error, and trace/event-bus side effects. The returned error is fn's
// error, for the caller to decide whether it's fatal.
func (s *Supervisor) stage(ctx context.Context, task *model.Task, name model.StepName, detail string, fn func(ctx context.Context) error) error {
	idx := task.AppendStep(name, detail)
	s.results.Put(ctx, task)

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	task.CloseStep(idx, err)
	s.results.Put(ctx, task)

	s.metrics.ObserveHistogram(obs.MetricStageDuration, duration.Seconds(), map[string]string{"stage": string(name)})
	if err != nil {
		s.metrics.IncCounter(obs.MetricStageErrors, map[string]string{"stage": string(name)})
	}

	s.traces.AppendAsync(ctx, task.ID, tracestore.Record{
		Stage:      name,
		StartedAt:  start,
		EndedAt:    time.Now(),
		DurationMS: duration.Milliseconds(),
		Input:      detail,
		Output:     errString(err),
	})
	s.bus.Publish(ctx, task.ID, task.Steps[idx], task.Status)
	return err
}

// fail transitions the Task to failed, closing any still-running Step with
// the triggering error, and finalizes the trace. A cancellation/timeout
// from ctx is distinguished in the Task's Error detail.
func (s *Supervisor) fail(ctx context.Context, task *model.Task, cause error) {
	detail := cause.Error()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		detail = "timeout: " + detail
	} else if errors.Is(ctx.Err(), context.Canceled) {
		detail = "cancelled: " + detail
	}
	task.Error = detail

	for i := range task.Steps {
		if task.Steps[i].Status == model.StepRunning {
			task.CloseStep(i, cause)
		}
	}

	if err := task.Transition(model.TaskFailed); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("supervisor: failing task")
	}
	s.results.Put(ctx, task)
	s.traces.AppendAsync(ctx, task.ID, tracestore.Record{
		Stage:     "failed",
		StartedAt: time.Now(),
		EndedAt:   time.Now(),
		Warning:   detail,
	})
	s.metrics.IncCounter(obs.MetricTasksActive, map[string]string{"outcome": "failed"})
}

func errString(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}
