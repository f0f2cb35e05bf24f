// Package sequence runs an ordered batch of steps against a page and
// records one chronological event log for the run.
//
// Steps run one at a time. While a step is dispatched, the driving
// goroutine keeps draining collector events into the log, so events fired
// during a step land before that step's own event. The first failing step
// stops the run. Collectors are detached on every exit path.
package sequence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/domdrive/idgen"
	"github.com/hazyhaar/domdrive/internal/action"
	"github.com/hazyhaar/domdrive/internal/assert"
	"github.com/hazyhaar/domdrive/internal/collect"
	"github.com/hazyhaar/domdrive/internal/observability"
	"github.com/hazyhaar/domdrive/internal/page"
	"github.com/hazyhaar/domdrive/internal/query"
)

// Options tune a single run.
type Options struct {
	Collect collect.Options
	// AssertionTimeout applies to assert steps without their own timeout.
	AssertionTimeout time.Duration
	// SessionID prefixes screenshot files.
	SessionID string
}

// Result is the outcome of a run. FailedAt is set iff Success is false.
type Result struct {
	RunID         string          `json:"run_id"`
	Success       bool            `json:"success"`
	Completed     int             `json:"completed"`
	Total         int             `json:"total"`
	FailedAt      *int            `json:"failed_at,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Events        []collect.Event `json:"events"`
	FinalState    page.Info       `json:"final_state"`
}

// Config holds executor-wide settings.
type Config struct {
	AssertionTimeout time.Duration
	EventBuffer      int
	// NewRunID names each Run. Default: idgen.Run.
	NewRunID idgen.Generator
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// Executor runs sequences. It is safe for concurrent use on different
// pages.
type Executor struct {
	actions          *action.Executor
	checker          assert.Checker
	queries          *query.Querier
	metrics          *observability.Metrics
	logger           *slog.Logger
	eventBuffer      int
	assertionTimeout time.Duration
	newRunID         idgen.Generator
}

// New creates an Executor.
func New(actions *action.Executor, queries *query.Querier, cfg Config) *Executor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AssertionTimeout <= 0 {
		cfg.AssertionTimeout = assert.DefaultTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = collect.DefaultBuffer
	}
	if cfg.NewRunID == nil {
		cfg.NewRunID = idgen.Run
	}
	return &Executor{
		actions:          actions,
		queries:          queries,
		metrics:          cfg.Metrics,
		logger:           cfg.Logger,
		eventBuffer:      cfg.EventBuffer,
		assertionTimeout: cfg.AssertionTimeout,
		newRunID:         cfg.NewRunID,
	}
}

type outcome struct {
	ok   bool
	data any
	err  string
}

// Run executes steps against p. It always returns a well-formed Result;
// step failures, including panics during dispatch, are recorded as data.
func (e *Executor) Run(ctx context.Context, p page.Page, steps []Step, opts Options) *Result {
	log := collect.NewLog()
	set := collect.Start(ctx, p, opts.Collect, e.eventBuffer, e.logger)
	defer set.Stop()

	res := &Result{RunID: e.newRunID(), Total: len(steps)}
	for i, st := range steps {
		start := time.Now()
		done := make(chan outcome, 1)
		go func() { done <- e.dispatch(ctx, p, i, st, opts) }()

		var out outcome
	wait:
		for {
			select {
			case ev := <-set.Events():
				e.record(log, ev)
			case out = <-done:
				break wait
			}
		}
		for _, ev := range set.Drain() {
			e.record(log, ev)
		}

		elapsed := time.Since(start)
		e.record(log, collect.StepEvent(i, st, collect.StepResult{
			Success:  out.ok,
			Data:     out.data,
			Error:    out.err,
			Duration: elapsed.Milliseconds(),
		}))
		e.metrics.ObserveStep(st.kind(), out.ok, elapsed)

		if !out.ok {
			failed := i
			res.FailedAt = &failed
			res.FailureReason = out.err
			break
		}
		res.Completed++
	}

	set.Stop()
	for _, ev := range set.Drain() {
		e.record(log, ev)
	}

	res.FinalState = e.finalState(ctx, p)
	res.Success = res.FailedAt == nil
	res.Events = log.Events()
	e.metrics.ObserveSequence(res.Success)

	e.logger.Debug("sequence: finished",
		"run", res.RunID,
		"session", opts.SessionID,
		"collectors", set.Collectors(),
		"success", res.Success,
		"completed", res.Completed,
		"total", res.Total,
		"events", len(res.Events))
	return res
}

func (e *Executor) record(log *collect.Log, ev collect.Event) {
	log.Append(ev)
	e.metrics.ObserveEvent(ev.Type)
}

// dispatch runs one step. A panic is turned into a failing outcome.
func (e *Executor) dispatch(ctx context.Context, p page.Page, index int, st Step, opts Options) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("sequence: step panicked", "index", index, "type", st.Type, "panic", r)
			out = outcome{err: fmt.Sprintf("step panicked: %v", r)}
		}
	}()

	switch st.Type {
	case KindAction:
		r, err := e.actions.Perform(ctx, p, st.action())
		if err != nil {
			return outcome{err: err.Error()}
		}
		return outcome{ok: r.Success, data: r, err: r.Error}

	case KindAssert:
		if st.Condition == nil {
			return outcome{err: "assert step requires condition"}
		}
		timeout := e.assertionTimeout
		if opts.AssertionTimeout > 0 {
			timeout = opts.AssertionTimeout
		}
		if st.Timeout > 0 {
			timeout = time.Duration(st.Timeout) * time.Millisecond
		}
		r := e.checker.Check(ctx, p, *st.Condition, timeout)
		return outcome{ok: r.Success, data: r, err: r.Error}

	case KindQuery:
		data, err := e.queries.Run(ctx, p, opts.SessionID, st.Query, st.Params)
		if err != nil {
			return outcome{err: err.Error()}
		}
		return outcome{ok: true, data: data}

	case "":
		return outcome{err: "missing step type"}
	}
	return outcome{err: fmt.Sprintf("unknown step type %q", st.Type)}
}

// finalState reads the page location; failures leave it empty.
func (e *Executor) finalState(ctx context.Context, p page.Page) (info page.Info) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("sequence: final state panicked", "panic", r)
			info = page.Info{}
		}
	}()
	info, err := p.Info(ctx)
	if err != nil {
		e.logger.Debug("sequence: final state unavailable", "error", err)
		return page.Info{}
	}
	return info
}
