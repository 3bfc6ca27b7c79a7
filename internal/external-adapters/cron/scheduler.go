// Package cron drives scheduled workflow triggers with robfig/cron.
package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	robcron "github.com/robfig/cron/v3"

	"github.com/ochairo/scanmatrix/internal/domain/entities"
	"github.com/ochairo/scanmatrix/internal/domain/interfaces"
)

// standardParser accepts the five-field form used by workflow schedules.
// Descriptors such as @daily are rejected.
var standardParser = robcron.NewParser(robcron.Minute | robcron.Hour | robcron.Dom | robcron.Month | robcron.Dow)

// Parser validates and evaluates schedule expressions in UTC
type Parser struct{}

// NewParser creates a schedule parser
func NewParser() *Parser {
	return &Parser{}
}

// Validate reports whether expr is a valid five-field cron expression
func (p *Parser) Validate(expr string) error {
	if _, err := standardParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Next returns the first activation strictly after t, in UTC
func (p *Parser) Next(expr string, t time.Time) (time.Time, error) {
	schedule, err := standardParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule.Next(t.UTC()), nil
}

// DispatchFunc receives one scheduled tick for a workflow
type DispatchFunc func(ctx context.Context, workflow string, event entities.TriggerEvent)

// Entry is a registered workflow schedule
type Entry struct {
	Workflow string    `json:"workflow"`
	Cron     string    `json:"cron"`
	Next     time.Time `json:"next"`
}

// Scheduler emits scheduled ticks for registered workflows
type Scheduler struct {
	mu         sync.Mutex
	cron       *robcron.Cron
	entries    map[string]registered
	parser     *Parser
	repository string
	dispatch   DispatchFunc
	logger     interfaces.Logger
	ctx        context.Context
	cancel     context.CancelFunc
}

type registered struct {
	workflow string
	expr     string
	id       robcron.EntryID
}

// NewScheduler creates a scheduler. Ticks for the same schedule never overlap.
func NewScheduler(repository string, dispatch DispatchFunc, logger interfaces.Logger) *Scheduler {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: robcron.New(
			robcron.WithLocation(time.UTC),
			robcron.WithParser(standardParser),
			robcron.WithLogger(cl),
			robcron.WithChain(robcron.Recover(cl), robcron.SkipIfStillRunning(cl)),
		),
		entries:    make(map[string]registered),
		parser:     NewParser(),
		repository: repository,
		dispatch:   dispatch,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Register adds every schedule of a workflow. Registering the same
// workflow and expression twice is a no-op.
func (s *Scheduler) Register(workflow string, schedules []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, expr := range schedules {
		key := workflow + "\x00" + expr
		if _, ok := s.entries[key]; ok {
			continue
		}

		wf, cronExpr := workflow, expr
		id, err := s.cron.AddFunc(expr, func() { s.Fire(wf, cronExpr) })
		if err != nil {
			return fmt.Errorf("workflow %s: invalid cron expression %q: %w", workflow, expr, err)
		}
		s.entries[key] = registered{workflow: workflow, expr: expr, id: id}
		s.logger.Info("Registered schedule",
			interfaces.F("workflow", workflow),
			interfaces.F("cron", expr),
		)
	}
	return nil
}

// Fire emits one tick immediately
func (s *Scheduler) Fire(workflow, expr string) {
	event := entities.NewScheduledTick(s.repository, expr, "")
	s.logger.Info("Schedule fired",
		interfaces.F("workflow", workflow),
		interfaces.F("cron", expr),
	)
	s.dispatch(s.ctx, workflow, event)
}

// Entries lists registered schedules with their next activation
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	out := make([]Entry, 0, len(s.entries))
	for _, r := range s.entries {
		next := s.cron.Entry(r.id).Next
		if next.IsZero() {
			// Not started yet
			if n, err := s.parser.Next(r.expr, now); err == nil {
				next = n
			}
		}
		out = append(out, Entry{Workflow: r.workflow, Cron: r.expr, Next: next})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Next.Equal(out[j].Next) {
			return out[i].Next.Before(out[j].Next)
		}
		return out[i].Workflow < out[j].Workflow
	})
	return out
}

// Start begins emitting ticks in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler, cancels in-flight dispatches and waits for them
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// cronLogger adapts the domain logger to robfig/cron's logger
type cronLogger struct {
	logger interfaces.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append(kvFields(keysAndValues), interfaces.F("error", err))
	l.logger.Error("cron: "+msg, fields...)
}

func kvFields(kv []interface{}) []interfaces.Field {
	fields := make([]interfaces.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, interfaces.F(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
