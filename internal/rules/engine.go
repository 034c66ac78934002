package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/rewards-engine/internal/model"
)

// DefaultConcurrency bounds in-flight AI judgments for a single rule.
const DefaultConcurrency = 5

// Store is the persistence the engine depends on.
type Store interface {
	ActiveRules(ctx context.Context) ([]model.Rule, error)
	GetRule(ctx context.Context, id string) (*model.Rule, error)
	// ListEvents returns the events with the given ids, or every event when
	// ids is empty.
	ListEvents(ctx context.Context, ids []string) ([]model.Event, error)
	GrantKeys(ctx context.Context) (map[model.GrantKey]struct{}, error)
	// CommitGrants inserts grants and applies per-employee point deltas in a
	// single transaction. A duplicate (rule, event) pair fails the whole
	// batch with model.ErrConflict.
	CommitGrants(ctx context.Context, grants []model.Grant, deltas map[string]int64) error
}

// Judge resolves AI-judged conditions. It never fails; failures are
// reported through Judgment.Err with Match false.
type Judge interface {
	Evaluate(ctx context.Context, c model.Condition, value any) model.Judgment
}

// RunObserver is notified after every processing run.
type RunObserver interface {
	ObserveRun(result model.ProcessResult, err error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithConcurrency sets the number of AI judgments in flight per rule.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithObserver registers a RunObserver.
func WithObserver(o RunObserver) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// Engine evaluates active rules against events and grants points.
type Engine struct {
	store       Store
	judge       Judge
	concurrency int
	observer    RunObserver
	now         func() time.Time
}

// NewEngine creates an Engine. judge may be nil, in which case AI-judged
// conditions never match.
func NewEngine(store Store, judge Judge, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		judge:       judge,
		concurrency: DefaultConcurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ProcessEvents evaluates every active rule against the given events (all
// events when eventIDs is empty) and commits the resulting grants
// atomically. Pairs that already have a grant are skipped.
func (e *Engine) ProcessEvents(ctx context.Context, eventIDs []string) (model.ProcessResult, error) {
	start := time.Now()
	result, err := e.process(ctx, eventIDs)
	result.DurationMs = model.Since(start)

	if e.observer != nil {
		e.observer.ObserveRun(result, err)
	}
	return result, err
}

func (e *Engine) process(ctx context.Context, eventIDs []string) (model.ProcessResult, error) {
	result := model.ProcessResult{Errors: []string{}}

	rules, err := e.store.ActiveRules(ctx)
	if err != nil {
		return result, eris.Wrap(err, "rules: load active rules")
	}
	if len(rules) == 0 {
		return result, nil
	}

	events, err := e.store.ListEvents(ctx, eventIDs)
	if err != nil {
		return result, eris.Wrap(err, "rules: load events")
	}
	result.TotalEvents = len(events)
	if len(events) == 0 {
		return result, nil
	}

	existing, err := e.store.GrantKeys(ctx)
	if err != nil {
		return result, eris.Wrap(err, "rules: load existing grants")
	}

	var grants []model.Grant
	deltas := make(map[string]int64)
	now := e.now()

	for _, ev := range events {
		record := Flatten(ev)

		for _, rule := range rules {
			if !rule.AppliesTo(ev.Type) {
				continue
			}
			result.TotalRulesEvaluated++

			key := model.GrantKey{RuleID: rule.ID, EventID: ev.ID}
			if _, ok := existing[key]; ok {
				result.SkippedExisting++
				continue
			}

			if !EvaluateAll(StaticConditions(rule.Conditions), record) {
				continue
			}

			if ai := AIConditions(rule.Conditions); len(ai) > 0 {
				match, err := e.judgeAll(ctx, ai, record)
				if err != nil {
					msg := fmt.Sprintf("LLM error for rule %s event %s: %s", rule.ID, ev.ID, err.Error())
					result.Errors = append(result.Errors, msg)
					zap.L().Warn("rule evaluation skipped",
						zap.String("rule_id", rule.ID),
						zap.String("event_id", ev.ID),
						zap.Error(err),
					)
					continue
				}
				if !match {
					continue
				}
			}

			grants = append(grants, model.Grant{
				ID:            uuid.New().String(),
				RuleID:        rule.ID,
				EmployeeID:    ev.EmployeeID,
				EventID:       ev.ID,
				PointsAwarded: rule.Points,
				CreatedAt:     now,
			})
			deltas[ev.EmployeeID] += rule.Points
		}
	}

	if len(grants) == 0 {
		return result, nil
	}

	if err := e.store.CommitGrants(ctx, grants, deltas); err != nil {
		zap.L().Error("grant commit failed, run rolled back",
			zap.Int("grants", len(grants)),
			zap.Error(err),
		)
		if errors.Is(err, model.ErrConflict) {
			return result, err
		}
		return result, eris.Wrap(err, "rules: commit grants")
	}

	result.GrantsCreated = len(grants)
	for _, d := range deltas {
		result.TotalPointsAwarded += d
	}

	zap.L().Info("processed events",
		zap.Int("events", result.TotalEvents),
		zap.Int("rules_evaluated", result.TotalRulesEvaluated),
		zap.Int("grants", result.GrantsCreated),
		zap.Int64("points", result.TotalPointsAwarded),
		zap.Int("skipped_existing", result.SkippedExisting),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

// judgeAll evaluates AI conditions with bounded concurrency. Every
// condition must match. The first judgment error is returned.
func (e *Engine) judgeAll(ctx context.Context, conds model.Conditions, record Record) (bool, error) {
	if e.judge == nil {
		return false, nil
	}

	judgments := make([]model.Judgment, len(conds))
	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for i, c := range conds {
		g.Go(func() error {
			value, _ := record.Get(c.FieldName())
			judgments[i] = e.judge.Evaluate(ctx, c, value)
			return nil
		})
	}
	_ = g.Wait()

	match := true
	for _, j := range judgments {
		if j.Err != nil {
			return false, j.Err
		}
		if !j.Match {
			match = false
		}
	}
	return match, nil
}

// SimulateRule dry-runs the stored rule id against record.
func (e *Engine) SimulateRule(ctx context.Context, id string, record map[string]any) (model.SimulationResult, error) {
	rule, err := e.store.GetRule(ctx, id)
	if err != nil {
		return model.SimulationResult{}, err
	}
	return Simulate(ctx, e.judge, rule.Conditions, Record(record)), nil
}
