package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/cuemby/herald/pkg/actions"
	"github.com/cuemby/herald/pkg/broadcast"
	"github.com/cuemby/herald/pkg/log"
	"github.com/cuemby/herald/pkg/metrics"
	"github.com/cuemby/herald/pkg/types"
	"github.com/rs/zerolog"
)

// ResultStore keeps the outputs of a task's actions
type ResultStore interface {
	StoreActionData(ctx context.Context, taskID string, kind actions.Kind, data any) (*types.ActionResult, error)
	GetActionData(ctx context.Context, taskID string) ([]types.ActionResult, error)
}

// StateReporter publishes task progress
type StateReporter interface {
	SetState(ctx context.Context, u broadcast.Update) (*types.AgentState, error)
	Announce(ctx context.Context, u broadcast.Update)
}

// Report is the outcome of running one task's plan
type Report struct {
	Success  bool
	Message  string
	Results  []types.ActionResult
	Warnings []actions.Warning
}

// Executor runs task plans action by action
type Executor struct {
	handlers actions.Handlers
	results  ResultStore
	states   StateReporter
	logger   zerolog.Logger
}

// New creates an executor
func New(handlers actions.Handlers, results ResultStore, states StateReporter) *Executor {
	return &Executor{
		handlers: handlers,
		results:  results,
		states:   states,
		logger:   log.WithComponent("executor"),
	}
}

// Run executes task's plan. Included actions run sequentially in ascending
// order; a failed action is recorded and the rest still run. Run never panics.
func (e *Executor) Run(ctx context.Context, task *types.Task) Report {
	logger := log.ForTask(e.logger, task.ID, task.UserID)

	plan, err := actions.ParsePlan(task.Plan)
	if err != nil {
		metrics.PlansExecuted.WithLabelValues("invalid").Inc()
		logger.Warn().Err(err).Msg("Rejected plan")
		// A rejected plan leaves the task's history untouched
		if e.states != nil {
			e.states.Announce(ctx, broadcast.Update{
				UserID:       task.UserID,
				TaskID:       task.ID,
				MessageID:    task.MessageID,
				State:        types.StateError,
				ErrorMessage: err.Error(),
			})
		}
		return Report{Success: false, Message: err.Error()}
	}

	for _, w := range plan.Warnings {
		logger.Warn().Str("action", w.Name).Msg(w.Message)
	}

	e.report(ctx, task, types.StateInitializing, "")

	var failures []string
	ran := 0
	for _, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			failures = append(failures, fmt.Sprintf("%s: not run: %v", step.Name, err))
			continue
		}

		desc, _ := actions.Describe(step.Action.Kind())
		e.report(ctx, task, desc.State, "")

		timer := metrics.NewTimer()
		out := e.dispatch(ctx, task, step)
		timer.ObserveDurationVec(metrics.ActionDuration, string(desc.Kind))
		metrics.ActionsExecuted.WithLabelValues(string(desc.Kind), metrics.Outcome(out.Success)).Inc()
		ran++

		if out.Data != nil {
			if _, err := e.results.StoreActionData(ctx, task.ID, desc.Kind, out.Data); err != nil {
				logger.Error().Err(err).Str("action", step.Name).Msg("Failed to store action result")
			}
		}

		if !out.Success {
			failures = append(failures, fmt.Sprintf("%s: %s", step.Name, out.Message))
			logger.Warn().Str("action", step.Name).Str("reason", out.Message).Msg("Action failed")
			continue
		}
		logger.Debug().Str("action", step.Name).Msg("Action completed")
	}

	results, err := e.results.GetActionData(ctx, task.ID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read action results")
	}

	rep := Report{
		Success:  len(failures) == 0,
		Results:  results,
		Warnings: plan.Warnings,
	}
	if rep.Success {
		rep.Message = fmt.Sprintf("executed %d actions", ran)
		e.report(ctx, task, types.StateCompleted, "")
	} else {
		rep.Message = fmt.Sprintf("%d of %d actions failed: %s", len(failures), len(plan.Steps), strings.Join(failures, "; "))
		e.report(ctx, task, types.StateError, rep.Message)
	}

	metrics.PlansExecuted.WithLabelValues(metrics.Outcome(rep.Success)).Inc()
	logger.Info().
		Bool("success", rep.Success).
		Int("actions", len(plan.Steps)).
		Int("warnings", len(plan.Warnings)).
		Msg("Plan executed")

	return rep
}

// dispatch runs one step, converting a handler panic into a failure
func (e *Executor) dispatch(ctx context.Context, task *types.Task, step actions.Step) (out actions.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = actions.Outcome{Success: false, Message: fmt.Sprintf("action panicked: %v", r)}
		}
	}()
	return e.handlers.Dispatch(ctx, task, step.Action)
}

func (e *Executor) report(ctx context.Context, task *types.Task, state types.StateLabel, errMsg string) {
	if e.states == nil {
		return
	}
	_, err := e.states.SetState(ctx, broadcast.Update{
		UserID:       task.UserID,
		TaskID:       task.ID,
		MessageID:    task.MessageID,
		State:        state,
		ErrorMessage: errMsg,
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("task_id", task.ID).Str("state", string(state)).Msg("Failed to report progress")
	}
}
