package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/rahul/toolflow/internal/history"
	"github.com/rahul/toolflow/internal/llm"
	"github.com/rahul/toolflow/internal/observability"
	"golang.org/x/sync/errgroup"
)

const emptyResponseText = "I executed the requested tools but couldn't generate a proper response."

// GroupPreparer prepares one group. *Preparer implements it.
type GroupPreparer interface {
	Prepare(ctx context.Context, inv Invocation, g ToolkitGroup) (*PreparedGroup, error)
}

type ExecutorConfig struct {
	ExecutionTemperature float64
	NarrationTemperature float64
}

// Executor prepares every group at once, then runs them in order.
type Executor struct {
	preparer GroupPreparer
	caller   llm.ToolCaller
	narrator llm.Generator
	history  *history.Store
	logger   *observability.Logger
	cfg      ExecutorConfig
}

func NewExecutor(preparer GroupPreparer, caller llm.ToolCaller, narrator llm.Generator, store *history.Store, logger *observability.Logger, cfg ExecutorConfig) *Executor {
	return &Executor{
		preparer: preparer,
		caller:   caller,
		narrator: narrator,
		history:  store,
		logger:   logger,
		cfg:      cfg,
	}
}

type preparation struct {
	group *PreparedGroup
	err   error
}

// Run always attempts every group and returns a Done report. A failed group
// is reported through emit and does not stop the ones after it.
func (e *Executor) Run(ctx context.Context, inv Invocation, groups []ToolkitGroup, emit Callback) Report {
	report := Report{TaskID: inv.TaskID, State: StatePreparing}

	preps := make([]preparation, len(groups))
	var eg errgroup.Group
	for i, g := range groups {
		eg.Go(func() error {
			pg, err := e.preparer.Prepare(ctx, inv, g)
			preps[i] = preparation{group: pg, err: err}
			if err != nil {
				e.logger.LogGroup(observability.EventTypeGroupFailed, inv.EntityID, inv.TaskID, i, g.Toolkit, map[string]any{"phase": "prepare", "error": err.Error()})
				return nil
			}
			e.logger.LogGroup(observability.EventTypeGroupPrepared, inv.EntityID, inv.TaskID, i, g.Toolkit, map[string]any{"tools": pg.Tools.Names()})
			return nil
		})
	}
	_ = eg.Wait()

	report.State = StateExecuting
	var previous []PreviousStepResult
	for i, g := range groups {
		outcome := GroupOutcome{Index: i, Toolkit: g.Toolkit}
		if err := preps[i].err; err != nil {
			outcome.Err = err
			outcome.Text = failureText(g, err)
		} else {
			step, err := e.executeGroup(ctx, inv, preps[i].group, i, len(groups), previous)
			if err != nil {
				outcome.Err = err
				outcome.Text = failureText(g, err)
				e.logger.LogGroup(observability.EventTypeGroupFailed, inv.EntityID, inv.TaskID, i, g.Toolkit, map[string]any{"phase": "execute", "error": err.Error()})
			} else {
				previous = append(previous, step)
				outcome.Text = step.ResponseText
				if i < len(groups)-1 {
					outcome.Text += "\n\n" + e.narrate(ctx, inv, g, groups[i+1], step.ResponseText)
				}
				e.logger.LogGroup(observability.EventTypeGroupDone, inv.EntityID, inv.TaskID, i, g.Toolkit, map[string]any{"results": len(step.ToolResults)})
			}
		}
		report.Outcomes = append(report.Outcomes, outcome)

		if emit != nil {
			err := emit(ctx, Emission{GroupIndex: i, Toolkit: g.Toolkit, Text: outcome.Text, Failed: outcome.Failed()})
			if err != nil {
				log.Printf("[Workflow] Failed to deliver group %d response: %v", i+1, err)
			}
		}
	}

	report.State = StateDone
	e.logger.Log(observability.Event{
		Type:   observability.EventTypeWorkflowDone,
		ChatID: inv.EntityID,
		TaskID: inv.TaskID,
		Data:   map[string]any{"groups": len(groups), "succeeded": report.Succeeded(), "failed": report.Failed()},
	})
	return report
}

func (e *Executor) executeGroup(ctx context.Context, inv Invocation, g *PreparedGroup, index, total int, previous []PreviousStepResult) (PreviousStepResult, error) {
	prompt := stepPrompt(stepPromptInput{inv: inv, group: g, index: index, total: total, previous: previous})
	resp, err := e.caller.GenerateWithTools(ctx, llm.ToolRequest{
		Prompt:      prompt,
		UserID:      inv.UserID,
		Tools:       g.Tools,
		ToolChoice:  llm.ToolChoiceAuto,
		Temperature: e.cfg.ExecutionTemperature,
		ChatID:      inv.EntityID,
		TaskID:      inv.TaskID,
	})
	if err != nil {
		return PreviousStepResult{}, &StepExecutionError{Index: index, Toolkit: g.Toolkit, Err: err}
	}

	text := strings.TrimSpace(llm.ResultText(resp))
	if text == "" {
		text = emptyResponseText
	}

	var all, successful []history.ToolResult
	if r, ok := resp.(llm.ToolCallResult); ok {
		for _, res := range r.Results {
			tr := history.ToolResult{Tool: res.ToolName, Result: res.Result}
			all = append(all, tr)
			if llm.IsSuccessful(res.Result) {
				successful = append(successful, tr)
			}
		}
	}
	useCase := joinUseCases(g.UseCases)
	if len(successful) > 0 && e.history != nil {
		e.history.StoreExecution(inv.EntityID, g.Toolkit, useCase, successful)
	}

	return PreviousStepResult{
		Group:        g.Toolkit,
		UseCase:      useCase,
		ResponseText: truncateText(text, maxIntermediateText),
		ToolResults:  all,
	}, nil
}

// narrate never fails; a model error falls back to a fixed sentence.
func (e *Executor) narrate(ctx context.Context, inv Invocation, done, next ToolkitGroup, result string) string {
	fallback := fmt.Sprintf("Completed %s", done.Toolkit)
	if e.narrator == nil {
		return fallback
	}
	resp, err := e.narrator.Generate(ctx, narrationPrompt(inv, done, next, result), llm.WithTemperature(e.cfg.NarrationTemperature), llm.WithTask(inv.EntityID, inv.TaskID))
	if err != nil {
		log.Printf("[Workflow] Narration failed after %s: %v", done.Toolkit, err)
		return fallback
	}
	text := strings.TrimSpace(llm.Text(resp))
	if text == "" {
		return fallback
	}
	e.logger.Log(observability.Event{Type: observability.EventTypeNarration, ChatID: inv.EntityID, TaskID: inv.TaskID, Data: text})
	return text
}

func failureText(g ToolkitGroup, err error) string {
	steps := joinUseCases(g.UseCases)
	switch {
	case errors.Is(err, ErrNoToolsFound):
		return fmt.Sprintf("I couldn't find any %s tools to %s.", g.Toolkit, steps)
	default:
		return fmt.Sprintf("Something went wrong while trying to %s with %s.", steps, g.Toolkit)
	}
}
