// Package workflow turns a free-form request into ordered toolkit steps,
// prepares the tools each step needs and runs the steps one after another
// against a tool-calling model.
package workflow

import (
	"context"

	"github.com/rahul/toolflow/internal/composio"
	"github.com/rahul/toolflow/internal/history"
	"github.com/rahul/toolflow/internal/tools"
)

// ExtractedStep is one {toolkit, use case} pair. Order is execution order.
type ExtractedStep struct {
	Toolkit string `json:"name"`
	UseCase string `json:"use_case"`
}

// ToolkitGroup holds use cases that were contiguous for the same toolkit.
type ToolkitGroup struct {
	Toolkit  string
	UseCases []string
}

// PreparedGroup is a group with everything the model needs to run it.
type PreparedGroup struct {
	ToolkitGroup
	Tools              tools.Set
	DependencyGraphs   []composio.DependencyGraph
	Plan               *composio.WorkflowPlan
	PreviousExecutions []history.ToolExecution
}

// PreviousStepResult carries a finished group forward within one invocation.
type PreviousStepResult struct {
	Group        string
	UseCase      string
	ResponseText string
	ToolResults  []history.ToolResult
}

// Invocation identifies one workflow run.
type Invocation struct {
	TaskID   string
	EntityID string
	// UserID is the remote API user the entity maps to.
	UserID              string
	Request             string
	ConversationContext string
	ResponseStyle       string
}

type State string

const (
	StatePreparing State = "preparing"
	StateExecuting State = "executing"
	StateDone      State = "done"
)

// GroupOutcome is the result of one group. Err is set when the group failed.
type GroupOutcome struct {
	Index   int
	Toolkit string
	Text    string
	Err     error
}

func (o GroupOutcome) Failed() bool { return o.Err != nil }

// Report summarises an invocation.
type Report struct {
	TaskID   string
	State    State
	Outcomes []GroupOutcome
}

func (r Report) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.Failed() {
			n++
		}
	}
	return n
}

func (r Report) Failed() int {
	return len(r.Outcomes) - r.Succeeded()
}

// Emission is one message sent back to the user.
type Emission struct {
	GroupIndex int
	Toolkit    string
	Text       string
	Failed     bool
}

// Callback delivers emissions to the conversation.
type Callback func(ctx context.Context, e Emission) error
