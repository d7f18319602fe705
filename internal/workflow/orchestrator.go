package workflow

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/rahul/toolflow/internal/observability"
)

// ConnectedApps resolves an entity's API user and its connected toolkits.
type ConnectedApps interface {
	EffectiveUserID(entityID string) string
	GetConnectedApps(ctx context.Context, entityID string) []string
}

// Request is one user message routed to the workflow.
type Request struct {
	EntityID            string
	Text                string
	ConversationContext string
	ResponseStyle       string
}

// Orchestrator runs extract, group and execute for a request.
type Orchestrator struct {
	apps      ConnectedApps
	extractor *Extractor
	executor  *Executor
	logger    *observability.Logger
}

func NewOrchestrator(apps ConnectedApps, extractor *Extractor, executor *Executor, logger *observability.Logger) *Orchestrator {
	return &Orchestrator{apps: apps, extractor: extractor, executor: executor, logger: logger}
}

// Handle fails only when the request as a whole is not actionable. Group
// failures are reported in the returned Report.
func (o *Orchestrator) Handle(ctx context.Context, req Request, emit Callback) (Report, error) {
	inv := Invocation{
		TaskID:              uuid.NewString(),
		EntityID:            req.EntityID,
		UserID:              o.apps.EffectiveUserID(req.EntityID),
		Request:             req.Text,
		ConversationContext: req.ConversationContext,
		ResponseStyle:       req.ResponseStyle,
	}

	connected := o.apps.GetConnectedApps(ctx, req.EntityID)
	steps, err := o.extractor.Extract(ctx, connected, req.ConversationContext, req.Text)
	if err != nil {
		log.Printf("[Workflow] %s: extraction failed: %v", inv.TaskID, err)
		return Report{TaskID: inv.TaskID}, err
	}
	o.logger.LogExtraction(inv.EntityID, inv.TaskID, steps)

	groups := GroupSteps(steps)
	log.Printf("[Workflow] %s: %d steps in %d groups", inv.TaskID, len(steps), len(groups))
	return o.executor.Run(ctx, inv, groups, emit), nil
}
