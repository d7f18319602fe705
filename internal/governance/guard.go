package governance

import (
	"context"
	"log"

	"github.com/rahul/toolflow/internal/observability"
)

// Executor runs a tool call.
type Executor interface {
	Execute(ctx context.Context, userID, tool, arguments string) (any, error)
}

// GuardedExecutor evaluates every tool call before passing it on. A denied
// call yields an unsuccessful result instead of an error so the model can
// explain it.
type GuardedExecutor struct {
	next   Executor
	policy PolicyEngine
	logger *observability.Logger
}

// Guard wraps next with policy. Every decision is logged as a policy_check
// event when logger is non-nil.
func Guard(next Executor, policy PolicyEngine, logger *observability.Logger) *GuardedExecutor {
	return &GuardedExecutor{next: next, policy: policy, logger: logger}
}

func (g *GuardedExecutor) Execute(ctx context.Context, userID, tool, arguments string) (any, error) {
	res, err := g.policy.Evaluate(ctx, Request{Toolkit: ToolkitOf(tool), Tool: tool, ChatID: userID})
	if err != nil {
		return nil, err
	}
	g.logger.Log(observability.Event{
		Type:   observability.EventTypePolicyCheck,
		ChatID: userID,
		Data: map[string]any{
			"tool":    tool,
			"toolkit": ToolkitOf(tool),
			"effect":  res.Effect,
			"reason":  res.Reason,
		},
	})
	if !res.Allowed() {
		log.Printf("[Policy] Denied %s for %s: %s", tool, userID, res.Reason)
		return map[string]any{"successful": false, "error": res.Reason}, nil
	}
	return g.next.Execute(ctx, userID, tool, arguments)
}
