package workflow

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/rahul/toolflow/internal/composio"
)

// depGraphAttempts bounds the dependency graph fetch.
const depGraphAttempts = 2

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type graphSource interface {
	GetToolDependencyGraph(ctx context.Context, userID, tool string) (*composio.DependencyGraph, error)
}

// fetchDependencyGraph retries a server-class failure after attempt seconds.
// Any other outcome that is not a graph yields nil.
func fetchDependencyGraph(ctx context.Context, api graphSource, sleep Sleeper, userID, tool string) *composio.DependencyGraph {
	for attempt := 1; ; attempt++ {
		graph, err := api.GetToolDependencyGraph(ctx, userID, tool)
		if err == nil {
			return graph
		}
		if attempt >= depGraphAttempts || !isTransient(err) {
			log.Printf("[Workflow] Dependency graph unavailable for %s after %d attempt(s): %v", tool, attempt, err)
			return nil
		}
		if err := sleep(ctx, time.Duration(attempt)*time.Second); err != nil {
			return nil
		}
	}
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *composio.APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsServerError()
	}
	// Transport failures never reached the server.
	return true
}
